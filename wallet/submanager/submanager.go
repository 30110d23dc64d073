// Package submanager multiplexes JSON-RPC subscriptions over the
// mint's WebSocket endpoint: subscribe/unsubscribe requests,
// notification dispatch, heartbeat supervision and policy-driven
// reconnection.
package submanager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut17"
	"github.com/gorilla/websocket"
)

var (
	ErrNUT17NotSupported = errors.New("NUT-17 not supported")
	ErrClosed            = errors.New("subscription manager closed")
)

// Config tunes connection supervision.
type Config struct {
	Reconnect ReconnectStrategy
	// interval between pings; 0 disables the heartbeat
	PingInterval time.Duration
	// consecutive ping failures before the connection is torn down
	MaxHeartbeatFailures int
	// bound on messages queued while disconnected
	MaxQueueSize int
	// how long to wait for the mint to acknowledge a subscription
	SubscribeTimeout time.Duration

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Reconnect:            DefaultExponentialBackoff(),
		PingInterval:         30 * time.Second,
		MaxHeartbeatFailures: 3,
		MaxQueueSize:         64,
		SubscribeTimeout:     10 * time.Second,
		Logger:               slog.Default(),
	}
}

// dialer lets tests swap the websocket transport.
type dialer func(wsURL string) (wsConn, error)

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

func gorillaDialer(wsURL string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// SubscriptionManager owns one WebSocket connection per mint and
// fans notifications out to subscriptions by subId.
type SubscriptionManager struct {
	wsURL  string
	config Config
	dial   dialer

	mu               sync.RWMutex
	conn             wsConn
	subs             map[string]*Subscription
	idCounter        int
	supportedMethods []nut17.SupportedMethod
	queue            *outboundQueue
	closed           bool

	quit chan struct{}
	done chan struct{}
}

// WsURL converts a mint http(s) url to its ws(s) /v1/ws endpoint.
func WsURL(mint string) (string, error) {
	mintURL, err := url.Parse(mint)
	if err != nil {
		return "", fmt.Errorf("invalid mint url: %v", err)
	}

	scheme := "ws"
	if mintURL.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + mintURL.Host + mintURL.Path + "/v1/ws", nil
}

// NewSubscriptionManager connects to the mint's WebSocket endpoint.
// The caller supplies the NUT-17 methods advertised in mint info; an
// empty list means the mint does not support subscriptions.
func NewSubscriptionManager(mint string, supported []nut17.SupportedMethod, config Config) (*SubscriptionManager, error) {
	if len(supported) == 0 {
		return nil, ErrNUT17NotSupported
	}

	wsURL, err := WsURL(mint)
	if err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Reconnect == nil {
		config.Reconnect = NoReconnect{}
	}

	sm := &SubscriptionManager{
		wsURL:            wsURL,
		config:           config,
		dial:             gorillaDialer,
		subs:             make(map[string]*Subscription),
		supportedMethods: supported,
		queue:            newOutboundQueue(config.MaxQueueSize),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	conn, err := sm.dial(wsURL)
	if err != nil {
		return nil, err
	}
	sm.conn = conn

	return sm, nil
}

// Run reads the connection until Close is called, reconnecting per
// the configured strategy. It should be run on its own goroutine; a
// terminal connection failure is sent on errChannel.
func (sm *SubscriptionManager) Run(errChannel chan error) {
	defer close(sm.done)

	for {
		readErr := sm.readLoop()
		if readErr == nil {
			// clean shutdown
			return
		}

		if !sm.reconnect() {
			errChannel <- readErr
			return
		}
	}
}

// readLoop pumps messages off the current connection until it fails
// or the manager closes. A heartbeat goroutine supervises liveness.
func (sm *SubscriptionManager) readLoop() error {
	sm.mu.RLock()
	conn := sm.conn
	sm.mu.RUnlock()

	heartbeatDone := make(chan struct{})
	if sm.config.PingInterval > 0 {
		go sm.heartbeat(conn, heartbeatDone)
	}
	defer close(heartbeatDone)

	for {
		select {
		case <-sm.quit:
			return nil
		default:
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-sm.quit:
					return nil
				default:
					return err
				}
			}
			sm.dispatch(msg)
		}
	}
}

// heartbeat pings until the connection dies or the read loop exits.
// After MaxHeartbeatFailures consecutive failures the connection is
// closed, which wakes the read loop into reconnection.
func (sm *SubscriptionManager) heartbeat(conn wsConn, done chan struct{}) {
	ticker := time.NewTicker(sm.config.PingInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-done:
			return
		case <-sm.quit:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				failures++
				if failures >= sm.config.MaxHeartbeatFailures {
					sm.config.Logger.Warn("heartbeat failed, tearing down connection",
						"failures", failures)
					conn.Close()
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

// reconnect dials per the strategy and resubscribes everything that
// was active. Returns false when the strategy gives up or the manager
// closed.
func (sm *SubscriptionManager) reconnect() bool {
	for attempt := 1; ; attempt++ {
		delay, ok := sm.config.Reconnect.Delay(attempt)
		if !ok {
			return false
		}

		select {
		case <-sm.quit:
			return false
		case <-time.After(delay):
		}

		conn, err := sm.dial(sm.wsURL)
		if err != nil {
			sm.config.Logger.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
			continue
		}

		sm.mu.Lock()
		sm.conn = conn
		subs := make([]*Subscription, 0, len(sm.subs))
		for _, sub := range sm.subs {
			subs = append(subs, sub)
		}
		sm.mu.Unlock()

		sm.config.Logger.Info("reconnected to mint websocket", "attempt", attempt)

		// replay pending outbound messages, then renew subscriptions
		for _, msg := range sm.queue.drain() {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sm.config.Logger.Warn("could not flush queued message", "err", err)
			}
		}
		for _, sub := range subs {
			request := nut17.WsRequest{
				JsonRPC: nut17.JSONRPC_2,
				Method:  nut17.SUBSCRIBE,
				Params: nut17.RequestParams{
					Kind:    sub.kind.String(),
					SubId:   sub.subId,
					Filters: sub.filters,
				},
				Id: sm.nextId(),
			}
			if err := sm.writeJSON(request); err != nil {
				sm.config.Logger.Warn("could not renew subscription", "subId", sub.subId, "err", err)
			}
		}

		return true
	}
}

func (sm *SubscriptionManager) nextId() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	id := sm.idCounter
	sm.idCounter++
	return id
}

// writeJSON sends a message on the live connection, queueing it when
// disconnected.
func (sm *SubscriptionManager) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	sm.mu.RLock()
	conn := sm.conn
	closed := sm.closed
	sm.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		sm.queue.push(data)
		return nil
	}
	return nil
}

func (sm *SubscriptionManager) dispatch(msg []byte) {
	var notification nut17.WsNotification
	if err := json.Unmarshal(msg, &notification); err == nil {
		sm.mu.RLock()
		sub, ok := sm.subs[notification.Params.SubId]
		sm.mu.RUnlock()
		if ok {
			select {
			case sub.notificationChannel <- notification:
			default:
				// slow consumer; drop rather than stall the read loop
			}
			return
		}
	}

	var response nut17.WsResponse
	if err := json.Unmarshal(msg, &response); err == nil {
		sm.mu.RLock()
		for _, sub := range sm.subs {
			if sub.id == response.Id {
				select {
				case sub.responseChannel <- response:
				default:
				}
			}
		}
		sm.mu.RUnlock()
		return
	}

	var wsError nut17.WsError
	if err := json.Unmarshal(msg, &wsError); err == nil {
		sm.mu.RLock()
		for _, sub := range sm.subs {
			if sub.id == wsError.Id {
				select {
				case sub.errChannel <- wsError:
				default:
				}
			}
		}
		sm.mu.RUnlock()
	}
}

func (sm *SubscriptionManager) Close() error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return nil
	}
	sm.closed = true
	conn := sm.conn
	sm.mu.Unlock()

	close(sm.quit)
	if err := conn.Close(); err != nil {
		return err
	}
	return nil
}

func (sm *SubscriptionManager) removeSubscription(id string) {
	sm.mu.Lock()
	delete(sm.subs, id)
	sm.mu.Unlock()
}

// QueuedMessages reports the outbound queue length.
func (sm *SubscriptionManager) QueuedMessages() int {
	return sm.queue.len()
}

func (sm *SubscriptionManager) Subscribe(kind nut17.SubscriptionKind, filters []string) (*Subscription, error) {
	if len(filters) < 1 {
		return nil, errors.New("filters cannot be empty")
	}

	if !sm.IsSubscriptionKindSupported(kind) {
		return nil, fmt.Errorf("subscription to %s not supported by mint", kind)
	}

	id := sm.nextId()
	hash := sha256.Sum256([]byte(filters[0]))
	subId := hex.EncodeToString(hash[:])

	sub := &Subscription{
		id:                  id,
		subId:               subId,
		kind:                kind,
		filters:             filters,
		responseChannel:     make(chan nut17.WsResponse, 1),
		notificationChannel: make(chan nut17.WsNotification, 8),
		errChannel:          make(chan nut17.WsError, 1),
	}

	sm.mu.Lock()
	sm.subs[subId] = sub
	sm.mu.Unlock()

	request := nut17.WsRequest{
		JsonRPC: nut17.JSONRPC_2,
		Method:  nut17.SUBSCRIBE,
		Params: nut17.RequestParams{
			Kind:    kind.String(),
			SubId:   subId,
			Filters: filters,
		},
		Id: id,
	}
	if err := sm.writeJSON(request); err != nil {
		sm.removeSubscription(subId)
		return nil, fmt.Errorf("could not send request for subscription: %v", err)
	}

	timeout := sm.config.SubscribeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	select {
	case response := <-sub.responseChannel:
		if response.Result.Status == nut17.OK {
			return sub, nil
		}
	case err := <-sub.errChannel:
		sm.removeSubscription(subId)
		return nil, fmt.Errorf("could not setup subscription to mint: %v", err.Error())
	case <-time.After(timeout):
		sm.removeSubscription(subId)
		return nil, errors.New("could not setup subscription to mint")
	}

	sm.removeSubscription(subId)
	return nil, errors.New("could not setup subscription to mint")
}

func (sm *SubscriptionManager) CloseSubscription(subId string) error {
	sm.mu.RLock()
	_, ok := sm.subs[subId]
	sm.mu.RUnlock()
	if !ok {
		return errors.New("subscription does not exist")
	}

	request := nut17.WsRequest{
		JsonRPC: nut17.JSONRPC_2,
		Method:  nut17.UNSUBSCRIBE,
		Params: nut17.RequestParams{
			SubId: subId,
		},
		Id: sm.nextId(),
	}

	if err := sm.writeJSON(request); err != nil {
		return fmt.Errorf("could not send unsubscribe request to mint: %v", err)
	}
	sm.removeSubscription(subId)

	return nil
}

func (sm *SubscriptionManager) IsSubscriptionKindSupported(kind nut17.SubscriptionKind) bool {
	for _, method := range sm.supportedMethods {
		if method.Method == cashu.BOLT11_METHOD {
			if slices.Contains(method.Commands, kind.String()) {
				return true
			}
		}
	}
	return false
}

type Subscription struct {
	subId   string
	id      int
	kind    nut17.SubscriptionKind
	filters []string

	responseChannel     chan nut17.WsResponse
	notificationChannel chan nut17.WsNotification
	errChannel          chan nut17.WsError
}

// Read blocks for the next notification on the subscription.
func (s *Subscription) Read() (nut17.WsNotification, error) {
	msg, ok := <-s.notificationChannel
	if !ok {
		return nut17.WsNotification{}, errors.New("could not read from subscription. Channel got closed")
	}
	return msg, nil
}

// ReadPayload reads the next notification and decodes its payload
// according to the subscription kind.
func (s *Subscription) ReadPayload() (nut17.Payload, error) {
	notification, err := s.Read()
	if err != nil {
		return nut17.Payload{}, err
	}
	return notification.DecodePayload(s.kind)
}

func (s *Subscription) SubId() string {
	return s.subId
}

func (s *Subscription) Kind() nut17.SubscriptionKind {
	return s.kind
}
