package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut01"
	"github.com/cashukit/cashukit/cashu/nuts/nut02"
	"github.com/cashukit/cashukit/cashu/nuts/nut03"
	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/cashu/nuts/nut06"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	"github.com/cashukit/cashukit/cashu/nuts/nut09"
	"github.com/cashukit/cashukit/resilience"
)

// Client talks to the mint HTTP surface. Every request passes through
// the resilience layer: circuit breaker, rate limiter and retry
// policy. Mutating requests carry an Idempotency-Key stable across
// retries of the same logical operation.
type Client struct {
	httpClient *http.Client
	retry      resilience.RetryPolicy
	limiter    *resilience.RateLimiter
	breaker    *resilience.CircuitBreaker
	keys       resilience.KeyProvider
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithRetryPolicy(policy resilience.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

func WithRateLimiter(limiter *resilience.RateLimiter) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
	}
}

func WithCircuitBreaker(breaker *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = breaker
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.NewRetryPolicy(),
		limiter:    resilience.NewRateLimiter(10, 20),
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig()),
		keys:       resilience.NewUUIDKeyProvider(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ValidateMintURL checks the mint url has an http(s) scheme and a host.
func ValidateMintURL(mintURL string) error {
	parsed, err := url.Parse(mintURL)
	if err != nil {
		return cashu.ErrInvalidMintURL.WithDetail(err.Error())
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return cashu.ErrInvalidMintURL.WithDetail(mintURL)
	}
	return nil
}

func endpointKey(mintURL, path string) string {
	return strings.TrimSuffix(mintURL, "/") + path
}

// do runs one resilient request round: breaker check, rate limit
// wait, the attempt itself, and state recording. It is called inside
// the retry loop.
func (c *Client) do(ctx context.Context, method, mintURL, path string, body []byte, header http.Header) ([]byte, error) {
	key := endpointKey(mintURL, path)

	if !c.breaker.AllowRequest(key) {
		return nil, cashu.ErrMintUnavailable.WithDetail("circuit breaker open for " + key)
	}
	if err := c.limiter.WaitForAvailability(ctx, key); err != nil {
		return nil, err
	}
	c.limiter.RecordRequest(key)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, key, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure(key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cashu.ErrConnectionFailed.WithDetail(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure(key)
		return nil, cashu.ErrNetwork.WithDetail(err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.breaker.RecordSuccess(key)
		return respBody, nil
	case resp.StatusCode == http.StatusBadRequest:
		// the mint answered with a protocol error envelope; the
		// endpoint itself is healthy
		c.breaker.RecordSuccess(key)
		var errResponse cashu.Error
		if err := json.Unmarshal(respBody, &errResponse); err != nil {
			return nil, cashu.HttpError(string(respBody), resp.StatusCode)
		}
		return nil, errResponse
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.breaker.RecordFailure(key)
		return nil, cashu.HttpError(string(respBody), resp.StatusCode)
	default:
		c.breaker.RecordSuccess(key)
		return nil, cashu.HttpError(string(respBody), resp.StatusCode)
	}
}

func (c *Client) get(ctx context.Context, mintURL, path string, v any) error {
	body, err := resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		respBody, err := c.do(ctx, http.MethodGet, mintURL, path, nil, nil)
		if err != nil {
			c.logger.Debug("mint request failed", "method", "GET", "path", path, "err", err)
		}
		return respBody, err
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

// post sends a mutating request. The operation id keys the
// idempotency header so every retry of the same logical operation
// carries the same key.
func (c *Client) post(ctx context.Context, mintURL, path, operation string, reqBody, v any) error {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}

	header := make(http.Header)
	resilience.EnsureIdempotencyKey(header, c.keys, operation)

	body, err := resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		respBody, err := c.do(ctx, http.MethodPost, mintURL, path, jsonBody, header)
		if err != nil {
			c.logger.Debug("mint request failed", "method", "POST", "path", path, "err", err)
		}
		return respBody, err
	})
	if err != nil {
		return err
	}
	c.keys.Release(operation)

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

func (c *Client) GetMintInfo(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	var mintInfo nut06.MintInfo
	if err := c.get(ctx, mintURL, "/v1/info", &mintInfo); err != nil {
		return nil, err
	}
	return &mintInfo, nil
}

func (c *Client) GetActiveKeysets(ctx context.Context, mintURL string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := c.get(ctx, mintURL, "/v1/keys", &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func (c *Client) GetAllKeysets(ctx context.Context, mintURL string) (*nut02.GetKeysetsResponse, error) {
	var keysetsRes nut02.GetKeysetsResponse
	if err := c.get(ctx, mintURL, "/v1/keysets", &keysetsRes); err != nil {
		return nil, err
	}
	return &keysetsRes, nil
}

func (c *Client) GetKeysetById(ctx context.Context, mintURL, id string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := c.get(ctx, mintURL, "/v1/keys/"+id, &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func (c *Client) PostMintQuoteBolt11(ctx context.Context, mintURL string,
	request nut04.PostMintQuoteBolt11Request) (*nut04.PostMintQuoteBolt11Response, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut04.PostMintQuoteBolt11Response
	operation := fmt.Sprintf("mint-quote:%s:%d", mintURL, request.Amount)
	if err := c.post(ctx, mintURL, "/v1/mint/quote/bolt11", operation, request, &response); err != nil {
		return nil, err
	}
	if err := response.Validate(); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(err.Error())
	}
	return &response, nil
}

func (c *Client) GetMintQuoteState(ctx context.Context, mintURL, quoteId string) (
	*nut04.PostMintQuoteBolt11Response, error) {

	var response nut04.PostMintQuoteBolt11Response
	if err := c.get(ctx, mintURL, "/v1/mint/quote/bolt11/"+quoteId, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) PostMintBolt11(ctx context.Context, mintURL string,
	request nut04.PostMintBolt11Request) (*nut04.PostMintBolt11Response, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut04.PostMintBolt11Response
	operation := "mint:" + request.Quote
	if err := c.post(ctx, mintURL, "/v1/mint/bolt11", operation, request, &response); err != nil {
		return nil, err
	}
	if err := response.Validate(); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(err.Error())
	}
	return &response, nil
}

func (c *Client) PostSwap(ctx context.Context, mintURL string,
	request nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut03.PostSwapResponse
	Ys, err := request.Inputs.Ys()
	if err != nil {
		return nil, err
	}
	operation := "swap:" + Ys[0]
	if err := c.post(ctx, mintURL, "/v1/swap", operation, request, &response); err != nil {
		return nil, err
	}
	if err := response.Validate(); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(err.Error())
	}
	return &response, nil
}

func (c *Client) PostMeltQuoteBolt11(ctx context.Context, mintURL string,
	request nut05.PostMeltQuoteBolt11Request) (*nut05.PostMeltQuoteBolt11Response, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut05.PostMeltQuoteBolt11Response
	operation := "melt-quote:" + request.Request
	if err := c.post(ctx, mintURL, "/v1/melt/quote/bolt11", operation, request, &response); err != nil {
		return nil, err
	}
	if err := response.Validate(); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(err.Error())
	}
	return &response, nil
}

func (c *Client) GetMeltQuoteState(ctx context.Context, mintURL, quoteId string) (
	*nut05.PostMeltQuoteBolt11Response, error) {

	var response nut05.PostMeltQuoteBolt11Response
	if err := c.get(ctx, mintURL, "/v1/melt/quote/bolt11/"+quoteId, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) PostMeltBolt11(ctx context.Context, mintURL string,
	request nut05.PostMeltBolt11Request) (*nut05.PostMeltQuoteBolt11Response, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut05.PostMeltQuoteBolt11Response
	operation := "melt:" + request.Quote
	if err := c.post(ctx, mintURL, "/v1/melt/bolt11", operation, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) PostCheckProofState(ctx context.Context, mintURL string,
	request nut07.PostCheckStateRequest) (*nut07.PostCheckStateResponse, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut07.PostCheckStateResponse
	operation := "checkstate:" + request.Ys[0]
	if err := c.post(ctx, mintURL, "/v1/checkstate", operation, request, &response); err != nil {
		return nil, err
	}
	if err := response.Validate(); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(err.Error())
	}
	return &response, nil
}

func (c *Client) PostRestore(ctx context.Context, mintURL string,
	request nut09.PostRestoreRequest) (*nut09.PostRestoreResponse, error) {

	if err := request.Validate(); err != nil {
		return nil, err
	}

	var response nut09.PostRestoreResponse
	operation := "restore:" + request.Outputs[0].B_
	if err := c.post(ctx, mintURL, "/v1/restore", operation, request, &response); err != nil {
		return nil, err
	}
	if err := response.Validate(); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(err.Error())
	}
	return &response, nil
}
