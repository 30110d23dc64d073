// Package wallet implements the Cashu wallet session: proof
// management, mint/melt/swap/send/receive workflows, deterministic
// secret derivation and restoration.
package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut03"
	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	"github.com/cashukit/cashukit/cashu/nuts/nut12"
	"github.com/cashukit/cashukit/cashu/nuts/nut13"
	"github.com/cashukit/cashukit/cashu/nuts/nut20"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/wallet/proofstore"
	"github.com/cashukit/cashukit/wallet/storage"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

type Config struct {
	WalletPath     string
	CurrentMintURL string
}

// Wallet is the session object owning the proof store, the counter
// ledger, the mint client and the keyset caches. Pure components
// (crypto, codecs, conditions) are reached as functions.
type Wallet struct {
	db      storage.WalletDB
	proofs  proofstore.Store
	manager *ProofManager
	client  *Client
	logger  *slog.Logger

	unit      cashu.Unit
	masterKey *hdkeychain.ExtendedKey
	mnemonic  string

	mu          sync.RWMutex
	currentMint *walletMint
	mints       map[string]*walletMint
}

// walletMint is the wallet's view of one mint: its active keyset plus
// any inactive keysets proofs may still reference.
type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

func InitStorage(path string) (*storage.BoltDB, error) {
	return storage.InitBolt(path)
}

// LoadWallet sets up the wallet at config.WalletPath, creating the
// database and mnemonic on first run, and loads the keysets of the
// configured mint.
func LoadWallet(ctx context.Context, config Config) (*Wallet, error) {
	if err := ValidateMintURL(config.CurrentMintURL); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(config.WalletPath, 0700); err != nil {
		return nil, err
	}

	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	proofs, err := proofstore.NewBoltStore(db.Bolt())
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		db:      db,
		proofs:  proofs,
		manager: NewProofManager(proofs),
		client:  NewClient(),
		logger:  slog.Default(),
		unit:    cashu.Sat,
		mints:   make(map[string]*walletMint),
	}

	mnemonic, err := db.LoadMnemonic()
	if err != nil {
		return nil, err
	}
	if mnemonic == "" {
		mnemonic, err = nut13.NewMnemonic(128)
		if err != nil {
			return nil, err
		}
		if err := db.SaveMnemonic(mnemonic); err != nil {
			return nil, err
		}
	}
	wallet.mnemonic = mnemonic

	masterKey, err := nut13.MasterKeyFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	wallet.masterKey = masterKey

	// load previously known keysets
	for mintURL, keysets := range db.GetKeysets() {
		mint := &walletMint{
			mintURL:         mintURL,
			inactiveKeysets: make(map[string]crypto.WalletKeyset),
		}
		for _, keyset := range keysets {
			if keyset.Active {
				mint.activeKeyset = keyset
			} else {
				mint.inactiveKeysets[keyset.Id] = keyset
			}
		}
		wallet.mints[mintURL] = mint
	}

	currentMint, err := wallet.addMint(ctx, config.CurrentMintURL)
	if err != nil {
		// offline start is fine when the mint was seen before
		cached, ok := wallet.mints[config.CurrentMintURL]
		if !ok {
			return nil, fmt.Errorf("error adding mint: %w", err)
		}
		wallet.logger.Warn("could not refresh mint keysets", "mint", config.CurrentMintURL, "err", err)
		currentMint = cached
	}
	wallet.currentMint = currentMint

	return wallet, nil
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

func (w *Wallet) Mnemonic() string {
	return w.mnemonic
}

func (w *Wallet) CurrentMint() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentMint.mintURL
}

// AddMint fetches the keysets of a mint and tracks it in the wallet.
func (w *Wallet) AddMint(ctx context.Context, mintURL string) error {
	_, err := w.addMint(ctx, mintURL)
	return err
}

func (w *Wallet) addMint(ctx context.Context, mintURL string) (*walletMint, error) {
	if err := ValidateMintURL(mintURL); err != nil {
		return nil, err
	}

	activeKeyset, err := w.client.GetMintActiveKeyset(ctx, mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	inactiveKeysets, err := w.client.GetMintInactiveKeysets(ctx, mintURL, w.unit)
	if err != nil {
		return nil, err
	}

	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return nil, err
	}
	for _, keyset := range inactiveKeysets {
		keysetCopy := keyset
		if err := w.db.SaveKeyset(&keysetCopy); err != nil {
			return nil, err
		}
	}

	mint := &walletMint{
		mintURL:         mintURL,
		activeKeyset:    *activeKeyset,
		inactiveKeysets: inactiveKeysets,
	}

	w.mu.Lock()
	w.mints[mintURL] = mint
	w.mu.Unlock()

	return mint, nil
}

// activeKeyset returns the cached active keyset of the current mint.
func (w *Wallet) activeKeyset() crypto.WalletKeyset {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentMint.activeKeyset
}

// keysetsById collects every keyset the wallet knows, for fee lookups.
func (w *Wallet) keysetsById() map[string]crypto.WalletKeyset {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keysets := make(map[string]crypto.WalletKeyset)
	for _, mint := range w.mints {
		keysets[mint.activeKeyset.Id] = mint.activeKeyset
		for id, keyset := range mint.inactiveKeysets {
			keysets[id] = keyset
		}
	}
	return keysets
}

func (w *Wallet) GetBalance(ctx context.Context) (uint64, error) {
	return w.manager.TotalBalance(ctx)
}

func (w *Wallet) GetBalanceByKeyset(ctx context.Context, keysetId string) (uint64, error) {
	return w.manager.Balance(ctx, keysetId)
}

// RequestMint requests a bolt11 mint quote for the amount. The quote
// is locked to a freshly generated key per NUT-20 and persisted.
func (w *Wallet) RequestMint(ctx context.Context, amount uint64) (*nut04.PostMintQuoteBolt11Response, error) {
	if amount == 0 {
		return nil, cashu.ErrInvalidAmount
	}

	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	mintURL := w.CurrentMint()
	request := nut04.PostMintQuoteBolt11Request{
		Amount: amount,
		Unit:   w.unit.String(),
		Pubkey: hex.EncodeToString(privateKey.PubKey().SerializeCompressed()),
	}
	response, err := w.client.PostMintQuoteBolt11(ctx, mintURL, request)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        response.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          response.State,
		Unit:           w.unit.String(),
		PaymentRequest: response.Request,
		Amount:         amount,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    response.Expiry,
		PrivateKey:     privateKey,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, err
	}

	return response, nil
}

// MintQuoteState queries the mint for the current state of a quote.
func (w *Wallet) MintQuoteState(ctx context.Context, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, cashu.ErrQuoteNotFound
	}
	return w.client.GetMintQuoteState(ctx, quote.Mint, quoteId)
}

// MintTokens redeems a paid mint quote into fresh proofs. The
// derivation counter is advanced up front and rewound if the mint
// round trip fails.
func (w *Wallet) MintTokens(ctx context.Context, quoteId string) (uint64, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return 0, cashu.ErrQuoteNotFound
	}
	if quote.State == nut04.Paid {
		return 0, cashu.ErrInvalidState.WithDetail("quote already redeemed")
	}

	quoteState, err := w.client.GetMintQuoteState(ctx, quote.Mint, quoteId)
	if err != nil {
		return 0, err
	}
	if !quoteState.State.IsFinal() {
		if quoteState.State == nut04.Pending {
			return 0, cashu.ErrQuotePending
		}
		return 0, cashu.ErrQuotePending.WithDetail("invoice has not been paid")
	}

	keyset := w.activeKeyset()

	counterBefore := w.db.KeysetCounter(keyset.Id)
	blindedMessages, secrets, rs, err := w.createDeterministicBlindedMessages(quote.Amount, keyset, counterBefore)
	if err != nil {
		return 0, err
	}
	if err := w.db.IncrementKeysetCounter(keyset.Id, uint32(len(blindedMessages))); err != nil {
		return 0, err
	}

	request := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	if quote.PrivateKey != nil {
		signature, err := nut20.SignMintQuote(quote.PrivateKey, quoteId, blindedMessages)
		if err != nil {
			return 0, err
		}
		request.Signature = hex.EncodeToString(signature.Serialize())
	}

	response, err := w.client.PostMintBolt11(ctx, quote.Mint, request)
	if err != nil {
		// rewind so the derivations are not burned
		if resetErr := w.db.SetKeysetCounter(keyset.Id, counterBefore); resetErr != nil {
			w.logger.Error("could not rewind keyset counter", "keyset", keyset.Id, "err", resetErr)
		}
		return 0, err
	}

	proofs, err := constructProofs(response.Signatures, secrets, rs, keyset)
	if err != nil {
		return 0, err
	}
	if err := w.manager.AddProofs(ctx, proofs); err != nil {
		return 0, err
	}

	quote.State = nut04.Paid
	quote.SettledAt = time.Now().Unix()
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return 0, err
	}

	return proofs.Amount(), nil
}

// Send produces a serialized V4 token for the amount. Inputs are
// marked pending up front; a swap makes exact change when needed and
// the consumed inputs are finalized once the token proofs exist.
func (w *Wallet) Send(ctx context.Context, amount uint64, memo string) (string, error) {
	keysets := w.keysetsById()

	selected, err := w.manager.SelectProofs(ctx, amount, "")
	if err != nil {
		return "", err
	}
	fees := Fees(selected, keysets)
	if selected.Amount() < amount+fees {
		// reselect including the input fees
		selected, err = w.manager.SelectProofs(ctx, amount+fees, "")
		if err != nil {
			return "", err
		}
		fees = Fees(selected, keysets)
	}

	if err := w.proofs.MarkPendingSpent(ctx, selected); err != nil {
		return "", err
	}

	sendProofs := selected
	if selected.Amount() > amount+fees {
		sendProofs, err = w.swapForExactAmount(ctx, selected, amount)
		if err != nil {
			if rollbackErr := w.proofs.RollbackPendingSpent(ctx, selected); rollbackErr != nil {
				w.logger.Error("rollback failed", "err", rollbackErr)
			}
			return "", err
		}
	}

	token, err := cashu.NewTokenV4(sendProofs, w.CurrentMint(), w.unit, memo, false)
	if err != nil {
		return "", err
	}
	serialized, err := token.Serialize()
	if err != nil {
		return "", err
	}

	if err := w.proofs.FinalizePendingSpent(ctx, selected); err != nil {
		return "", err
	}
	// the token proofs leave the wallet with the token
	if err := w.proofs.Remove(ctx, sendProofs); err != nil {
		w.logger.Warn("could not drop token proofs from store", "err", err)
	}

	return serialized, nil
}

// swapForExactAmount swaps the pending inputs at the mint into a set
// of proofs for the target amount plus change. The change goes back to
// the store as unspent; the target proofs are returned.
func (w *Wallet) swapForExactAmount(ctx context.Context, inputs cashu.Proofs, target uint64) (cashu.Proofs, error) {
	keyset := w.activeKeyset()
	keysets := w.keysetsById()
	fees := Fees(inputs, keysets)

	changeAmount, underflow := cashu.UnderflowSubUint64(inputs.Amount(), target+fees)
	if underflow {
		return nil, cashu.ErrBalanceInsufficient
	}

	sendSplit := cashu.AmountSplit(target)
	changeSplit := cashu.AmountSplit(changeAmount)
	splits := append(sendSplit, changeSplit...)

	counterBefore := w.db.KeysetCounter(keyset.Id)
	blindedMessages, secrets, rs, err := w.blindedMessagesForSplits(splits, keyset, counterBefore)
	if err != nil {
		return nil, err
	}
	if err := w.db.IncrementKeysetCounter(keyset.Id, uint32(len(blindedMessages))); err != nil {
		return nil, err
	}

	request := nut03.PostSwapRequest{Inputs: inputs, Outputs: blindedMessages}
	if err := w.attachAccessToken(ctx, w.CurrentMint(), &request.AccessToken); err != nil {
		return nil, err
	}

	response, err := w.client.PostSwap(ctx, w.CurrentMint(), request)
	if err != nil {
		if resetErr := w.db.SetKeysetCounter(keyset.Id, counterBefore); resetErr != nil {
			w.logger.Error("could not rewind keyset counter", "keyset", keyset.Id, "err", resetErr)
		}
		return nil, err
	}

	proofs, err := constructProofs(response.Signatures, secrets, rs, keyset)
	if err != nil {
		return nil, err
	}

	needed := make(map[uint64]int, len(sendSplit))
	for _, amount := range sendSplit {
		needed[amount]++
	}
	sendProofs := make(cashu.Proofs, 0, len(sendSplit))
	changeProofs := make(cashu.Proofs, 0, len(changeSplit))
	for _, proof := range proofs {
		if needed[proof.Amount] > 0 {
			needed[proof.Amount]--
			sendProofs = append(sendProofs, proof)
		} else {
			changeProofs = append(changeProofs, proof)
		}
	}

	if len(changeProofs) > 0 {
		if err := w.manager.AddProofs(ctx, changeProofs); err != nil {
			return nil, err
		}
	}
	return sendProofs, nil
}

// Receive takes a serialized token, swaps its proofs at the issuing
// mint to claim them, and stores the fresh proofs. A mint the wallet
// does not know yet is added before the swap.
func (w *Wallet) Receive(ctx context.Context, tokenStr string) (uint64, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return 0, err
	}

	mintURL := token.Mint()
	w.mu.RLock()
	mint, known := w.mints[mintURL]
	w.mu.RUnlock()
	if !known {
		mint, err = w.addMint(ctx, mintURL)
		if err != nil {
			return 0, err
		}
	}

	proofs := token.Proofs()
	for _, proof := range proofs {
		if err := ValidateProof(proof); err != nil {
			return 0, err
		}
	}
	if !nut12.VerifyProofsDLEQ(proofs, mint.activeKeyset) {
		return 0, cashu.ErrInvalidToken.WithDetail("invalid DLEQ proof")
	}

	keyset := mint.activeKeyset
	keysets := w.keysetsById()
	fees := Fees(proofs, keysets)
	receiveAmount, underflow := cashu.UnderflowSubUint64(proofs.Amount(), fees)
	if underflow || receiveAmount == 0 {
		return 0, cashu.ErrAmountTooSmall
	}

	counterBefore := w.db.KeysetCounter(keyset.Id)
	blindedMessages, secrets, rs, err := w.createDeterministicBlindedMessages(receiveAmount, keyset, counterBefore)
	if err != nil {
		return 0, err
	}
	if err := w.db.IncrementKeysetCounter(keyset.Id, uint32(len(blindedMessages))); err != nil {
		return 0, err
	}

	request := nut03.PostSwapRequest{Inputs: proofs, Outputs: blindedMessages}
	if err := w.attachAccessToken(ctx, mintURL, &request.AccessToken); err != nil {
		return 0, err
	}

	response, err := w.client.PostSwap(ctx, mintURL, request)
	if err != nil {
		if resetErr := w.db.SetKeysetCounter(keyset.Id, counterBefore); resetErr != nil {
			w.logger.Error("could not rewind keyset counter", "keyset", keyset.Id, "err", resetErr)
		}
		return 0, err
	}

	newProofs, err := constructProofs(response.Signatures, secrets, rs, keyset)
	if err != nil {
		return 0, err
	}
	if err := w.manager.AddProofs(ctx, newProofs); err != nil {
		return 0, err
	}

	return newProofs.Amount(), nil
}

// RequestMeltQuote validates the invoice shape and asks the mint for
// a melt quote.
func (w *Wallet) RequestMeltQuote(ctx context.Context, invoice string) (*nut05.PostMeltQuoteBolt11Response, error) {
	if _, err := decodepay.Decodepay(invoice); err != nil {
		return nil, cashu.ErrInvalidResponse.WithDetail(fmt.Sprintf("invalid invoice: %v", err))
	}

	mintURL := w.CurrentMint()
	request := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: w.unit.String()}
	response, err := w.client.PostMeltQuoteBolt11(ctx, mintURL, request)
	if err != nil {
		return nil, err
	}

	quote := storage.MeltQuote{
		QuoteId:        response.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          response.State,
		Unit:           w.unit.String(),
		PaymentRequest: invoice,
		Amount:         response.Amount,
		FeeReserve:     response.FeeReserve,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    response.Expiry,
	}
	if err := w.db.SaveMeltQuote(quote); err != nil {
		return nil, err
	}

	return response, nil
}

// Melt pays the melt quote with stored proofs. Inputs stay pending
// while the payment is in flight: a PAID result finalizes them, an
// UNPAID result rolls them back, a PENDING result leaves them pending
// for a later CheckPendingProofs.
func (w *Wallet) Melt(ctx context.Context, quoteId string) (*storage.MeltQuote, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, cashu.ErrQuoteNotFound
	}

	quoteResponse := &nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.QuoteId,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		State:      quote.State,
		Expiry:     quote.QuoteExpiry,
	}

	keysets := w.keysetsById()
	required, overflow := cashu.OverflowAddUint64(quote.Amount, quote.FeeReserve)
	if overflow {
		return nil, cashu.ErrAmountOverflows
	}
	selected, err := w.manager.SelectProofs(ctx, required, "")
	if err != nil {
		return nil, err
	}
	inputFees := Fees(selected, keysets)
	if selected.Amount() < required+inputFees {
		selected, err = w.manager.SelectProofs(ctx, required+inputFees, "")
		if err != nil {
			return nil, err
		}
		inputFees = Fees(selected, keysets)
	}

	if err := nut05.CheckMeltQuote(quoteResponse, selected, inputFees, time.Now()); err != nil {
		return nil, fmt.Errorf("melt quote check: %w", err)
	}

	// blank outputs for change on fee reserve overpayment
	keyset := w.activeKeyset()
	counterBefore := w.db.KeysetCounter(keyset.Id)
	changeOutputs, changeSecrets, changeRs, err := w.blankOutputs(quote.FeeReserve, keyset, counterBefore)
	if err != nil {
		return nil, err
	}
	if err := w.db.IncrementKeysetCounter(keyset.Id, uint32(len(changeOutputs))); err != nil {
		return nil, err
	}

	request := nut05.PostMeltBolt11Request{
		Quote:   quoteId,
		Inputs:  selected,
		Outputs: changeOutputs,
	}
	if err := w.attachAccessToken(ctx, quote.Mint, &request.AccessToken); err != nil {
		return nil, err
	}

	if err := w.proofs.MarkPendingSpent(ctx, selected); err != nil {
		if resetErr := w.db.SetKeysetCounter(keyset.Id, counterBefore); resetErr != nil {
			w.logger.Error("could not rewind keyset counter", "keyset", keyset.Id, "err", resetErr)
		}
		return nil, err
	}

	response, err := w.client.PostMeltBolt11(ctx, quote.Mint, request)
	if err != nil {
		if resetErr := w.db.SetKeysetCounter(keyset.Id, counterBefore); resetErr != nil {
			w.logger.Error("could not rewind keyset counter", "keyset", keyset.Id, "err", resetErr)
		}
		if rollbackErr := w.proofs.RollbackPendingSpent(ctx, selected); rollbackErr != nil {
			w.logger.Error("rollback failed", "err", rollbackErr)
		}
		return nil, err
	}

	quote.State = response.State
	quote.Preimage = response.Preimage

	switch response.State {
	case nut05.Paid:
		if err := w.proofs.FinalizePendingSpent(ctx, selected); err != nil {
			return nil, err
		}
		quote.SettledAt = time.Now().Unix()

		// claim change signatures if the mint returned any
		if len(response.Change) > 0 {
			count := len(response.Change)
			if count > len(changeSecrets) {
				count = len(changeSecrets)
			}
			changeProofs, err := constructProofs(response.Change[:count], changeSecrets[:count], changeRs[:count], keyset)
			if err == nil {
				if err := w.manager.AddProofs(ctx, changeProofs); err != nil {
					w.logger.Warn("could not store change proofs", "err", err)
				}
			}
		}
	case nut05.Unpaid:
		if err := w.proofs.RollbackPendingSpent(ctx, selected); err != nil {
			return nil, err
		}
	case nut05.Pending:
		// leave the inputs pending until the payment settles
	}

	if err := w.db.SaveMeltQuote(*quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// CheckPendingProofs asks the mint for the state of every pending
// proof and finalizes or rolls back accordingly.
func (w *Wallet) CheckPendingProofs(ctx context.Context) error {
	pending, err := w.proofs.GetPendingSpent(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	Ys, err := pending.Ys()
	if err != nil {
		return err
	}
	byY := make(map[string]cashu.Proof, len(pending))
	for i, proof := range pending {
		byY[Ys[i]] = proof
	}

	response, err := w.client.PostCheckProofState(ctx, w.CurrentMint(), nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return err
	}

	for _, state := range response.States {
		proof, ok := byY[state.Y]
		if !ok {
			continue
		}
		switch state.State {
		case nut07.Spent:
			if err := w.proofs.FinalizePendingSpent(ctx, cashu.Proofs{proof}); err != nil {
				return err
			}
		case nut07.Unspent:
			if err := w.proofs.RollbackPendingSpent(ctx, cashu.Proofs{proof}); err != nil {
				return err
			}
		case nut07.Pending:
		}
	}
	return nil
}

// attachAccessToken sets the NUT-22 access token when the mint
// mandates one.
func (w *Wallet) attachAccessToken(ctx context.Context, mintURL string, target *string) error {
	mintInfo, err := w.client.GetMintInfo(ctx, mintURL)
	if err != nil {
		// mints without a reachable info endpoint cannot mandate
		// access tokens
		return nil
	}
	settings, ok := mintInfo.Nuts.Nut22()
	if !ok || !settings.Mandatory {
		return nil
	}

	token, err := w.db.LoadAccessToken(mintURL)
	if err != nil {
		return err
	}
	if token == "" {
		return cashu.ErrNoKeychainData.WithDetail("mint requires an access token but none is stored")
	}
	*target = token
	return nil
}

// createDeterministicBlindedMessages splits the amount into standard
// denominations and derives a (secret, r) pair per denomination
// starting at the given counter.
func (w *Wallet) createDeterministicBlindedMessages(amount uint64, keyset crypto.WalletKeyset, counter uint32) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	return w.blindedMessagesForSplits(cashu.AmountSplit(amount), keyset, counter)
}

func (w *Wallet) blindedMessagesForSplits(splits []uint64, keyset crypto.WalletKeyset, counter uint32) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keyset.Id)
	if err != nil {
		return nil, nil, nil, err
	}

	blindedMessages := make(cashu.BlindedMessages, len(splits))
	secrets := make([]string, len(splits))
	rs := make([]*secp256k1.PrivateKey, len(splits))

	for i, amount := range splits {
		secret, err := nut13.DeriveSecret(keysetPath, counter)
		if err != nil {
			return nil, nil, nil, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, amount, B_)
		secrets[i] = secret
		rs[i] = r
		counter++
	}

	cashu.SortBlindedMessages(blindedMessages, secrets, rs)
	return blindedMessages, secrets, rs, nil
}

// blankOutputs creates the change outputs for a melt: enough
// zero-committed outputs to absorb any fee reserve return.
func (w *Wallet) blankOutputs(feeReserve uint64, keyset crypto.WalletKeyset, counter uint32) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {

	if feeReserve == 0 {
		return nil, nil, nil, nil
	}
	// floor(log2(reserve)) + 1 outputs (the bit length of the
	// reserve) cover any partial return
	count := 1
	for v := feeReserve; v > 1; v >>= 1 {
		count++
	}
	splits := make([]uint64, count)
	for i := range splits {
		splits[i] = 1
	}
	return w.blindedMessagesForSplits(splits, keyset, counter)
}

// constructProofs unblinds the signatures into proofs and verifies
// any DLEQ proofs the mint attached.
func constructProofs(signatures cashu.BlindedSignatures, secrets []string, rs []*secp256k1.PrivateKey,
	keyset crypto.WalletKeyset) (cashu.Proofs, error) {

	if len(signatures) != len(secrets) || len(signatures) != len(rs) {
		return nil, cashu.ErrMismatchedLengths
	}

	proofs := make(cashu.Proofs, len(signatures))
	for i, signature := range signatures {
		pubkey, ok := keyset.PublicKeys[signature.Amount]
		if !ok {
			return nil, cashu.ErrKeysetNotFound.WithDetail(
				fmt.Sprintf("no mint key for amount %d", signature.Amount))
		}

		C_bytes, err := hex.DecodeString(signature.C_)
		if err != nil {
			return nil, cashu.ErrInvalidHexString
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, cashu.ErrInvalidPointCode
		}

		if signature.DLEQ != nil {
			B_, _, err := crypto.BlindMessage(secrets[i], rs[i])
			if err != nil {
				return nil, err
			}
			B_str := hex.EncodeToString(B_.SerializeCompressed())
			if !nut12.VerifyBlindSignatureDLEQ(*signature.DLEQ, pubkey, B_str, signature.C_) {
				return nil, cashu.ErrVerificationFailed.WithDetail("invalid DLEQ on blind signature")
			}
		}

		C, err := crypto.UnblindSignature(C_, rs[i], pubkey)
		if err != nil {
			return nil, err
		}

		proof := cashu.Proof{
			Amount: signature.Amount,
			Id:     signature.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
		if signature.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: signature.DLEQ.E,
				S: signature.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}
		proofs[i] = proof
	}

	return proofs, nil
}
