// Package sqlite implements the wallet storage contract on SQLite.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/wallet/storage"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

var _ storage.WalletDB = (*SQLiteDB)(nil)

// create a temporary directory with the migration files.
// migration files are embedded with go:embed. These are then read
// and copied to a temporary directory.
// This is needed to pass the directory to migrate.New
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "migrations")
	if err != nil {
		return "", err
	}

	migrationFiles, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, file := range migrationFiles {
		filePath := filepath.Join(tempDir, file.Name())

		migrationFilePath := filepath.Join("migrations", file.Name())
		migrationFile, err := migrations.Open(migrationFilePath)
		if err != nil {
			return "", err
		}
		defer migrationFile.Close()

		destFile, err := os.Create(filePath)
		if err != nil {
			return "", err
		}
		defer destFile.Close()

		_, err = io.Copy(destFile, migrationFile)
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "wallet.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	migrationsPath, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(migrationsPath)

	m, err := migrate.New("file://"+migrationsPath, "sqlite3://"+dbpath)
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sq *SQLiteDB) Close() error {
	return sq.db.Close()
}

func (sq *SQLiteDB) setSecret(key, value string) error {
	_, err := sq.db.Exec(`
		INSERT INTO secrets (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storage.StoreFailed(err)
	}
	return nil
}

func (sq *SQLiteDB) getSecret(key string) (string, error) {
	var value string
	err := sq.db.QueryRow("SELECT value FROM secrets WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storage.RetrievalFailed(err)
	}
	return value, nil
}

func (sq *SQLiteDB) deleteSecret(key string) error {
	if _, err := sq.db.Exec("DELETE FROM secrets WHERE key = ?", key); err != nil {
		return storage.StoreFailed(err)
	}
	return nil
}

func (sq *SQLiteDB) SaveMnemonic(mnemonic string) error {
	if len(mnemonic) == 0 {
		return storage.ErrInvalidData
	}
	return sq.setSecret("mnemonic", mnemonic)
}

func (sq *SQLiteDB) LoadMnemonic() (string, error) {
	return sq.getSecret("mnemonic")
}

func (sq *SQLiteDB) DeleteMnemonic() error {
	return sq.deleteSecret("mnemonic")
}

func (sq *SQLiteDB) SaveSeed(seedHex string) error {
	if len(seedHex) == 0 {
		return storage.ErrInvalidData
	}
	return sq.setSecret("seed", seedHex)
}

func (sq *SQLiteDB) LoadSeed() (string, error) {
	return sq.getSecret("seed")
}

func (sq *SQLiteDB) DeleteSeed() error {
	return sq.deleteSecret("seed")
}

func (sq *SQLiteDB) SaveAccessToken(token, mintURL string) error {
	if len(token) == 0 || len(mintURL) == 0 {
		return storage.ErrInvalidData
	}
	_, err := sq.db.Exec(`
		INSERT INTO access_tokens (mint_url, token) VALUES (?, ?)
		ON CONFLICT(mint_url) DO UPDATE SET token = excluded.token
	`, mintURL, token)
	if err != nil {
		return storage.StoreFailed(err)
	}
	return nil
}

func (sq *SQLiteDB) LoadAccessToken(mintURL string) (string, error) {
	var token string
	err := sq.db.QueryRow("SELECT token FROM access_tokens WHERE mint_url = ?", mintURL).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storage.RetrievalFailed(err)
	}
	return token, nil
}

func (sq *SQLiteDB) DeleteAccessToken(mintURL string) error {
	if _, err := sq.db.Exec("DELETE FROM access_tokens WHERE mint_url = ?", mintURL); err != nil {
		return storage.StoreFailed(err)
	}
	return nil
}

func (sq *SQLiteDB) SaveAccessTokenList(tokens []string, mintURL string) error {
	if len(mintURL) == 0 {
		return storage.ErrInvalidData
	}
	jsonTokens, err := json.Marshal(tokens)
	if err != nil {
		return storage.ErrInvalidData
	}
	_, err = sq.db.Exec(`
		INSERT INTO access_token_lists (mint_url, tokens) VALUES (?, ?)
		ON CONFLICT(mint_url) DO UPDATE SET tokens = excluded.tokens
	`, mintURL, string(jsonTokens))
	if err != nil {
		return storage.StoreFailed(err)
	}
	return nil
}

func (sq *SQLiteDB) LoadAccessTokenList(mintURL string) ([]string, error) {
	var jsonTokens string
	err := sq.db.QueryRow("SELECT tokens FROM access_token_lists WHERE mint_url = ?", mintURL).Scan(&jsonTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.RetrievalFailed(err)
	}

	var tokens []string
	if err := json.Unmarshal([]byte(jsonTokens), &tokens); err != nil {
		return nil, storage.RetrievalFailed(err)
	}
	return tokens, nil
}

func (sq *SQLiteDB) DeleteAccessTokenList(mintURL string) error {
	if _, err := sq.db.Exec("DELETE FROM access_token_lists WHERE mint_url = ?", mintURL); err != nil {
		return storage.StoreFailed(err)
	}
	return nil
}

func (sq *SQLiteDB) ClearAll() error {
	for _, table := range []string{"secrets", "access_tokens", "access_token_lists"} {
		if _, err := sq.db.Exec("DELETE FROM " + table); err != nil {
			return storage.StoreFailed(err)
		}
	}
	return nil
}

func (sq *SQLiteDB) HasStoredData() (bool, error) {
	var count int
	err := sq.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM secrets)
		     + (SELECT COUNT(*) FROM access_tokens)
		     + (SELECT COUNT(*) FROM access_token_lists)
	`).Scan(&count)
	if err != nil {
		return false, storage.RetrievalFailed(err)
	}
	return count > 0, nil
}

func (sq *SQLiteDB) KeysetCounter(keysetId string) uint32 {
	var counter uint32
	err := sq.db.QueryRow("SELECT counter FROM counters WHERE keyset_id = ?", keysetId).Scan(&counter)
	if err != nil {
		return 0
	}
	return counter
}

func (sq *SQLiteDB) SetKeysetCounter(keysetId string, value uint32) error {
	_, err := sq.db.Exec(`
		INSERT INTO counters (keyset_id, counter) VALUES (?, ?)
		ON CONFLICT(keyset_id) DO UPDATE SET counter = excluded.counter
	`, keysetId, value)
	return err
}

func (sq *SQLiteDB) IncrementKeysetCounter(keysetId string, num uint32) error {
	_, err := sq.db.Exec(`
		INSERT INTO counters (keyset_id, counter) VALUES (?, ?)
		ON CONFLICT(keyset_id) DO UPDATE SET counter = counter + excluded.counter
	`, keysetId, num)
	return err
}

func (sq *SQLiteDB) ResetKeysetCounter(keysetId string) error {
	return sq.SetKeysetCounter(keysetId, 0)
}

func (sq *SQLiteDB) CounterSnapshot() map[string]uint32 {
	snapshot := make(map[string]uint32)
	rows, err := sq.db.Query("SELECT keyset_id, counter FROM counters")
	if err != nil {
		return snapshot
	}
	defer rows.Close()

	for rows.Next() {
		var keysetId string
		var counter uint32
		if err := rows.Scan(&keysetId, &counter); err != nil {
			continue
		}
		snapshot[keysetId] = counter
	}
	return snapshot
}

func (sq *SQLiteDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeys, err := json.Marshal(keyset.PublicKeys)
	if err != nil {
		return fmt.Errorf("invalid keyset format: %v", err)
	}

	_, err = sq.db.Exec(`
		INSERT INTO keysets (id, mint_url, unit, active, public_keys, input_fee_ppk)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mint_url = excluded.mint_url,
			unit = excluded.unit,
			active = excluded.active,
			public_keys = excluded.public_keys,
			input_fee_ppk = excluded.input_fee_ppk
	`, keyset.Id, keyset.MintURL, keyset.Unit, keyset.Active, string(jsonKeys), keyset.InputFeePpk)
	if err != nil {
		return fmt.Errorf("error saving keyset: %v", err)
	}
	return nil
}

func scanKeyset(scanner interface{ Scan(...any) error }) (*crypto.WalletKeyset, error) {
	var keyset crypto.WalletKeyset
	var jsonKeys string
	if err := scanner.Scan(
		&keyset.Id,
		&keyset.MintURL,
		&keyset.Unit,
		&keyset.Active,
		&jsonKeys,
		&keyset.InputFeePpk,
	); err != nil {
		return nil, err
	}

	publicKeys := make(crypto.PublicKeys)
	if err := json.Unmarshal([]byte(jsonKeys), &publicKeys); err != nil {
		return nil, err
	}
	keyset.PublicKeys = publicKeys
	return &keyset, nil
}

func (sq *SQLiteDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	rows, err := sq.db.Query(`
		SELECT id, mint_url, unit, active, public_keys, input_fee_ppk FROM keysets
	`)
	if err != nil {
		return keysets
	}
	defer rows.Close()

	for rows.Next() {
		keyset, err := scanKeyset(rows)
		if err != nil {
			continue
		}
		keyset.Counter = sq.KeysetCounter(keyset.Id)
		keysets[keyset.MintURL] = append(keysets[keyset.MintURL], *keyset)
	}
	return keysets
}

func (sq *SQLiteDB) GetKeyset(keysetId string) *crypto.WalletKeyset {
	row := sq.db.QueryRow(`
		SELECT id, mint_url, unit, active, public_keys, input_fee_ppk
		FROM keysets WHERE id = ?
	`, keysetId)

	keyset, err := scanKeyset(row)
	if err != nil {
		return nil
	}
	keyset.Counter = sq.KeysetCounter(keyset.Id)
	return keyset
}

func (sq *SQLiteDB) UpdateKeysetMintURL(oldURL, newURL string) error {
	result, err := sq.db.Exec("UPDATE keysets SET mint_url = ? WHERE mint_url = ?", newURL, oldURL)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrKeysetNotFound
	}
	return nil
}

func (sq *SQLiteDB) SaveMintQuote(quote storage.MintQuote) error {
	var privateKey []byte
	if quote.PrivateKey != nil {
		privateKey = quote.PrivateKey.Serialize()
	}

	_, err := sq.db.Exec(`
		INSERT INTO mint_quotes
			(id, mint_url, method, state, unit, payment_request, amount, created_at, settled_at, expiry, private_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, settled_at = excluded.settled_at
	`, quote.QuoteId, quote.Mint, quote.Method, quote.State.String(), quote.Unit,
		quote.PaymentRequest, quote.Amount, quote.CreatedAt, quote.SettledAt, quote.QuoteExpiry, privateKey)
	if err != nil {
		return fmt.Errorf("error saving mint quote: %v", err)
	}
	return nil
}

func scanMintQuote(scanner interface{ Scan(...any) error }) (*storage.MintQuote, error) {
	var quote storage.MintQuote
	var state string
	var privateKey []byte
	if err := scanner.Scan(
		&quote.QuoteId,
		&quote.Mint,
		&quote.Method,
		&state,
		&quote.Unit,
		&quote.PaymentRequest,
		&quote.Amount,
		&quote.CreatedAt,
		&quote.SettledAt,
		&quote.QuoteExpiry,
		&privateKey,
	); err != nil {
		return nil, err
	}
	quote.State = nut04.StringToState(state)
	if len(privateKey) > 0 {
		quote.PrivateKey = secp256k1.PrivKeyFromBytes(privateKey)
	}
	return &quote, nil
}

func (sq *SQLiteDB) GetMintQuotes() []storage.MintQuote {
	rows, err := sq.db.Query(`
		SELECT id, mint_url, method, state, unit, payment_request, amount, created_at, settled_at, expiry, private_key
		FROM mint_quotes
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var quotes []storage.MintQuote
	for rows.Next() {
		quote, err := scanMintQuote(rows)
		if err != nil {
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes
}

func (sq *SQLiteDB) GetMintQuoteById(id string) *storage.MintQuote {
	row := sq.db.QueryRow(`
		SELECT id, mint_url, method, state, unit, payment_request, amount, created_at, settled_at, expiry, private_key
		FROM mint_quotes WHERE id = ?
	`, id)

	quote, err := scanMintQuote(row)
	if err != nil {
		return nil
	}
	return quote
}

func (sq *SQLiteDB) SaveMeltQuote(quote storage.MeltQuote) error {
	_, err := sq.db.Exec(`
		INSERT INTO melt_quotes
			(id, mint_url, method, state, unit, payment_request, amount, fee_reserve, preimage, created_at, settled_at, expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			preimage = excluded.preimage,
			settled_at = excluded.settled_at
	`, quote.QuoteId, quote.Mint, quote.Method, quote.State.String(), quote.Unit,
		quote.PaymentRequest, quote.Amount, quote.FeeReserve, quote.Preimage,
		quote.CreatedAt, quote.SettledAt, quote.QuoteExpiry)
	if err != nil {
		return fmt.Errorf("error saving melt quote: %v", err)
	}
	return nil
}

func scanMeltQuote(scanner interface{ Scan(...any) error }) (*storage.MeltQuote, error) {
	var quote storage.MeltQuote
	var state string
	if err := scanner.Scan(
		&quote.QuoteId,
		&quote.Mint,
		&quote.Method,
		&state,
		&quote.Unit,
		&quote.PaymentRequest,
		&quote.Amount,
		&quote.FeeReserve,
		&quote.Preimage,
		&quote.CreatedAt,
		&quote.SettledAt,
		&quote.QuoteExpiry,
	); err != nil {
		return nil, err
	}
	quote.State = nut05.StringToState(state)
	return &quote, nil
}

func (sq *SQLiteDB) GetMeltQuotes() []storage.MeltQuote {
	rows, err := sq.db.Query(`
		SELECT id, mint_url, method, state, unit, payment_request, amount, fee_reserve, preimage, created_at, settled_at, expiry
		FROM melt_quotes
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var quotes []storage.MeltQuote
	for rows.Next() {
		quote, err := scanMeltQuote(rows)
		if err != nil {
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes
}

func (sq *SQLiteDB) GetMeltQuoteById(id string) *storage.MeltQuote {
	row := sq.db.QueryRow(`
		SELECT id, mint_url, method, state, unit, payment_request, amount, fee_reserve, preimage, created_at, settled_at, expiry
		FROM melt_quotes WHERE id = ?
	`, id)

	quote, err := scanMeltQuote(row)
	if err != nil {
		return nil
	}
	return quote
}
