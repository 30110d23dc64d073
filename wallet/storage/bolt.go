package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cashukit/cashukit/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	KEYSETS_BUCKET       = "keysets"
	COUNTERS_BUCKET      = "counters"
	MINT_QUOTES_BUCKET   = "mint_quotes"
	MELT_QUOTES_BUCKET   = "melt_quotes"
	SEED_BUCKET          = "seed"
	ACCESS_TOKENS_BUCKET = "access_tokens"

	MNEMONIC_KEY = "mnemonic"
	SEED_KEY     = "seed"

	tokenListSuffix = ":list"
)

// BoltDB implements WalletDB on a single bbolt file.
type BoltDB struct {
	bolt *bolt.DB
}

var _ WalletDB = (*BoltDB)(nil)

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

// Bolt exposes the underlying handle so the proof store can share the
// same file.
func (db *BoltDB) Bolt() *bolt.DB {
	return db.bolt
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			KEYSETS_BUCKET,
			COUNTERS_BUCKET,
			MINT_QUOTES_BUCKET,
			MELT_QUOTES_BUCKET,
			SEED_BUCKET,
			ACCESS_TOKENS_BUCKET,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) SaveMnemonic(mnemonic string) error {
	if len(mnemonic) == 0 {
		return ErrInvalidData
	}
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(SEED_BUCKET)).Put([]byte(MNEMONIC_KEY), []byte(mnemonic))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) LoadMnemonic() (string, error) {
	var mnemonic string
	err := db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(SEED_BUCKET)).Get([]byte(MNEMONIC_KEY)))
		return nil
	})
	if err != nil {
		return "", RetrievalFailed(err)
	}
	return mnemonic, nil
}

func (db *BoltDB) DeleteMnemonic() error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(SEED_BUCKET)).Delete([]byte(MNEMONIC_KEY))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) SaveSeed(seedHex string) error {
	if len(seedHex) == 0 {
		return ErrInvalidData
	}
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(SEED_BUCKET)).Put([]byte(SEED_KEY), []byte(seedHex))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) LoadSeed() (string, error) {
	var seed string
	err := db.bolt.View(func(tx *bolt.Tx) error {
		seed = string(tx.Bucket([]byte(SEED_BUCKET)).Get([]byte(SEED_KEY)))
		return nil
	})
	if err != nil {
		return "", RetrievalFailed(err)
	}
	return seed, nil
}

func (db *BoltDB) DeleteSeed() error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(SEED_BUCKET)).Delete([]byte(SEED_KEY))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) SaveAccessToken(token, mintURL string) error {
	if len(token) == 0 || len(mintURL) == 0 {
		return ErrInvalidData
	}
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ACCESS_TOKENS_BUCKET)).Put([]byte(mintURL), []byte(token))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) LoadAccessToken(mintURL string) (string, error) {
	var token string
	err := db.bolt.View(func(tx *bolt.Tx) error {
		token = string(tx.Bucket([]byte(ACCESS_TOKENS_BUCKET)).Get([]byte(mintURL)))
		return nil
	})
	if err != nil {
		return "", RetrievalFailed(err)
	}
	return token, nil
}

func (db *BoltDB) DeleteAccessToken(mintURL string) error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ACCESS_TOKENS_BUCKET)).Delete([]byte(mintURL))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) SaveAccessTokenList(tokens []string, mintURL string) error {
	if len(mintURL) == 0 {
		return ErrInvalidData
	}
	jsonTokens, err := json.Marshal(tokens)
	if err != nil {
		return ErrInvalidData
	}
	err = db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ACCESS_TOKENS_BUCKET)).Put([]byte(mintURL+tokenListSuffix), jsonTokens)
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) LoadAccessTokenList(mintURL string) ([]string, error) {
	var tokens []string
	err := db.bolt.View(func(tx *bolt.Tx) error {
		val := tx.Bucket([]byte(ACCESS_TOKENS_BUCKET)).Get([]byte(mintURL + tokenListSuffix))
		if val == nil {
			return nil
		}
		return json.Unmarshal(val, &tokens)
	})
	if err != nil {
		return nil, RetrievalFailed(err)
	}
	return tokens, nil
}

func (db *BoltDB) DeleteAccessTokenList(mintURL string) error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ACCESS_TOKENS_BUCKET)).Delete([]byte(mintURL + tokenListSuffix))
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) ClearAll() error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{SEED_BUCKET, ACCESS_TOKENS_BUCKET} {
			if err := tx.DeleteBucket([]byte(bucket)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return StoreFailed(err)
	}
	return nil
}

func (db *BoltDB) HasStoredData() (bool, error) {
	var hasData bool
	err := db.bolt.View(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(SEED_BUCKET))
		if seedb.Get([]byte(MNEMONIC_KEY)) != nil || seedb.Get([]byte(SEED_KEY)) != nil {
			hasData = true
			return nil
		}
		tokens := tx.Bucket([]byte(ACCESS_TOKENS_BUCKET))
		hasData = tokens.Stats().KeyN > 0
		return nil
	})
	if err != nil {
		return false, RetrievalFailed(err)
	}
	return hasData, nil
}

func (db *BoltDB) KeysetCounter(keysetId string) uint32 {
	var counter uint32
	db.bolt.View(func(tx *bolt.Tx) error {
		val := tx.Bucket([]byte(COUNTERS_BUCKET)).Get([]byte(keysetId))
		if len(val) == 4 {
			counter = binary.BigEndian.Uint32(val)
		}
		return nil
	})
	return counter
}

func (db *BoltDB) SetKeysetCounter(keysetId string, value uint32) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, value)
		return tx.Bucket([]byte(COUNTERS_BUCKET)).Put([]byte(keysetId), val)
	})
}

func (db *BoltDB) IncrementKeysetCounter(keysetId string, num uint32) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		counters := tx.Bucket([]byte(COUNTERS_BUCKET))
		var counter uint32
		if val := counters.Get([]byte(keysetId)); len(val) == 4 {
			counter = binary.BigEndian.Uint32(val)
		}
		counter += num
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, counter)
		return counters.Put([]byte(keysetId), val)
	})
}

func (db *BoltDB) ResetKeysetCounter(keysetId string) error {
	return db.SetKeysetCounter(keysetId, 0)
}

func (db *BoltDB) CounterSnapshot() map[string]uint32 {
	snapshot := make(map[string]uint32)
	db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(COUNTERS_BUCKET)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) == 4 {
				snapshot[string(k)] = binary.BigEndian.Uint32(v)
			}
		}
		return nil
	})
	return snapshot
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset format: %v", err)
	}

	if err := db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(KEYSETS_BUCKET))
		mintBucket, err := keysetsb.CreateBucketIfNotExists([]byte(keyset.MintURL))
		if err != nil {
			return err
		}
		return mintBucket.Put([]byte(keyset.Id), jsonKeyset)
	}); err != nil {
		return fmt.Errorf("error saving keyset: %v", err)
	}
	return nil
}

func (db *BoltDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(KEYSETS_BUCKET))

		return keysetsb.ForEach(func(mintURL, v []byte) error {
			mintKeysets := []crypto.WalletKeyset{}
			mintBucket := keysetsb.Bucket(mintURL)
			if mintBucket == nil {
				return nil
			}
			c := mintBucket.Cursor()

			for k, v := c.First(); k != nil; k, v = c.Next() {
				var keyset crypto.WalletKeyset
				if err := json.Unmarshal(v, &keyset); err != nil {
					return err
				}
				mintKeysets = append(mintKeysets, keyset)
			}
			keysets[string(mintURL)] = mintKeysets
			return nil
		})
	}); err != nil {
		return nil
	}

	return keysets
}

func (db *BoltDB) GetKeyset(keysetId string) *crypto.WalletKeyset {
	var keyset *crypto.WalletKeyset

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(KEYSETS_BUCKET))

		return keysetsb.ForEach(func(mintURL, v []byte) error {
			mintBucket := keysetsb.Bucket(mintURL)
			if mintBucket == nil {
				return nil
			}
			keysetBytes := mintBucket.Get([]byte(keysetId))
			if keysetBytes != nil {
				if err := json.Unmarshal(keysetBytes, &keyset); err != nil {
					return err
				}
			}
			return nil
		})
	})

	return keyset
}

func (db *BoltDB) UpdateKeysetMintURL(oldURL, newURL string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(KEYSETS_BUCKET))
		oldBucket := keysetsb.Bucket([]byte(oldURL))
		if oldBucket == nil {
			return ErrKeysetNotFound
		}

		newBucket, err := keysetsb.CreateBucketIfNotExists([]byte(newURL))
		if err != nil {
			return err
		}

		if err := oldBucket.ForEach(func(k, v []byte) error {
			var keyset crypto.WalletKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				return err
			}
			keyset.MintURL = newURL
			updated, err := json.Marshal(&keyset)
			if err != nil {
				return err
			}
			return newBucket.Put(k, updated)
		}); err != nil {
			return err
		}

		return keysetsb.DeleteBucket([]byte(oldURL))
	})
}

func (db *BoltDB) SaveMintQuote(quote MintQuote) error {
	jsonbytes, err := json.Marshal(&quote)
	if err != nil {
		return fmt.Errorf("invalid mint quote: %v", err)
	}

	if err := db.bolt.Update(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(MINT_QUOTES_BUCKET))
		return quotesb.Put([]byte(quote.QuoteId), jsonbytes)
	}); err != nil {
		return fmt.Errorf("error saving mint quote: %v", err)
	}
	return nil
}

func (db *BoltDB) GetMintQuotes() []MintQuote {
	var mintQuotes []MintQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(MINT_QUOTES_BUCKET))
		c := quotesb.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var quote MintQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				continue
			}
			mintQuotes = append(mintQuotes, quote)
		}
		return nil
	})

	return mintQuotes
}

func (db *BoltDB) GetMintQuoteById(id string) *MintQuote {
	var quote *MintQuote
	db.bolt.View(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(MINT_QUOTES_BUCKET))
		quoteBytes := quotesb.Get([]byte(id))
		if quoteBytes == nil {
			return nil
		}
		if err := json.Unmarshal(quoteBytes, &quote); err != nil {
			quote = nil
		}
		return nil
	})
	return quote
}

func (db *BoltDB) SaveMeltQuote(quote MeltQuote) error {
	jsonbytes, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid melt quote: %v", err)
	}

	if err := db.bolt.Update(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(MELT_QUOTES_BUCKET))
		return quotesb.Put([]byte(quote.QuoteId), jsonbytes)
	}); err != nil {
		return fmt.Errorf("error saving melt quote: %v", err)
	}
	return nil
}

func (db *BoltDB) GetMeltQuotes() []MeltQuote {
	var meltQuotes []MeltQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(MELT_QUOTES_BUCKET))
		c := quotesb.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var quote MeltQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				continue
			}
			meltQuotes = append(meltQuotes, quote)
		}
		return nil
	})

	return meltQuotes
}

func (db *BoltDB) GetMeltQuoteById(id string) *MeltQuote {
	var quote *MeltQuote
	db.bolt.View(func(tx *bolt.Tx) error {
		quotesb := tx.Bucket([]byte(MELT_QUOTES_BUCKET))
		quoteBytes := quotesb.Get([]byte(id))
		if quoteBytes == nil {
			return nil
		}
		if err := json.Unmarshal(quoteBytes, &quote); err != nil {
			quote = nil
		}
		return nil
	})
	return quote
}
