package accesskey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/omnia-iot/omnia-backend/codec"
	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/kms"
	"github.com/omnia-iot/omnia-backend/metrics"
	"github.com/omnia-iot/omnia-backend/storage"
)

const (
	DefaultRequestsLimit = 10
	DefaultPrice         = 1_000_000
)

type Config struct {
	// BackendPrincipalID owns the account key payments are made to.
	BackendPrincipalID interfaces.PrincipalID
	RequestsLimit      uint32
	Price              uint64
}

// Engine issues access keys against ledger payments and verifies signed
// presentations of them.
type Engine struct {
	db     *storage.DB
	keys   *storage.Store[interfaces.AccessKeyUID, interfaces.AccessKey]
	spent  *storage.Store[string, interfaces.SpentTransfer]
	ledger interfaces.Ledger
	oracle interfaces.SignatureOracle
	cfg    Config
	newUID func() string
	log    *slog.Logger

	mu      sync.RWMutex
	pubkeys map[interfaces.PrincipalID][]byte
}

func NewEngine(db *storage.DB, ledger interfaces.Ledger, oracle interfaces.SignatureOracle, cfg Config, log *slog.Logger) *Engine {
	if cfg.RequestsLimit == 0 {
		cfg.RequestsLimit = DefaultRequestsLimit
	}
	if cfg.Price == 0 {
		cfg.Price = DefaultPrice
	}
	return &Engine{
		db:      db,
		keys:    storage.NewStore[interfaces.AccessKeyUID, interfaces.AccessKey](db, storage.RegionAccessKeys),
		spent:   storage.NewStore[string, interfaces.SpentTransfer](db, storage.RegionSpentTransfers),
		ledger:  ledger,
		oracle:  oracle,
		cfg:     cfg,
		newUID:  func() string { return uuid.NewString() },
		log:     log,
		pubkeys: make(map[interfaces.PrincipalID][]byte),
	}
}

// MessageHash is the digest a holder signs to present an access key.
func MessageHash(k interfaces.UniqueAccessKey) ([]byte, error) {
	data, err := codec.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize access key: %w", err)
	}
	h := sha256.Sum256(data)
	return h[:], nil
}

// GetRequestKey issues a key to caller against the payment recorded in the
// ledger block at blockIndex. A transfer can pay for one key only.
func (e *Engine) GetRequestKey(ctx context.Context, caller interfaces.PrincipalID, blockIndex uint64) (interfaces.AccessKeyUID, error) {
	block, err := e.ledger.QueryBlock(ctx, blockIndex)
	if err != nil {
		var ledgerErr *interfaces.LedgerError
		if errors.As(err, &ledgerErr) {
			return "", err
		}
		return "", &interfaces.LedgerError{Msg: err.Error()}
	}

	from := e.ledger.AccountOf(caller)
	to := e.ledger.AccountOf(e.cfg.BackendPrincipalID)

	var payment *interfaces.Transfer
	for i := range block.Transfers {
		t := block.Transfers[i]
		if t.From == from && t.To == to && t.Amount == e.cfg.Price {
			payment = &t
			break
		}
	}
	if payment == nil {
		return "", &interfaces.LedgerError{
			Msg: fmt.Sprintf("block %d has no transfer of %d from %s to the backend", blockIndex, e.cfg.Price, caller),
		}
	}

	uid := interfaces.AccessKeyUID(e.newUID())
	err = e.db.Update(func(tx *storage.Tx) error {
		if err := e.spent.In(tx).Create(payment.TransactionHash, interfaces.SpentTransfer{AccessKey: uid, BlockIndex: blockIndex}); err != nil {
			return err
		}
		return e.keys.In(tx).Create(uid, interfaces.AccessKey{
			Key:             uid,
			Owner:           caller,
			TransactionHash: payment.TransactionHash,
			UsedNonces:      []interfaces.Nonce{},
		})
	})
	if err != nil {
		return "", err
	}

	metrics.AccessKeysIssued.Inc()
	e.log.Info("Access key issued", "key", uid, "owner", caller, "block", blockIndex)
	return uid, nil
}

// check applies the budget and replay rules to a stored key.
func (e *Engine) check(key interfaces.AccessKey, nonce interfaces.Nonce) error {
	if key.Counter >= e.cfg.RequestsLimit {
		return interfaces.RejectAccessKey(interfaces.RequestsLimitReached)
	}
	if key.HasUsedNonce(nonce) {
		return interfaces.RejectAccessKey(interfaces.NonceAlreadyUsed)
	}
	return nil
}

func (e *Engine) readKey(keys storage.TxStore[interfaces.AccessKeyUID, interfaces.AccessKey], uid interfaces.AccessKeyUID) (interfaces.AccessKey, error) {
	key, err := keys.Read(uid)
	if errors.Is(err, interfaces.ErrNotFound) {
		return key, interfaces.RejectAccessKey(interfaces.InvalidAccessKey)
	}
	return key, err
}

// VerifySignedRequest spends one request of the presented key. The nonce is
// recorded and the counter incremented only when every check passes.
func (e *Engine) VerifySignedRequest(ctx context.Context, req interfaces.SignedRequest) (interfaces.AccessKey, error) {
	key, err := e.verifySignedRequest(ctx, req)
	result := "ok"
	if err != nil {
		var akErr *interfaces.AccessKeyError
		if errors.As(err, &akErr) {
			result = string(akErr.Reason)
		} else {
			result = "error"
		}
	}
	metrics.AccessKeyPresentations.WithLabelValues(result).Inc()
	return key, err
}

func (e *Engine) verifySignedRequest(ctx context.Context, req interfaces.SignedRequest) (interfaces.AccessKey, error) {
	uak := req.UniqueAccessKey

	var key interfaces.AccessKey
	err := e.db.View(func(tx *storage.Tx) error {
		var err error
		key, err = e.readKey(e.keys.In(tx), uak.Key)
		if err != nil {
			return err
		}
		return e.check(key, uak.Nonce)
	})
	if err != nil {
		return interfaces.AccessKey{}, err
	}

	pubkey, err := e.publicKey(ctx, req.RequesterCanisterID)
	if err != nil {
		return interfaces.AccessKey{}, &interfaces.AccessKeyError{Reason: interfaces.SignatureVerificationError, Message: err.Error()}
	}

	hash, err := MessageHash(uak)
	if err != nil {
		return interfaces.AccessKey{}, err
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.SignatureHex, "0x"))
	if err != nil || !kms.VerifySignature(pubkey, hash, sig) {
		return interfaces.AccessKey{}, interfaces.RejectAccessKey(interfaces.InvalidSignature)
	}

	// The oracle call may have let other presentations through; decide again
	// on the current record.
	err = e.db.Update(func(tx *storage.Tx) error {
		keys := e.keys.In(tx)
		current, err := e.readKey(keys, uak.Key)
		if err != nil {
			return err
		}
		if err := e.check(current, uak.Nonce); err != nil {
			return err
		}
		current.UsedNonces = append(current.UsedNonces, uak.Nonce)
		current.Counter++
		key = current
		return keys.Update(uak.Key, current)
	})
	if err != nil {
		return interfaces.AccessKey{}, err
	}
	return key, nil
}

// publicKey returns the cached key of canister or fetches it from the oracle.
func (e *Engine) publicKey(ctx context.Context, canister interfaces.PrincipalID) ([]byte, error) {
	e.mu.RLock()
	pubkey, ok := e.pubkeys[canister]
	e.mu.RUnlock()
	if ok {
		return pubkey, nil
	}

	pubkey, err := e.oracle.PublicKey(ctx, canister)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.pubkeys[canister] = pubkey
	e.mu.Unlock()
	return pubkey, nil
}

// RevokeAccessKey deletes a key on behalf of its owner.
func (e *Engine) RevokeAccessKey(owner interfaces.PrincipalID, uid interfaces.AccessKeyUID) error {
	err := e.db.Update(func(tx *storage.Tx) error {
		keys := e.keys.In(tx)
		key, err := e.readKey(keys, uid)
		if err != nil {
			return err
		}
		if key.Owner != owner {
			return fmt.Errorf("%w: %s does not own access key %s", interfaces.ErrUnauthorized, owner, uid)
		}
		_, err = keys.Delete(uid)
		return err
	})
	if err != nil {
		return err
	}

	e.log.Info("Access key revoked", "key", uid, "owner", owner)
	return nil
}

func (e *Engine) GetAccessKey(uid interfaces.AccessKeyUID) (interfaces.AccessKey, error) {
	return e.keys.Read(uid)
}
