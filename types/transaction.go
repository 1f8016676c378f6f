// Package types defines the transaction and block structures shared by the mempool and miner.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cometbft/cometbft/crypto/tmhash"

	"github.com/ahwlsqja/chaincore/crypto"
)

// TxHash identifies a signed transaction.
type TxHash [tmhash.Size]byte

func (h TxHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for logs.
func (h TxHash) Short() string {
	return h.String()[:8]
}

// MarshalText encodes the hash as hex.
func (h TxHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *TxHash) UnmarshalText(text []byte) error {
	return decodeHash(text, h[:])
}

func decodeHash(text []byte, dst []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("invalid hash length: expected %d, got %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}

// ActionType enumerates the kinds of transaction actions.
type ActionType uint8

const (
	ActionPay ActionType = iota + 1
	ActionSetRegularKey
	ActionCreateShard
	ActionStore
	ActionRemove
	ActionCustom
	ActionMintAsset
	ActionTransferAsset
)

func (t ActionType) String() string {
	switch t {
	case ActionPay:
		return "pay"
	case ActionSetRegularKey:
		return "setRegularKey"
	case ActionCreateShard:
		return "createShard"
	case ActionStore:
		return "store"
	case ActionRemove:
		return "remove"
	case ActionCustom:
		return "custom"
	case ActionMintAsset:
		return "mintAsset"
	case ActionTransferAsset:
		return "transferAsset"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// TimelockType selects how a Timelock value is interpreted.
type TimelockType uint8

const (
	TimelockBlock    TimelockType = iota + 1 // absolute block number
	TimelockBlockAge                         // blocks since the spent output was mined
	TimelockTime                             // absolute unix timestamp
	TimelockTimeAge                          // seconds since the spent output was mined
)

// Timelock restricts when an asset input may be spent.
type Timelock struct {
	Type  TimelockType `json:"type"`
	Value uint64       `json:"value"`
}

// IsBlockBased reports whether the timelock is measured in block numbers.
func (t Timelock) IsBlockBased() bool {
	return t.Type == TimelockBlock || t.Type == TimelockBlockAge
}

// AssetOutPoint references an output of a previous asset transaction.
type AssetOutPoint struct {
	Tracker  TxHash `json:"tracker"`
	Index    int    `json:"index"`
	Quantity uint64 `json:"quantity"`
}

// AssetInput spends an AssetOutPoint, optionally behind a timelock.
type AssetInput struct {
	PrevOut  AssetOutPoint `json:"prev_out"`
	Timelock *Timelock     `json:"timelock,omitempty"`
}

// Action is the payload of a transaction. Only the fields relevant to Type are set.
type Action struct {
	Type ActionType `json:"type"`

	// pay
	Receiver *crypto.Address `json:"receiver,omitempty"`
	Quantity uint64          `json:"quantity,omitempty"`

	// setRegularKey
	Key *crypto.Public `json:"key,omitempty"`

	// store / remove / custom
	Content   string `json:"content,omitempty"`
	Target    TxHash `json:"target,omitempty"`
	HandlerID uint64 `json:"handler_id,omitempty"`
	Bytes     []byte `json:"bytes,omitempty"`

	// mintAsset / transferAsset
	ShardID uint16       `json:"shard_id,omitempty"`
	Inputs  []AssetInput `json:"inputs,omitempty"`
}

const (
	MaxTextContentSize = 512
	MaxCustomBytesSize = 4096
	NetworkIDSize      = 2
)

// Transaction is the unsigned body of a transaction.
type Transaction struct {
	Seq       uint64 `json:"seq"`
	Fee       uint64 `json:"fee"`
	NetworkID string `json:"network_id"`
	Action    Action `json:"action"`
}

// Hash returns the message hash that is signed by the sender.
func (tx *Transaction) Hash() []byte {
	data, err := json.Marshal(tx)
	if err != nil {
		panic(fmt.Sprintf("transaction must be encodable: %v", err))
	}
	return tmhash.Sum(data)
}

// IncompleteTransaction is a transaction whose seq is not yet chosen.
type IncompleteTransaction struct {
	Fee       uint64 `json:"fee"`
	NetworkID string `json:"network_id"`
	Action    Action `json:"action"`
}

// Complete fills in the seq.
func (t *IncompleteTransaction) Complete(seq uint64) Transaction {
	return Transaction{
		Seq:       seq,
		Fee:       t.Fee,
		NetworkID: t.NetworkID,
		Action:    t.Action,
	}
}

// UnverifiedTransaction is a transaction with a signature whose signer has not been recovered.
type UnverifiedTransaction struct {
	tx        Transaction
	signature crypto.Signature

	hash TxHash
	size int
}

type unverifiedJSON struct {
	Transaction
	Signature crypto.Signature `json:"signature"`
}

// NewUnverifiedTransaction attaches a signature to a transaction.
func NewUnverifiedTransaction(tx Transaction, sig crypto.Signature) *UnverifiedTransaction {
	u := &UnverifiedTransaction{tx: tx, signature: sig}
	data := u.encode()
	copy(u.hash[:], tmhash.Sum(data))
	u.size = len(data)
	return u
}

func (u *UnverifiedTransaction) encode() []byte {
	data, err := json.Marshal(unverifiedJSON{Transaction: u.tx, Signature: u.signature})
	if err != nil {
		panic(fmt.Sprintf("transaction must be encodable: %v", err))
	}
	return data
}

// MarshalJSON implements json.Marshaler.
func (u *UnverifiedTransaction) MarshalJSON() ([]byte, error) {
	return u.encode(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UnverifiedTransaction) UnmarshalJSON(data []byte) error {
	var raw unverifiedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = *NewUnverifiedTransaction(raw.Transaction, raw.Signature)
	return nil
}

// Hash returns the transaction hash, covering the signature.
func (u *UnverifiedTransaction) Hash() TxHash { return u.hash }

// Size returns the encoded size in bytes.
func (u *UnverifiedTransaction) Size() int { return u.size }

// Transaction returns the unsigned body.
func (u *UnverifiedTransaction) Transaction() *Transaction { return &u.tx }

// Signature returns the attached signature.
func (u *UnverifiedTransaction) Signature() crypto.Signature { return u.signature }

// Seq returns the sender sequence.
func (u *UnverifiedTransaction) Seq() uint64 { return u.tx.Seq }

// Fee returns the transaction fee.
func (u *UnverifiedTransaction) Fee() uint64 { return u.tx.Fee }

// Action returns the transaction action.
func (u *UnverifiedTransaction) Action() *Action { return &u.tx.Action }

// RecoverPublic recovers the signer's public key.
func (u *UnverifiedTransaction) RecoverPublic() (crypto.Public, error) {
	public, err := crypto.RecoverPublic(u.signature, u.tx.Hash())
	if err != nil {
		return public, &SyntaxError{Reason: fmt.Sprintf("invalid signature: %v", err)}
	}
	return public, nil
}

// VerifyBasic performs context-free syntax checks.
func (u *UnverifiedTransaction) VerifyBasic() error {
	tx := &u.tx
	if len(tx.NetworkID) != NetworkIDSize {
		return &SyntaxError{Reason: fmt.Sprintf("invalid network id %q", tx.NetworkID)}
	}

	action := &tx.Action
	switch action.Type {
	case ActionPay:
		if action.Receiver == nil {
			return &SyntaxError{Reason: "pay without receiver"}
		}
		if action.Quantity == 0 {
			return &SyntaxError{Reason: "zero quantity"}
		}
	case ActionSetRegularKey:
		if action.Key == nil {
			return &SyntaxError{Reason: "setRegularKey without key"}
		}
	case ActionCreateShard:
	case ActionStore:
		if len(action.Content) > MaxTextContentSize {
			return &SyntaxError{Reason: fmt.Sprintf("text content too big: %d", len(action.Content))}
		}
	case ActionRemove:
	case ActionCustom:
		if len(action.Bytes) == 0 || len(action.Bytes) > MaxCustomBytesSize {
			return &SyntaxError{Reason: fmt.Sprintf("invalid custom payload size: %d", len(action.Bytes))}
		}
	case ActionMintAsset:
		if action.Quantity == 0 {
			return &SyntaxError{Reason: "zero quantity"}
		}
	case ActionTransferAsset:
		if len(action.Inputs) == 0 {
			return &SyntaxError{Reason: "transferAsset without inputs"}
		}
		for _, input := range action.Inputs {
			if input.Timelock != nil && (input.Timelock.Type < TimelockBlock || input.Timelock.Type > TimelockTimeAge) {
				return &SyntaxError{Reason: fmt.Sprintf("invalid timelock type %d", input.Timelock.Type)}
			}
		}
	default:
		return &SyntaxError{Reason: fmt.Sprintf("unknown action %s", action.Type)}
	}
	return nil
}

// SignedTransaction is an UnverifiedTransaction whose signer has been recovered.
type SignedTransaction struct {
	*UnverifiedTransaction
	signer crypto.Public
}

// NewSignedTransaction recovers the signer of u.
func NewSignedTransaction(u *UnverifiedTransaction) (*SignedTransaction, error) {
	public, err := u.RecoverPublic()
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{UnverifiedTransaction: u, signer: public}, nil
}

// SignTransaction signs tx with signer.
func SignTransaction(tx Transaction, signer crypto.Signer) (*SignedTransaction, error) {
	sig, err := signer.Sign(tx.Hash())
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		UnverifiedTransaction: NewUnverifiedTransaction(tx, sig),
		signer:                signer.Public(),
	}, nil
}

// SignerPublic returns the recovered public key of the signer.
func (s *SignedTransaction) SignerPublic() crypto.Public { return s.signer }

// SignerAddress returns the address of the signer.
func (s *SignedTransaction) SignerAddress() crypto.Address {
	return crypto.PublicToAddress(s.signer)
}

// UnmarshalJSON re-recovers the signer after decoding.
func (s *SignedTransaction) UnmarshalJSON(data []byte) error {
	u := new(UnverifiedTransaction)
	if err := u.UnmarshalJSON(data); err != nil {
		return err
	}
	signed, err := NewSignedTransaction(u)
	if err != nil {
		return err
	}
	*s = *signed
	return nil
}
