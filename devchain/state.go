package devchain

import (
	"fmt"
	"math"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/types"
)

// OpFail as the first byte of a custom action payload makes its script fail.
const OpFail byte = 0xff

type account struct {
	seq        uint64
	balance    uint64
	regularKey *crypto.Public
}

// state is the account state after some block.
type state struct {
	accounts map[crypto.Address]account
	// 정규키 주소 → 소유자 주소
	regularKeyOwners map[crypto.Address]crypto.Address
	assetSupply      map[uint16]uint64
}

func newState(balances map[crypto.Address]uint64) *state {
	s := &state{
		accounts:         make(map[crypto.Address]account, len(balances)),
		regularKeyOwners: make(map[crypto.Address]crypto.Address),
		assetSupply:      make(map[uint16]uint64),
	}
	for addr, balance := range balances {
		s.accounts[addr] = account{balance: balance}
	}
	return s
}

func (s *state) clone() *state {
	c := &state{
		accounts:         make(map[crypto.Address]account, len(s.accounts)),
		regularKeyOwners: make(map[crypto.Address]crypto.Address, len(s.regularKeyOwners)),
		assetSupply:      make(map[uint16]uint64, len(s.assetSupply)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.regularKeyOwners {
		c.regularKeyOwners[k] = v
	}
	for k, v := range s.assetSupply {
		c.assetSupply[k] = v
	}
	return c
}

// payer returns the account charged for a transaction signed by signer.
func (s *state) payer(signer crypto.Public) crypto.Address {
	address := crypto.PublicToAddress(signer)
	if owner, ok := s.regularKeyOwners[address]; ok {
		return owner
	}
	return address
}

// execute applies tx. On error the state is left unchanged.
// known reports whether a transaction hash is already on chain.
func (s *state) execute(tx *types.SignedTransaction, known func(types.TxHash) bool) error {
	payer := s.payer(tx.SignerPublic())
	acc := s.accounts[payer]

	if tx.Seq() != acc.seq {
		return &types.RuntimeError{Kind: types.RuntimeOther, Detail: fmt.Sprintf("invalid seq: expected %d, got %d", acc.seq, tx.Seq())}
	}
	if acc.balance < tx.Fee() {
		return &types.RuntimeError{Kind: types.RuntimeInsufficientBalance, Detail: fmt.Sprintf("balance %d, fee %d", acc.balance, tx.Fee())}
	}
	acc.balance -= tx.Fee()
	acc.seq++

	action := tx.Action()
	switch action.Type {
	case types.ActionPay:
		if acc.balance < action.Quantity {
			return &types.RuntimeError{Kind: types.RuntimeInsufficientBalance, Detail: fmt.Sprintf("balance %d, quantity %d", acc.balance, action.Quantity)}
		}
		acc.balance -= action.Quantity
		receiver := *action.Receiver
		if receiver == payer {
			acc.balance += action.Quantity
			break
		}
		r := s.accounts[receiver]
		if r.balance > math.MaxUint64-action.Quantity {
			return &types.RuntimeError{Kind: types.RuntimeOther, Detail: "receiver balance overflow"}
		}
		r.balance += action.Quantity
		s.accounts[receiver] = r

	case types.ActionSetRegularKey:
		if acc.regularKey != nil {
			delete(s.regularKeyOwners, crypto.PublicToAddress(*acc.regularKey))
		}
		key := *action.Key
		acc.regularKey = &key
		s.regularKeyOwners[crypto.PublicToAddress(key)] = payer

	case types.ActionCustom:
		if action.Bytes[0] == OpFail {
			return types.ErrInvalidScript
		}

	case types.ActionMintAsset:
		supply := s.assetSupply[action.ShardID]
		if supply > math.MaxUint64-action.Quantity {
			return types.ErrAssetSupplyOverflow
		}
		s.assetSupply[action.ShardID] = supply + action.Quantity

	case types.ActionTransferAsset:
		for _, input := range action.Inputs {
			if !known(input.PrevOut.Tracker) {
				return &types.RuntimeError{Kind: types.RuntimeOther, Detail: fmt.Sprintf("unknown asset output %s", input.PrevOut.Tracker.Short())}
			}
		}
	}

	s.accounts[payer] = acc
	return nil
}
