package devchain

import (
	"errors"
	"fmt"
	"math"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/miner"
	"github.com/ahwlsqja/chaincore/types"
)

var ErrUnexpectedSeal = errors.New("solo blocks carry no seal")

// Solo seals every block it is asked to, without a signature.
type Solo struct {
	machine *Machine
}

var _ miner.Engine = (*Solo)(nil)

// NewSolo creates a Solo engine for params.
func NewSolo(params types.CommonParams) *Solo {
	return &Solo{machine: &Machine{params: params}}
}

func (s *Solo) EngineType() miner.EngineType { return miner.EngineSolo }

func (s *Solo) SealsInternally() bool { return true }

func (s *Solo) GenerateSeal(*types.Block, *types.Header) ([][]byte, bool) {
	return [][]byte{}, true
}

func (s *Solo) VerifyLocalSeal(header *types.Header) error {
	if len(header.Seal) != 0 {
		return ErrUnexpectedSeal
	}
	return nil
}

// VerifyTransactionWithParams checks the network id and the minimum fee.
func (s *Solo) VerifyTransactionWithParams(tx *types.UnverifiedTransaction, params *types.CommonParams) error {
	if tx.Transaction().NetworkID != params.NetworkID {
		return &types.SyntaxError{Reason: fmt.Sprintf("invalid network id %q, expected %q", tx.Transaction().NetworkID, params.NetworkID)}
	}
	if tx.Fee() < params.MinFee {
		return &types.SyntaxError{Reason: fmt.Sprintf("fee %d below minimum %d", tx.Fee(), params.MinFee)}
	}
	return nil
}

func (s *Solo) OnOpenBlock(miner.OpenBlock) error { return nil }

func (s *Solo) IsProposal(*types.Header) bool { return false }

func (s *Solo) ProposalGenerated(*types.Block) {}

func (s *Solo) SetSigner(miner.AccountProvider, crypto.Address) {}

func (s *Solo) Machine() miner.Machine { return s.machine }

// Machine verifies transactions against chain state.
type Machine struct {
	params types.CommonParams
}

var _ miner.Machine = (*Machine)(nil)

// VerifyTransactionSeal recovers the signer of tx.
func (m *Machine) VerifyTransactionSeal(tx *types.UnverifiedTransaction, _ *types.Header) (*types.SignedTransaction, error) {
	return types.NewSignedTransaction(tx)
}

// VerifyTransaction rejects self-referencing regular keys and, with verifyTimelock, inputs that
// cannot be spent in header's block yet.
func (m *Machine) VerifyTransaction(tx *types.SignedTransaction, header *types.Header, chain miner.Chain, verifyTimelock bool) error {
	action := tx.Action()
	if action.Type == types.ActionSetRegularKey && *action.Key == tx.SignerPublic() {
		return &types.SyntaxError{Reason: "regular key must differ from the signer"}
	}
	if !verifyTimelock || action.Type != types.ActionTransferAsset {
		return nil
	}

	for _, input := range action.Inputs {
		if input.Timelock == nil {
			continue
		}
		if err := checkTimelock(*input.Timelock, input.PrevOut.Tracker, header, chain); err != nil {
			return err
		}
	}
	return nil
}

func checkTimelock(lock types.Timelock, tracker types.TxHash, header *types.Header, chain miner.Chain) error {
	var current, required uint64
	switch lock.Type {
	case types.TimelockBlock:
		current, required = header.Number, lock.Value
	case types.TimelockTime:
		current, required = header.Timestamp, lock.Value
	case types.TimelockBlockAge:
		number, ok := chain.TransactionBlockNumber(tracker)
		if !ok {
			return &types.HistoryError{Kind: types.HistoryTimelocked, Timelock: &lock, RemainingTime: math.MaxUint64}
		}
		current, required = header.Number, addOrMax(number, lock.Value)
	case types.TimelockTimeAge:
		ts, ok := chain.TransactionBlockTimestamp(tracker)
		if !ok {
			return &types.HistoryError{Kind: types.HistoryTimelocked, Timelock: &lock, RemainingTime: math.MaxUint64}
		}
		current, required = header.Timestamp, addOrMax(ts, lock.Value)
	}
	if current < required {
		return &types.HistoryError{Kind: types.HistoryTimelocked, Timelock: &lock, RemainingTime: required - current}
	}
	return nil
}

func addOrMax(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// GenesisCommonParams returns the params the chain started with.
func (m *Machine) GenesisCommonParams() *types.CommonParams {
	params := m.params
	return &params
}
