// Package clients wraps the ledger RPC surfaces the protocol needs:
// broadcasting signed transactions, polling their status, and resolving
// already-broadcast transfers.
package clients

import (
	"context"
	"math/big"
)

// TxStatus is the normalized status of a broadcast transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// StatusResult is one poll observation. Err carries the ledger-reported
// failure detail when Status is TxFailed.
type StatusResult struct {
	Status TxStatus
	Err    string
}

// Broadcaster submits raw signed transactions and reports their status.
// A Broadcast error means the ledger rejected the transaction at
// submission time; Status errors are transient and callers treat them as
// "no status yet".
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTx []byte) (txRef string, err error)
	Status(ctx context.Context, txRef string) (StatusResult, error)
}

// Transfer is the resolved payment content of an on-ledger transaction.
type Transfer struct {
	From   string
	To     string
	Amount *big.Int // minor units

	// Contract is the token contract that moved the amount, empty for
	// native-currency transfers. Verifiers match it against the priced
	// asset.
	Contract string

	Confirmed     bool
	Failed        bool
	FailureReason string
}

// TransferLookup resolves an already-broadcast transaction reference into
// its transfer details. Used for networks where the requester broadcasts
// the payment itself.
type TransferLookup interface {
	LookupTransfer(ctx context.Context, txRef string) (*Transfer, error)
}

// BalanceReader reports an address's spendable balance in minor units.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}
