// Package settlement determines, exactly once per payment, whether a
// submitted proof corresponds to a valid, final on-ledger payment.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/quantaliz/solaibot/clients"
	"github.com/quantaliz/solaibot/types"
)

// Default polling policy: once per second, up to 60 attempts.
const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollAttempts = 60
)

// Result is the terminal outcome of settling one payment proof.
type Result struct {
	Success  bool
	Verified bool
	Settled  bool

	// TxRef is the settlement transaction reference. It is set even on
	// confirmation timeout so the payment can be reconciled manually.
	TxRef string

	NetworkID string
	ErrorCode string
	Error     string
}

// Settler is the contract the merchant state machine settles through.
type Settler interface {
	Settle(ctx context.Context, proof *types.PaymentProof, price types.Price, payTo string) (*Result, error)
}

// Service settles payments across the configured networks. Solana proofs
// carry a raw signed transaction that the service broadcasts and polls to
// finality; EVM proofs reference a transaction the requester already
// broadcast, which the service only confirms and inspects.
type Service struct {
	solanaClients map[types.Network]clients.Broadcaster
	evmClients    map[types.Network]clients.TransferLookup

	pollInterval    time.Duration
	maxPollAttempts int
}

var _ Settler = (*Service)(nil)

// NewService creates a settlement service with the default poll policy.
func NewService() *Service {
	return &Service{
		solanaClients:   make(map[types.Network]clients.Broadcaster),
		evmClients:      make(map[types.Network]clients.TransferLookup),
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
	}
}

// SetPollPolicy overrides the confirmation polling interval and bound.
func (s *Service) SetPollPolicy(interval time.Duration, maxAttempts int) {
	if interval > 0 {
		s.pollInterval = interval
	}
	if maxAttempts > 0 {
		s.maxPollAttempts = maxAttempts
	}
}

// AddSolanaClient registers a broadcaster for a Solana network.
func (s *Service) AddSolanaClient(network types.Network, client clients.Broadcaster) error {
	if !network.IsSolana() {
		return types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not a Solana network", network))
	}
	s.solanaClients[network] = client
	return nil
}

// AddEVMClient registers a transfer lookup for an EVM network.
func (s *Service) AddEVMClient(network types.Network, client clients.TransferLookup) error {
	if !network.IsEVM() {
		return types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not an EVM network", network))
	}
	s.evmClients[network] = client
	return nil
}

// IsNetworkSupported reports whether a settlement client is configured
// for the network.
func (s *Service) IsNetworkSupported(network types.Network) bool {
	if network.IsSolana() {
		_, ok := s.solanaClients[network]
		return ok
	}
	if network.IsEVM() {
		_, ok := s.evmClients[network]
		return ok
	}
	return false
}

// Settle verifies and settles one payment proof against the expected
// price and payee. The returned Result is terminal; err is non-nil only
// for caller-side problems such as context cancellation.
func (s *Service) Settle(
	ctx context.Context,
	proof *types.PaymentProof,
	price types.Price,
	payTo string,
) (*Result, error) {
	required, err := price.MinorUnits(proof.Network)
	if err != nil {
		return failure(proof.Network, types.ErrorCode(err), err.Error()), nil
	}

	switch {
	case proof.Network.IsSolana():
		client, ok := s.solanaClients[proof.Network]
		if !ok {
			return failure(proof.Network, types.ErrUnsupportedNetwork,
				fmt.Sprintf("no settlement client configured for network %s", proof.Network)), nil
		}
		return s.settleSolana(ctx, client, proof, required, payTo)

	case proof.Network.IsEVM():
		client, ok := s.evmClients[proof.Network]
		if !ok {
			return failure(proof.Network, types.ErrUnsupportedNetwork,
				fmt.Sprintf("no settlement client configured for network %s", proof.Network)), nil
		}
		return s.settleEVM(ctx, client, proof, price, required, payTo)

	default:
		return failure(proof.Network, types.ErrUnsupportedNetwork,
			fmt.Sprintf("unsupported network: %s", proof.Network)), nil
	}
}

// settleSolana broadcasts the proof's signed transaction and polls for
// finality. The transfer details are checked before broadcast so an
// underpayment or misdirected payment is never submitted to the ledger.
func (s *Service) settleSolana(
	ctx context.Context,
	client clients.Broadcaster,
	proof *types.PaymentProof,
	required *big.Int,
	payTo string,
) (*Result, error) {
	rawTx, err := base58.Decode(proof.TransactionHash)
	if err != nil {
		return failure(proof.Network, types.ErrVerificationFailed,
			fmt.Sprintf("invalid transaction encoding: %v", err)), nil
	}

	if err := verifySolanaTransfer(rawTx, payTo, required); err != nil {
		return failure(proof.Network, types.ErrVerificationFailed, err.Error()), nil
	}

	txRef, err := client.Broadcast(ctx, rawTx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Rejection at submission time is terminal: a stale or
		// double-spent transaction must be rebuilt, not resent.
		return failure(proof.Network, types.ErrSubmissionRejected,
			fmt.Sprintf("transaction rejected by network: %v", err)), nil
	}

	for attempt := 0; attempt < s.maxPollAttempts; attempt++ {
		status, err := client.Status(ctx, txRef)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transient poll errors count as "no status yet".
			status = clients.StatusResult{Status: clients.TxPending}
		}

		switch status.Status {
		case clients.TxConfirmed:
			return &Result{
				Success:   true,
				Verified:  true,
				Settled:   true,
				TxRef:     txRef,
				NetworkID: proof.Network.String(),
			}, nil
		case clients.TxFailed:
			res := failure(proof.Network, types.ErrVerificationFailed, status.Err)
			res.TxRef = txRef
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	// The transaction may still confirm later; keep the reference so an
	// operator can verify out-of-band.
	res := failure(proof.Network, types.ErrConfirmationTimeout,
		fmt.Sprintf("no terminal status after %d attempts; verify tx %s manually",
			s.maxPollAttempts, txRef))
	res.TxRef = txRef
	return res, nil
}

// settleEVM confirms an already-broadcast transaction and verifies its
// transfer details: the asset must be the priced token, the recipient
// must equal the payee and the amount must meet the expected price in
// minor units.
func (s *Service) settleEVM(
	ctx context.Context,
	client clients.TransferLookup,
	proof *types.PaymentProof,
	price types.Price,
	required *big.Int,
	payTo string,
) (*Result, error) {
	txRef := proof.TransactionHash

	for attempt := 0; attempt < s.maxPollAttempts; attempt++ {
		transfer, err := client.LookupTransfer(ctx, txRef)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transfer = &clients.Transfer{Confirmed: false}
		}

		if transfer.Confirmed {
			res := s.verifyEVMTransfer(proof, transfer, price, required, payTo)
			res.TxRef = txRef
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	res := failure(proof.Network, types.ErrConfirmationTimeout,
		fmt.Sprintf("no terminal status after %d attempts; verify tx %s manually",
			s.maxPollAttempts, txRef))
	res.TxRef = txRef
	return res, nil
}

func (s *Service) verifyEVMTransfer(
	proof *types.PaymentProof,
	transfer *clients.Transfer,
	price types.Price,
	required *big.Int,
	payTo string,
) *Result {
	if transfer.Failed {
		return failure(proof.Network, types.ErrVerificationFailed,
			fmt.Sprintf("transaction failed on chain: %s", transfer.FailureReason))
	}

	// Token-priced resources must be paid in the priced token. Any ERC20
	// emits the same Transfer event, so the emitting contract is the only
	// thing that pins the asset.
	if price.Kind == types.PriceToken {
		if transfer.Contract == "" {
			return failure(proof.Network, types.ErrVerificationFailed,
				fmt.Sprintf("payment is a native transfer but the resource is priced in %s", price.Symbol))
		}
		if !strings.EqualFold(transfer.Contract, price.Contract) {
			return failure(proof.Network, types.ErrVerificationFailed,
				fmt.Sprintf("payment token %s does not match required token contract %s",
					transfer.Contract, price.Contract))
		}
	}

	if !strings.EqualFold(transfer.To, payTo) {
		return failure(proof.Network, types.ErrVerificationFailed,
			fmt.Sprintf("payment recipient %s does not match payee %s", transfer.To, payTo))
	}

	if transfer.Amount == nil || transfer.Amount.Cmp(required) < 0 {
		return failure(proof.Network, types.ErrVerificationFailed,
			fmt.Sprintf("payment amount %v below required %v minor units", transfer.Amount, required))
	}

	return &Result{
		Success:   true,
		Verified:  true,
		Settled:   true,
		NetworkID: proof.Network.String(),
	}
}

func failure(network types.Network, code, detail string) *Result {
	return &Result{
		Success:   false,
		NetworkID: network.String(),
		ErrorCode: code,
		Error:     detail,
	}
}
