// Package wallet implements the requester side: building and signing
// payment transactions, and driving the purchase flow against a
// merchant. The wallet signs but never broadcasts; settlement timing is
// the merchant's alone.
package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"

	"github.com/quantaliz/solaibot/types"
)

// feeLamports is the estimated network fee for a single-signature
// transaction, reserved on top of the payment amount in the balance
// pre-check.
const feeLamports = 5_000

// RPC is the ledger surface the builder needs. *clients.SolanaClient
// satisfies it; tests inject fakes.
type RPC interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// SignedTransfer is a signed, not-yet-broadcast payment artifact.
type SignedTransfer struct {
	// Base58 is the wire encoding carried in PaymentProof.TransactionHash.
	Base58 string

	From     string
	To       string
	Lamports *big.Int
	Network  types.Network
}

// Wallet holds a requester's signing key for one Solana network.
type Wallet struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    types.Network
	rpc        RPC
}

// New creates a wallet from a base58-encoded private key. The key's
// derived public address must equal declaredAddress; a mismatch fails
// with KeyMismatch before anything is signed with the wrong identity.
func New(network types.Network, privateKeyBase58, declaredAddress string, rpc RPC) (*Wallet, error) {
	if !network.IsSolana() {
		return nil, types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("wallet only signs on Solana networks, got %s", network))
	}

	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	pub := key.PublicKey()
	if pub.String() != declaredAddress {
		return nil, types.NewProtocolError(types.ErrKeyMismatch,
			fmt.Sprintf("private key derives address %s, not declared address %s", pub, declaredAddress))
	}

	return &Wallet{
		privateKey: key,
		publicKey:  pub,
		network:    network,
		rpc:        rpc,
	}, nil
}

// Address returns the wallet's public address.
func (w *Wallet) Address() string {
	return w.publicKey.String()
}

// Network returns the network the wallet signs for.
func (w *Wallet) Network() types.Network {
	return w.network
}

// BuildPayment constructs and signs a transfer of the priced amount to
// the payee.
//
// The payer's balance is checked first against amount plus the estimated
// fee; InsufficientFunds carries the observed balance so the caller can
// decide between funding and abandoning. The transaction references the
// latest finalized blockhash and is returned unsent.
func (w *Wallet) BuildPayment(ctx context.Context, payee string, price types.Price) (*SignedTransfer, error) {
	// Token base units are not lamports; signing them as a system
	// transfer would move the wrong asset.
	if price.Kind == types.PriceToken {
		return nil, types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("resource is priced in %s; this wallet pays native SOL only", price.Symbol))
	}

	amount, err := price.MinorUnits(w.network)
	if err != nil {
		return nil, err
	}

	need := new(big.Int).Add(amount, big.NewInt(feeLamports))
	balance, err := w.rpc.Balance(ctx, w.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}
	if balance.Cmp(need) < 0 {
		return nil, &types.ProtocolError{
			Code: types.ErrInsufficientFunds,
			Message: fmt.Sprintf("balance %s lamports below required %s (amount plus fee)",
				balance, need),
			Data: balance.String(),
		}
	}

	payeePub, err := solana.PublicKeyFromBase58(payee)
	if err != nil {
		return nil, fmt.Errorf("invalid payee address %q: %w", payee, err)
	}

	blockhash, err := w.rpc.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	if !amount.IsUint64() {
		return nil, fmt.Errorf("amount %s exceeds transferable range", amount)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount.Uint64(), w.publicKey, payeePub).Build(),
		},
		blockhash,
		solana.TransactionPayer(w.publicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.publicKey) {
			return &w.privateKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	return &SignedTransfer{
		Base58:   base58.Encode(raw),
		From:     w.Address(),
		To:       payee,
		Lamports: amount,
		Network:  w.network,
	}, nil
}
