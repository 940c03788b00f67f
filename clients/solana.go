package clients

import (
	"context"
	"fmt"
	"math/big"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/quantaliz/solaibot/types"
)

// SolanaClient talks to a Solana RPC node. It implements Broadcaster and
// BalanceReader, and exposes the blockhash fetch the transaction builder
// needs for signature validity.
type SolanaClient struct {
	network types.Network
	rpcURL  string
	client  *rpc.Client
}

var (
	_ Broadcaster   = (*SolanaClient)(nil)
	_ BalanceReader = (*SolanaClient)(nil)
)

// NewSolanaClient creates a client for the given Solana network. An empty
// rpcURL selects the public endpoint for that network.
func NewSolanaClient(network types.Network, rpcURL string) (*SolanaClient, error) {
	if !network.IsSolana() {
		return nil, types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not a Solana network", network))
	}

	if rpcURL == "" {
		switch network {
		case types.NetworkSolanaDevnet:
			rpcURL = rpc.DevNet_RPC
		case types.NetworkSolanaMainnet:
			rpcURL = rpc.MainNetBeta_RPC
		}
	}

	return &SolanaClient{
		network: network,
		rpcURL:  rpcURL,
		client:  rpc.New(rpcURL),
	}, nil
}

// Broadcast submits a raw signed transaction. An error here is a
// submission-time rejection (malformed transaction, spent inputs, stale
// blockhash) and is terminal for the payment.
func (c *SolanaClient) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(rawTx))
	if err != nil {
		return "", fmt.Errorf("tx decode failed: %w", err)
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}

	return sig.String(), nil
}

// Status polls the signature status of a broadcast transaction.
func (c *SolanaClient) Status(ctx context.Context, txRef string) (StatusResult, error) {
	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return StatusResult{}, fmt.Errorf("invalid signature %q: %w", txRef, err)
	}

	out, err := c.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return StatusResult{}, err
	}

	if len(out.Value) == 0 || out.Value[0] == nil {
		return StatusResult{Status: TxPending}, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return StatusResult{
			Status: TxFailed,
			Err:    fmt.Sprintf("transaction failed on chain: %v", status.Err),
		}, nil
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return StatusResult{Status: TxConfirmed}, nil
	default:
		return StatusResult{Status: TxPending}, nil
	}
}

// Balance returns the lamport balance of an address.
func (c *SolanaClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	out, err := c.client.GetBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetUint64(out.Value), nil
}

// LatestBlockhash fetches the most recent finalized blockhash, the
// ordering anchor a new transaction must reference to be valid.
func (c *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// Network returns the network this client is bound to.
func (c *SolanaClient) Network() types.Network { return c.network }

// Close releases the client. The underlying HTTP client needs no
// explicit teardown.
func (c *SolanaClient) Close() {}
