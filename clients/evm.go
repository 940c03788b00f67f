package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quantaliz/solaibot/types"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMClient resolves already-broadcast EVM transactions into transfer
// details. EVM proofs reference transactions the requester broadcast
// itself, so this client never submits anything.
type EVMClient struct {
	network types.Network
	client  *ethclient.Client
}

var _ TransferLookup = (*EVMClient)(nil)

// NewEVMClient dials an EVM RPC endpoint for the given network.
func NewEVMClient(network types.Network, rpcURL string) (*EVMClient, error) {
	if !network.IsEVM() {
		return nil, types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("network %s is not an EVM network", network))
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial EVM RPC %s: %w", rpcURL, err)
	}

	return &EVMClient{network: network, client: client}, nil
}

// LookupTransfer fetches a transaction by hash and extracts the payment
// it carries: the native value for plain transfers, or the first ERC20
// Transfer event for token payments.
func (c *EVMClient) LookupTransfer(ctx context.Context, txRef string) (*Transfer, error) {
	hash := common.HexToHash(txRef)

	tx, pending, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Transfer{Confirmed: false}, nil
		}
		return nil, err
	}
	if pending {
		return &Transfer{Confirmed: false}, nil
	}

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}

	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Transfer{Confirmed: false}, nil
		}
		return nil, err
	}

	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return &Transfer{
			From:          from.Hex(),
			Confirmed:     true,
			Failed:        true,
			FailureReason: "transaction reverted",
		}, nil
	}

	// Token payment: the value moves in a Transfer event, not tx.value.
	if tx.Value().Sign() == 0 {
		if transfer := tokenTransferFromLogs(receipt.Logs); transfer != nil {
			transfer.Confirmed = true
			return transfer, nil
		}
	}

	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}

	return &Transfer{
		From:      from.Hex(),
		To:        to,
		Amount:    new(big.Int).Set(tx.Value()),
		Confirmed: true,
	}, nil
}

func tokenTransferFromLogs(logs []*gethtypes.Log) *Transfer {
	for _, entry := range logs {
		if len(entry.Topics) != 3 || entry.Topics[0] != erc20TransferTopic {
			continue
		}
		return &Transfer{
			From:     common.BytesToAddress(entry.Topics[1].Bytes()).Hex(),
			To:       common.BytesToAddress(entry.Topics[2].Bytes()).Hex(),
			Amount:   new(big.Int).SetBytes(entry.Data),
			Contract: entry.Address.Hex(),
		}
	}
	return nil
}

// Network returns the network this client is bound to.
func (c *EVMClient) Network() types.Network { return c.network }

// Close closes the underlying RPC connection.
func (c *EVMClient) Close() {
	c.client.Close()
}
