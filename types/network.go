package types

// Network identifies the settlement ledger a payment runs on.
type Network string

const (
	// Solana networks. Proofs carry a base58-encoded signed transaction
	// that the merchant broadcasts itself.
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet

	// EVM networks. Proofs carry the hash of a transaction the requester
	// already broadcast; the merchant only confirms it.
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsEVM() bool {
	return n == NetworkBase || n == NetworkBaseSepolia
}

func (n Network) IsTestnet() bool {
	return n == NetworkSolanaDevnet || n == NetworkBaseSepolia
}

// Supported reports whether the network is one this module can settle on.
func (n Network) Supported() bool {
	return n.IsSolana() || n.IsEVM()
}

func (n Network) String() string {
	return string(n)
}
