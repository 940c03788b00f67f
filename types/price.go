package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceKind tags the two price representations a catalog entry may carry.
type PriceKind string

const (
	PriceFiat  PriceKind = "fiat"  // currency-tagged amount, e.g. "$0.001"
	PriceToken PriceKind = "token" // token base units + contract metadata
)

// LamportsPerSOL is the number of minor units in one SOL.
const LamportsPerSOL = 1_000_000_000

// Price is a tagged union over the two ways a resource can be priced.
// All settlement comparisons go through MinorUnits so that amounts are
// compared as integers in the smallest unit of the settlement currency,
// never as floats.
type Price struct {
	Kind PriceKind

	// Fiat variant.
	Amount   decimal.Decimal
	Currency string

	// Token variant. TokenAmount is already in base units.
	TokenAmount *big.Int
	Contract    string
	Decimals    int
	Symbol      string
}

// ParseFiatPrice parses a currency-tagged amount like "$0.001".
func ParseFiatPrice(s string) (Price, error) {
	if !strings.HasPrefix(s, "$") {
		return Price{}, fmt.Errorf("fiat price must start with '$', got %q", s)
	}

	amount, err := decimal.NewFromString(strings.TrimPrefix(s, "$"))
	if err != nil {
		return Price{}, fmt.Errorf("invalid fiat amount %q: %w", s, err)
	}

	if amount.IsNegative() {
		return Price{}, fmt.Errorf("fiat amount cannot be negative: %q", s)
	}

	return Price{
		Kind:     PriceFiat,
		Amount:   amount,
		Currency: "USD",
	}, nil
}

// TokenPrice builds a token-denominated price from an amount in base units.
func TokenPrice(baseUnits string, contract string, decimals int, symbol string) (Price, error) {
	amount, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return Price{}, fmt.Errorf("invalid token amount %q", baseUnits)
	}

	if amount.Sign() < 0 {
		return Price{}, fmt.Errorf("token amount cannot be negative: %q", baseUnits)
	}

	if decimals < 0 || decimals > 255 {
		return Price{}, fmt.Errorf("invalid token decimals %d", decimals)
	}

	return Price{
		Kind:        PriceToken,
		TokenAmount: amount,
		Contract:    contract,
		Decimals:    decimals,
		Symbol:      symbol,
	}, nil
}

// MinorUnits converts the price into the smallest indivisible unit of the
// settlement currency on the given network.
//
// Token prices are already in base units. Fiat prices settle in SOL on
// Solana networks at the fixed 1 USD = 1 SOL demo rate, so "$0.001"
// becomes 1_000_000 lamports. Fiat prices have no settlement currency on
// EVM networks; EVM resources must be token-priced.
func (p Price) MinorUnits(network Network) (*big.Int, error) {
	switch p.Kind {
	case PriceToken:
		return new(big.Int).Set(p.TokenAmount), nil
	case PriceFiat:
		if !network.IsSolana() {
			return nil, NewProtocolError(ErrUnsupportedNetwork,
				fmt.Sprintf("fiat price %s cannot settle on network %s", p, network))
		}
		lamports := p.Amount.Mul(decimal.NewFromInt(LamportsPerSOL))
		if !lamports.IsInteger() {
			return nil, fmt.Errorf("fiat price %s does not convert to whole lamports", p)
		}
		return lamports.BigInt(), nil
	default:
		return nil, fmt.Errorf("unknown price kind %q", p.Kind)
	}
}

// Covers reports whether a claimed payment of the given minor-unit amount
// meets or exceeds this price on the given network.
func (p Price) Covers(claimed *big.Int, network Network) (bool, error) {
	required, err := p.MinorUnits(network)
	if err != nil {
		return false, err
	}
	return claimed.Cmp(required) >= 0, nil
}

// String renders the price the way it appears on the wire: "$0.001" for
// fiat, "0.01 USDC" for tokens.
func (p Price) String() string {
	switch p.Kind {
	case PriceFiat:
		return "$" + p.Amount.String()
	case PriceToken:
		display := decimal.NewFromBigInt(p.TokenAmount, -int32(p.Decimals))
		return display.String() + " " + p.Symbol
	default:
		return ""
	}
}

// IsZero reports whether the price is the zero value.
func (p Price) IsZero() bool {
	return p.Kind == ""
}
