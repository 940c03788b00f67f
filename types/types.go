// Package types defines the wire messages, networks, prices and error
// codes of the pay-per-access protocol.
package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ResourceRequest asks the merchant for access to a named resource.
type ResourceRequest struct {
	// ID of the resource being requested.
	ResourceID string `json:"resource_id" validate:"required"`

	// Ledger address of the requester, used to match a later proof.
	RequesterAddress string `json:"requester_address,omitempty"`
}

// PaymentRequired is the merchant's reply carrying payment instructions.
type PaymentRequired struct {
	ResourceID string `json:"resource_id" validate:"required"`

	// Price in USD format like "$0.001", or a token display amount.
	Price string `json:"price" validate:"required"`

	// Ledger address the payment must be sent to.
	PayToAddress string `json:"pay_to_address" validate:"required"`

	// Settlement network identifier.
	Network Network `json:"network" validate:"required"`

	// Token contract metadata, set only for token-priced resources.
	TokenAddress  string `json:"token_address,omitempty"`
	TokenDecimals int    `json:"token_decimals,omitempty"`
	TokenName     string `json:"token_name,omitempty"`

	// Opaque unguessable payment correlation ID.
	PaymentID string `json:"payment_id" validate:"required"`

	Message string `json:"message"`
}

// PaymentProof is submitted by the requester claiming a payment was made.
//
// TransactionHash is network-dependent: on Solana it is the base58
// encoding of a signed, not-yet-broadcast transaction; on EVM networks it
// is the hash of a transaction the requester already broadcast.
type PaymentProof struct {
	PaymentID       string  `json:"payment_id" validate:"required"`
	ResourceID      string  `json:"resource_id" validate:"required"`
	TransactionHash string  `json:"transaction_hash" validate:"required"`
	FromAddress     string  `json:"from_address" validate:"required"`
	ToAddress       string  `json:"to_address" validate:"required"`
	Amount          string  `json:"amount" validate:"required"`
	Network         Network `json:"network" validate:"required"`
}

// ResourceAccess is the success terminal: payment settled, payload attached.
type ResourceAccess struct {
	Success      bool                   `json:"success"`
	PaymentID    string                 `json:"payment_id"`
	ResourceID   string                 `json:"resource_id"`
	ResourceData map[string]interface{} `json:"resource_data,omitempty"`
	Message      string                 `json:"message"`
	VerifiedAt   time.Time              `json:"verified_at"`
}

// ResourceError is the failure terminal. PaymentID is empty for failures
// that happen before a payment record exists.
type ResourceError struct {
	Success    bool   `json:"success"`
	PaymentID  string `json:"payment_id,omitempty"`
	ResourceID string `json:"resource_id"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// HealthCheckRequest probes whether the merchant is reachable.
type HealthCheckRequest struct {
	Probe string `json:"probe,omitempty"`
}

// HealthCheckResponse answers a health check.
type HealthCheckResponse struct {
	MerchantAddress string `json:"merchant_address"`
	Message         string `json:"message"`
}

// Validate checks required fields of a ResourceRequest.
func (r *ResourceRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewProtocolError(ErrInvalidMessage, fmt.Sprintf("invalid resource request: %v", err))
	}
	return nil
}

// Validate checks required fields of a PaymentRequired message.
func (p *PaymentRequired) Validate() error {
	if err := validate.Struct(p); err != nil {
		return NewProtocolError(ErrInvalidMessage, fmt.Sprintf("invalid payment instructions: %v", err))
	}
	if !p.Network.Supported() {
		return NewProtocolError(ErrUnsupportedNetwork, fmt.Sprintf("unsupported network: %s", p.Network))
	}
	return nil
}

// Validate checks required fields of a PaymentProof.
func (p *PaymentProof) Validate() error {
	if err := validate.Struct(p); err != nil {
		return NewProtocolError(ErrInvalidMessage, fmt.Sprintf("invalid payment proof: %v", err))
	}
	if !p.Network.Supported() {
		return NewProtocolError(ErrUnsupportedNetwork, fmt.Sprintf("unsupported network: %s", p.Network))
	}
	return nil
}
