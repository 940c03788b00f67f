package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quantaliz/solaibot/logger"
	"github.com/quantaliz/solaibot/types"
)

// Sender delivers a typed message to a protocol address.
type Sender interface {
	Send(ctx context.Context, destination string, message interface{}) error
}

// Buyer is the requester-side protocol state machine: it requests
// resources, answers payment instructions with signed proofs, and hands
// terminal results to the configured callbacks.
type Buyer struct {
	wallet   *Wallet
	sender   Sender
	merchant string
	log      logger.Logger

	onAccess func(types.ResourceAccess)
	onError  func(types.ResourceError)

	mu      sync.Mutex
	pending map[string]types.PaymentRequired
}

// BuyerOption configures a Buyer.
type BuyerOption func(*Buyer)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) BuyerOption {
	return func(b *Buyer) { b.log = l }
}

// WithAccessHandler sets the callback invoked when a purchase succeeds.
func WithAccessHandler(fn func(types.ResourceAccess)) BuyerOption {
	return func(b *Buyer) { b.onAccess = fn }
}

// WithErrorHandler sets the callback invoked when a purchase fails.
func WithErrorHandler(fn func(types.ResourceError)) BuyerOption {
	return func(b *Buyer) { b.onError = fn }
}

// NewBuyer creates a buyer paying out of the given wallet, talking to
// the merchant at the given protocol address.
func NewBuyer(w *Wallet, sender Sender, merchantAddress string, opts ...BuyerOption) *Buyer {
	b := &Buyer{
		wallet:   w,
		sender:   sender,
		merchant: merchantAddress,
		log:      logger.NoopLogger{},
		onAccess: func(types.ResourceAccess) {},
		onError:  func(types.ResourceError) {},
		pending:  make(map[string]types.PaymentRequired),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RequestResource asks the merchant for access to a resource.
func (b *Buyer) RequestResource(ctx context.Context, resourceID string) error {
	req := types.ResourceRequest{
		ResourceID:       resourceID,
		RequesterAddress: b.wallet.Address(),
	}

	b.log.Info("requesting resource", map[string]any{
		"resource_id": resourceID,
		"merchant":    b.merchant,
	})

	return b.sender.Send(ctx, b.merchant, &req)
}

// HandlePaymentRequired answers payment instructions with a signed
// proof. Local failures (key mismatch, insufficient funds) never leave
// the process: nothing is sent and the error is returned to the caller.
func (b *Buyer) HandlePaymentRequired(ctx context.Context, sender string, msg *types.PaymentRequired) error {
	if sender != b.merchant {
		b.log.Warn("payment instructions from unexpected sender", map[string]any{"sender": sender})
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	res, err := b.catalogPriceOf(msg)
	if err != nil {
		return err
	}

	b.log.Info("payment required", map[string]any{
		"payment_id":  msg.PaymentID,
		"resource_id": msg.ResourceID,
		"price":       msg.Price,
		"pay_to":      msg.PayToAddress,
	})

	transfer, err := b.wallet.BuildPayment(ctx, msg.PayToAddress, res)
	if err != nil {
		var pe *types.ProtocolError
		if errors.As(err, &pe) {
			// Requester-side failures stay local.
			b.log.Error("cannot pay", map[string]any{
				"payment_id": msg.PaymentID,
				"code":       pe.Code,
				"error":      pe.Message,
			})
		}
		return err
	}

	b.mu.Lock()
	b.pending[msg.PaymentID] = *msg
	b.mu.Unlock()

	proof := types.PaymentProof{
		PaymentID:       msg.PaymentID,
		ResourceID:      msg.ResourceID,
		TransactionHash: transfer.Base58,
		FromAddress:     transfer.From,
		ToAddress:       transfer.To,
		Amount:          transfer.Lamports.String(),
		Network:         transfer.Network,
	}

	b.log.Info("submitting payment proof", map[string]any{
		"payment_id": msg.PaymentID,
		"lamports":   proof.Amount,
	})

	return b.sender.Send(ctx, b.merchant, &proof)
}

// catalogPriceOf reconstructs the price descriptor from the payment
// instructions so the builder can reason in minor units.
func (b *Buyer) catalogPriceOf(msg *types.PaymentRequired) (types.Price, error) {
	if msg.TokenAddress != "" {
		return types.Price{}, types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("resource %s is token-priced; this wallet pays native SOL only", msg.ResourceID))
	}
	return types.ParseFiatPrice(msg.Price)
}

// HandleResourceAccess finishes a successful purchase.
func (b *Buyer) HandleResourceAccess(_ context.Context, sender string, msg *types.ResourceAccess) error {
	if sender != b.merchant {
		return nil
	}

	b.clearPending(msg.PaymentID)
	b.log.Info("resource access granted", map[string]any{
		"payment_id":  msg.PaymentID,
		"resource_id": msg.ResourceID,
	})

	b.onAccess(*msg)
	return nil
}

// HandleResourceError finishes a failed purchase.
func (b *Buyer) HandleResourceError(_ context.Context, sender string, msg *types.ResourceError) error {
	if sender != b.merchant {
		return nil
	}

	b.clearPending(msg.PaymentID)
	b.log.Warn("resource request failed", map[string]any{
		"payment_id":  msg.PaymentID,
		"resource_id": msg.ResourceID,
		"error":       msg.Error,
		"message":     msg.Message,
	})

	b.onError(*msg)
	return nil
}

// Pending reports whether a payment is awaiting its terminal response.
func (b *Buyer) Pending(paymentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[paymentID]
	return ok
}

func (b *Buyer) clearPending(paymentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, paymentID)
}
