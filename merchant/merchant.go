// Package merchant implements the provider side of the pay-per-access
// protocol: it prices resource requests, tracks payment records, and
// releases gated payloads once settlement succeeds.
package merchant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantaliz/solaibot/catalog"
	"github.com/quantaliz/solaibot/logger"
	"github.com/quantaliz/solaibot/metrics"
	"github.com/quantaliz/solaibot/records"
	"github.com/quantaliz/solaibot/settlement"
	"github.com/quantaliz/solaibot/types"
)

// Sender delivers a typed message to a protocol address. The transport
// behind it is external and assumed to be at-least-once.
type Sender interface {
	Send(ctx context.Context, destination string, message interface{}) error
}

// Config identifies the merchant to its counterparties.
type Config struct {
	// ProtocolAddress is the merchant's address on the message transport.
	ProtocolAddress string

	// PayToAddress is the ledger address payments must be sent to.
	PayToAddress string

	// Network is the settlement network advertised in payment
	// instructions.
	Network types.Network
}

// Merchant is the provider-side protocol state machine. Inbound messages
// are processed one at a time by the surrounding transport; settlement
// for each payment runs in its own goroutine so slow ledger polling never
// blocks unrelated messages.
type Merchant struct {
	cfg     Config
	catalog *catalog.Catalog
	store   *records.Store
	settler settlement.Settler
	sender  Sender

	log logger.Logger
	rec metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalPayments int64
	totalAccesses int64
}

// Option configures a Merchant.
type Option func(*Merchant)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Merchant) { m.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Merchant) { m.rec = r }
}

// New creates a merchant over the given catalog, record store, settler
// and outbound sender.
func New(
	cfg Config,
	cat *catalog.Catalog,
	store *records.Store,
	settler settlement.Settler,
	sender Sender,
	opts ...Option,
) (*Merchant, error) {
	if cfg.PayToAddress == "" {
		return nil, fmt.Errorf("merchant pay-to address is required")
	}
	if !cfg.Network.Supported() {
		return nil, types.NewProtocolError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("unsupported network: %s", cfg.Network))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Merchant{
		cfg:     cfg,
		catalog: cat,
		store:   store,
		settler: settler,
		sender:  sender,
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// HandleResourceRequest prices a resource request. Known resources get a
// fresh PENDING payment record and payment instructions; unknown ones
// get a ResourceNotFound error and no record. Every request yields a new
// payment ID, so concurrent or retried purchases of the same resource by
// the same requester never collide.
func (m *Merchant) HandleResourceRequest(ctx context.Context, sender string, req *types.ResourceRequest) error {
	if err := req.Validate(); err != nil {
		return m.sendError(ctx, sender, "", req.ResourceID, err)
	}

	m.log.Info("resource request", map[string]any{
		"resource_id": req.ResourceID,
		"requester":   sender,
	})
	m.rec.IncCounter("resource_requests", map[string]string{"network": m.cfg.Network.String()})

	res, err := m.catalog.Describe(req.ResourceID)
	if err != nil {
		m.log.Warn("resource not found", map[string]any{"resource_id": req.ResourceID})
		return m.sendError(ctx, sender, "", req.ResourceID, err)
	}

	rec, err := m.store.Create(req.ResourceID, sender, res.Price)
	if err != nil {
		return fmt.Errorf("failed to create payment record: %w", err)
	}

	required := types.PaymentRequired{
		ResourceID:   req.ResourceID,
		Price:        res.Price.String(),
		PayToAddress: m.cfg.PayToAddress,
		Network:      m.cfg.Network,
		PaymentID:    rec.PaymentID,
		Message:      fmt.Sprintf("Payment required for %s", res.Description),
	}
	if res.Price.Kind == types.PriceToken {
		required.TokenAddress = res.Price.Contract
		required.TokenDecimals = res.Price.Decimals
		required.TokenName = res.Price.Symbol
	}

	m.log.Info("payment required", map[string]any{
		"payment_id":  rec.PaymentID,
		"resource_id": req.ResourceID,
		"price":       required.Price,
	})

	return m.sender.Send(ctx, sender, &required)
}

// HandlePaymentProof matches a proof against its payment record and, on
// match, starts settlement in the background. The proof's resource,
// originating address and network must all agree with the instructions
// that were issued; mismatched proofs leave
// the record PENDING so the requester can retry with a corrected proof;
// a proof for a payment already verifying or resolved is rejected
// without starting a second verification.
func (m *Merchant) HandlePaymentProof(ctx context.Context, sender string, proof *types.PaymentProof) error {
	if err := proof.Validate(); err != nil {
		return m.sendError(ctx, sender, proof.PaymentID, proof.ResourceID, err)
	}

	m.log.Info("payment proof received", map[string]any{
		"payment_id":  proof.PaymentID,
		"resource_id": proof.ResourceID,
		"network":     proof.Network.String(),
	})

	rec, err := m.store.Peek(proof.PaymentID)
	if err != nil {
		m.log.Warn("unknown payment ID", map[string]any{"payment_id": proof.PaymentID})
		return m.sendError(ctx, sender, proof.PaymentID, proof.ResourceID,
			types.NewProtocolError(types.ErrUnknownPayment, "payment ID not found or expired"))
	}

	if rec.ResourceID != proof.ResourceID {
		m.log.Warn("resource mismatch", map[string]any{
			"payment_id": proof.PaymentID,
			"expected":   rec.ResourceID,
			"got":        proof.ResourceID,
		})
		return m.sendError(ctx, sender, proof.PaymentID, proof.ResourceID,
			types.NewProtocolError(types.ErrResourceMismatch, "payment does not match requested resource"))
	}

	if rec.Requester != sender {
		m.log.Warn("requester mismatch", map[string]any{"payment_id": proof.PaymentID})
		return m.sendError(ctx, sender, proof.PaymentID, proof.ResourceID,
			types.NewProtocolError(types.ErrRequesterMismatch, "payment proof must come from original requester"))
	}

	if proof.Network != m.cfg.Network {
		m.log.Warn("network mismatch", map[string]any{
			"payment_id": proof.PaymentID,
			"expected":   m.cfg.Network.String(),
			"got":        proof.Network.String(),
		})
		return m.sendError(ctx, sender, proof.PaymentID, proof.ResourceID,
			types.NewProtocolError(types.ErrVerificationFailed,
				fmt.Sprintf("payment network %s does not match required network %s", proof.Network, m.cfg.Network)))
	}

	// The status field is the lock: only the first proof for a PENDING
	// record wins this transition, so settlement runs exactly once per
	// payment ID.
	rec, err = m.store.GetForVerification(proof.PaymentID)
	if err != nil {
		if errors.Is(err, records.ErrNotPending) {
			m.log.Warn("payment already resolved or in progress", map[string]any{"payment_id": proof.PaymentID})
		}
		return m.sendError(ctx, sender, proof.PaymentID, proof.ResourceID,
			types.NewProtocolError(types.ErrUnknownPayment, "payment ID not found or expired"))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.settle(sender, rec, proof)
	}()

	return nil
}

// settle runs the settlement verifier and applies its terminal outcome.
// It runs under the merchant's root context: handler contexts end with
// the inbound message, while verification outlives it. On shutdown the
// settler aborts and the record is deliberately left VERIFYING.
func (m *Merchant) settle(sender string, rec records.Record, proof *types.PaymentProof) {
	started := time.Now()

	result, err := m.settler.Settle(m.ctx, proof, rec.Price, m.cfg.PayToAddress)
	if err != nil {
		m.log.Warn("settlement abandoned", map[string]any{
			"payment_id": proof.PaymentID,
			"error":      err.Error(),
		})
		return
	}

	m.rec.ObserveLatency("settlement", time.Since(started),
		map[string]string{"network": proof.Network.String()})

	if result.Success {
		m.completePayment(sender, rec, proof, result)
		return
	}

	m.failPayment(sender, proof, result)
}

func (m *Merchant) completePayment(
	sender string,
	rec records.Record,
	proof *types.PaymentProof,
	result *settlement.Result,
) {
	payload, err := m.catalog.PayloadOf(rec.ResourceID)
	if err != nil {
		// The resource vanished between request and settlement; the
		// catalog is static so this means a programming error.
		m.failPayment(sender, proof, &settlement.Result{
			TxRef:     result.TxRef,
			ErrorCode: types.ErrVerificationFailed,
			Error:     err.Error(),
		})
		return
	}

	updated, err := m.store.Complete(proof.PaymentID, result.TxRef)
	if err != nil {
		m.log.Error("failed to complete payment record", map[string]any{
			"payment_id": proof.PaymentID,
			"error":      err.Error(),
		})
		return
	}

	atomic.AddInt64(&m.totalPayments, 1)
	atomic.AddInt64(&m.totalAccesses, 1)
	m.rec.IncCounter("payments_completed", map[string]string{"network": proof.Network.String()})

	m.log.Info("payment completed", map[string]any{
		"payment_id":  proof.PaymentID,
		"resource_id": rec.ResourceID,
		"tx_ref":      result.TxRef,
	})

	access := types.ResourceAccess{
		Success:      true,
		PaymentID:    proof.PaymentID,
		ResourceID:   rec.ResourceID,
		ResourceData: payload,
		Message:      fmt.Sprintf("Access granted to %s", rec.ResourceID),
		VerifiedAt:   *updated.CompletedAt,
	}

	if err := m.sender.Send(m.ctx, sender, &access); err != nil {
		m.log.Error("failed to deliver resource access", map[string]any{
			"payment_id": proof.PaymentID,
			"error":      err.Error(),
		})
	}
}

func (m *Merchant) failPayment(sender string, proof *types.PaymentProof, result *settlement.Result) {
	if _, err := m.store.Fail(proof.PaymentID, result.TxRef, result.Error); err != nil {
		m.log.Error("failed to record payment failure", map[string]any{
			"payment_id": proof.PaymentID,
			"error":      err.Error(),
		})
		return
	}

	m.rec.IncCounter("payments_failed", map[string]string{"network": proof.Network.String()})

	m.log.Warn("payment failed", map[string]any{
		"payment_id": proof.PaymentID,
		"code":       result.ErrorCode,
		"error":      result.Error,
		"tx_ref":     result.TxRef,
	})

	errMsg := types.ResourceError{
		Success:    false,
		PaymentID:  proof.PaymentID,
		ResourceID: proof.ResourceID,
		Error:      result.ErrorCode,
		Message:    result.Error,
	}

	if err := m.sender.Send(m.ctx, sender, &errMsg); err != nil {
		m.log.Error("failed to deliver resource error", map[string]any{
			"payment_id": proof.PaymentID,
			"error":      err.Error(),
		})
	}
}

// HandleHealthCheck answers a liveness probe.
func (m *Merchant) HandleHealthCheck(ctx context.Context, sender string, _ *types.HealthCheckRequest) error {
	return m.sender.Send(ctx, sender, &types.HealthCheckResponse{
		MerchantAddress: m.cfg.ProtocolAddress,
		Message:         "merchant is online and ready",
	})
}

// Stats returns the lifetime completed-payment and access counts.
func (m *Merchant) Stats() (payments, accesses int64) {
	return atomic.LoadInt64(&m.totalPayments), atomic.LoadInt64(&m.totalAccesses)
}

// Record exposes a copy of a payment record, mainly for operators
// reconciling timed-out settlements.
func (m *Merchant) Record(paymentID string) (records.Record, bool) {
	return m.store.Get(paymentID)
}

// Close aborts in-flight settlements and waits for their goroutines.
// Abandoned records stay VERIFYING and are never auto-completed.
func (m *Merchant) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Merchant) sendError(ctx context.Context, dest, paymentID, resourceID string, cause error) error {
	errMsg := types.ResourceError{
		Success:    false,
		PaymentID:  paymentID,
		ResourceID: resourceID,
		Error:      types.ErrorCode(cause),
		Message:    cause.Error(),
	}
	return m.sender.Send(ctx, dest, &errMsg)
}
