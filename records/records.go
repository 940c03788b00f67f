// Package records is the merchant's payment record store.
//
// Records are append-only: one is created per resource request and
// transitions PENDING -> VERIFYING -> COMPLETED | FAILED exactly once.
// The status field doubles as the per-payment lock: a verifier must win
// the atomic PENDING->VERIFYING transition in GetForVerification before
// doing any work, so no payment ID is ever verified twice.
package records

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantaliz/solaibot/types"
)

// Status of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned when no record exists for a payment ID.
	ErrNotFound = types.NewProtocolError(types.ErrUnknownPayment, "payment not found")

	// ErrNotPending is returned when a verification is requested for a
	// record that already left PENDING.
	ErrNotPending = types.NewProtocolError(types.ErrUnknownPayment, "payment is not pending")
)

// Record is one payment expectation, owned exclusively by the merchant.
type Record struct {
	PaymentID  string
	ResourceID string

	// Requester is the protocol address the original request came from.
	// Proofs from any other address are rejected.
	Requester string

	Price     types.Price
	CreatedAt time.Time
	Status    Status

	// VerifyError holds the failure detail for FAILED records.
	VerifyError string

	// TxRef is the settlement transaction reference. It is retained on
	// confirmation timeout so an operator can reconcile out-of-band.
	TxRef string

	CompletedAt *time.Time
}

// Store keeps payment records in memory, keyed by payment ID.
//
// The store starts empty on every process start, so a restart can never
// resurrect an in-flight verification into a completed payment.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Create stores a new PENDING record with a fresh unguessable payment ID
// and returns a copy. Repeated requests for the same resource by the same
// requester each get their own record; callers that abandon a PENDING
// record simply orphan it.
func (s *Store) Create(resourceID, requester string, price types.Price) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newPaymentID()
	for attempts := 0; ; attempts++ {
		if _, taken := s.records[id]; !taken {
			break
		}
		if attempts > 8 {
			return Record{}, fmt.Errorf("could not generate a unique payment ID")
		}
		id = newPaymentID()
	}

	rec := &Record{
		PaymentID:  id,
		ResourceID: resourceID,
		Requester:  requester,
		Price:      price,
		CreatedAt:  s.now().UTC(),
		Status:     StatusPending,
	}
	s.records[id] = rec

	return *rec, nil
}

// Get returns a copy of the record for a payment ID.
func (s *Store) Get(paymentID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[paymentID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Peek returns a copy of the record without changing its status, failing
// with ErrNotFound for unknown IDs.
func (s *Store) Peek(paymentID string) (Record, error) {
	rec, ok := s.Get(paymentID)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
	}
	return rec, nil
}

// GetForVerification atomically transitions a PENDING record to VERIFYING
// and returns a copy. A record that is absent fails with ErrNotFound; one
// that already left PENDING (a concurrent or repeated proof) fails with
// ErrNotPending and is left untouched.
func (s *Store) GetForVerification(paymentID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[paymentID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
	}
	if rec.Status != StatusPending {
		return Record{}, fmt.Errorf("%w: %s is %s", ErrNotPending, paymentID, rec.Status)
	}

	rec.Status = StatusVerifying
	return *rec, nil
}

// Complete transitions a VERIFYING record to COMPLETED, attaching the
// settlement transaction reference.
func (s *Store) Complete(paymentID, txRef string) (Record, error) {
	return s.finish(paymentID, StatusCompleted, txRef, "")
}

// Fail transitions a VERIFYING record to FAILED. txRef may be empty when
// settlement never produced a reference; on confirmation timeout it must
// carry the reference for manual reconciliation.
func (s *Store) Fail(paymentID, txRef, reason string) (Record, error) {
	return s.finish(paymentID, StatusFailed, txRef, reason)
}

func (s *Store) finish(paymentID string, terminal Status, txRef, reason string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[paymentID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
	}
	if rec.Status != StatusVerifying {
		return Record{}, fmt.Errorf("cannot finish payment %s in status %s", paymentID, rec.Status)
	}

	now := s.now().UTC()
	rec.Status = terminal
	rec.TxRef = txRef
	rec.VerifyError = reason
	rec.CompletedAt = &now

	return *rec, nil
}

// Len returns the number of records ever created.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// newPaymentID generates an ID in the form pay_<16 hex chars>.
func newPaymentID() string {
	u := uuid.New()
	return "pay_" + hex.EncodeToString(u[:8])
}
