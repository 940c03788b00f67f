package records

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaliz/solaibot/types"
)

func testPrice(t *testing.T) types.Price {
	t.Helper()
	p, err := types.ParseFiatPrice("$0.001")
	require.NoError(t, err)
	return p
}

func TestCreateAssignsFreshIDs(t *testing.T) {
	s := NewStore()
	price := testPrice(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec, err := s.Create("premium_weather", "agent-1", price)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(rec.PaymentID, "pay_"))
		assert.Len(t, rec.PaymentID, len("pay_")+16)
		assert.False(t, seen[rec.PaymentID], "payment ID reused: %s", rec.PaymentID)
		seen[rec.PaymentID] = true

		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, "agent-1", rec.Requester)
		assert.Nil(t, rec.CompletedAt)
	}
	assert.Equal(t, 50, s.Len())
}

func TestGetForVerificationWinsOnce(t *testing.T) {
	s := NewStore()
	rec, err := s.Create("premium_weather", "agent-1", testPrice(t))
	require.NoError(t, err)

	got, err := s.GetForVerification(rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifying, got.Status)

	_, err = s.GetForVerification(rec.PaymentID)
	require.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, types.ErrUnknownPayment, types.ErrorCode(err))

	// The losing caller must not have disturbed the record.
	cur, ok := s.Get(rec.PaymentID)
	require.True(t, ok)
	assert.Equal(t, StatusVerifying, cur.Status)
}

func TestGetForVerificationUnknownID(t *testing.T) {
	s := NewStore()
	_, err := s.GetForVerification("pay_0000000000000000")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Peek("pay_0000000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentVerificationSingleWinner(t *testing.T) {
	s := NewStore()
	rec, err := s.Create("premium_api", "agent-1", testPrice(t))
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.GetForVerification(rec.PaymentID); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	assert.Equal(t, 1, won)
}

func TestCompleteRecordsTxRefAndTimestamp(t *testing.T) {
	s := NewStore()
	rec, err := s.Create("premium_weather", "agent-1", testPrice(t))
	require.NoError(t, err)

	_, err = s.GetForVerification(rec.PaymentID)
	require.NoError(t, err)

	done, err := s.Complete(rec.PaymentID, "5sig")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "5sig", done.TxRef)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.Status.Terminal())
}

func TestFailKeepsTxRefForReconciliation(t *testing.T) {
	s := NewStore()
	rec, err := s.Create("premium_weather", "agent-1", testPrice(t))
	require.NoError(t, err)

	_, err = s.GetForVerification(rec.PaymentID)
	require.NoError(t, err)

	failed, err := s.Fail(rec.PaymentID, "5sig", "transaction not confirmed in time")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "5sig", failed.TxRef)
	assert.Equal(t, "transaction not confirmed in time", failed.VerifyError)
	assert.True(t, failed.Status.Terminal())
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	s := NewStore()
	rec, err := s.Create("premium_weather", "agent-1", testPrice(t))
	require.NoError(t, err)

	_, err = s.GetForVerification(rec.PaymentID)
	require.NoError(t, err)
	_, err = s.Complete(rec.PaymentID, "5sig")
	require.NoError(t, err)

	_, err = s.Complete(rec.PaymentID, "othersig")
	assert.Error(t, err)
	_, err = s.Fail(rec.PaymentID, "", "late failure")
	assert.Error(t, err)
	_, err = s.GetForVerification(rec.PaymentID)
	require.ErrorIs(t, err, ErrNotPending)

	cur, ok := s.Get(rec.PaymentID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, cur.Status)
	assert.Equal(t, "5sig", cur.TxRef)
}

func TestFinishRequiresVerifying(t *testing.T) {
	s := NewStore()
	rec, err := s.Create("premium_weather", "agent-1", testPrice(t))
	require.NoError(t, err)

	// Still PENDING, nobody won verification yet.
	_, err = s.Complete(rec.PaymentID, "5sig")
	assert.Error(t, err)

	cur, ok := s.Get(rec.PaymentID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, cur.Status)
}
