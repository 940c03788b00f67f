package merchant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaliz/solaibot/catalog"
	"github.com/quantaliz/solaibot/records"
	"github.com/quantaliz/solaibot/settlement"
	"github.com/quantaliz/solaibot/types"
)

const (
	buyerAddr = "agent://buyer"
	payTo     = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

type sent struct {
	dest string
	msg  interface{}
}

type fakeSender struct {
	msgs chan sent
}

func newFakeSender() *fakeSender {
	return &fakeSender{msgs: make(chan sent, 16)}
}

func (f *fakeSender) Send(_ context.Context, dest string, msg interface{}) error {
	f.msgs <- sent{dest: dest, msg: msg}
	return nil
}

func (f *fakeSender) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.msgs:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent within 2s")
		return sent{}
	}
}

type fakeSettler struct {
	mu       sync.Mutex
	result   *settlement.Result
	err      error
	calls    int
	gotPayTo string
	gotPrice types.Price
}

func (f *fakeSettler) Settle(
	_ context.Context,
	proof *types.PaymentProof,
	price types.Price,
	payToAddr string,
) (*settlement.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotPayTo = payToAddr
	f.gotPrice = price
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSettler) observed() (payTo string, price types.Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotPayTo, f.gotPrice
}

func newTestMerchant(t *testing.T, settler settlement.Settler) (*Merchant, *records.Store, *fakeSender) {
	t.Helper()
	store := records.NewStore()
	sender := newFakeSender()
	m, err := New(
		Config{
			ProtocolAddress: "agent://merchant",
			PayToAddress:    payTo,
			Network:         types.NetworkSolanaDevnet,
		},
		catalog.Default(),
		store,
		settler,
		sender,
	)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, store, sender
}

// requestPayment drives the first protocol leg and returns the payment
// instructions the merchant issued.
func requestPayment(t *testing.T, m *Merchant, sender *fakeSender, resourceID string) types.PaymentRequired {
	t.Helper()
	err := m.HandleResourceRequest(context.Background(), buyerAddr,
		&types.ResourceRequest{ResourceID: resourceID, RequesterAddress: "wallet-1"})
	require.NoError(t, err)

	got := sender.next(t)
	assert.Equal(t, buyerAddr, got.dest)
	required, ok := got.msg.(*types.PaymentRequired)
	require.True(t, ok, "expected PaymentRequired, got %T", got.msg)
	return *required
}

func proofFor(required types.PaymentRequired) *types.PaymentProof {
	return &types.PaymentProof{
		PaymentID:       required.PaymentID,
		ResourceID:      required.ResourceID,
		TransactionHash: "signed-tx-base58",
		FromAddress:     "wallet-1",
		ToAddress:       required.PayToAddress,
		Amount:          "1000000",
		Network:         required.Network,
	}
}

func TestPurchaseHappyPath(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{
		Success: true, Verified: true, Settled: true, TxRef: "5sig",
	}}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_weather")
	assert.Equal(t, "$0.001", required.Price)
	assert.Equal(t, payTo, required.PayToAddress)
	assert.Equal(t, types.NetworkSolanaDevnet, required.Network)
	assert.True(t, strings.HasPrefix(required.PaymentID, "pay_"))
	assert.Contains(t, required.Message, "Real-time premium weather data")

	err := m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required))
	require.NoError(t, err)

	got := sender.next(t)
	access, ok := got.msg.(*types.ResourceAccess)
	require.True(t, ok, "expected ResourceAccess, got %T", got.msg)
	assert.True(t, access.Success)
	assert.Equal(t, required.PaymentID, access.PaymentID)
	assert.Equal(t, "premium_weather", access.ResourceID)
	assert.Contains(t, access.ResourceData, "temperature")
	assert.False(t, access.VerifiedAt.IsZero())

	rec, ok := m.Record(required.PaymentID)
	require.True(t, ok)
	assert.Equal(t, records.StatusCompleted, rec.Status)
	assert.Equal(t, "5sig", rec.TxRef)

	payments, accesses := m.Stats()
	assert.EqualValues(t, 1, payments)
	assert.EqualValues(t, 1, accesses)

	gotPayTo, gotPrice := settler.observed()
	assert.Equal(t, payTo, gotPayTo)
	assert.Equal(t, "$0.001", gotPrice.String())
}

func TestTokenPricedResourceCarriesContractMetadata(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{Success: true}}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_data")
	assert.Equal(t, "0.01 USDC", required.Price)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", required.TokenAddress)
	assert.Equal(t, 6, required.TokenDecimals)
	assert.Equal(t, "USDC", required.TokenName)
}

func TestUnknownResourceCreatesNoRecord(t *testing.T) {
	settler := &fakeSettler{}
	m, store, sender := newTestMerchant(t, settler)

	err := m.HandleResourceRequest(context.Background(), buyerAddr,
		&types.ResourceRequest{ResourceID: "premium_video"})
	require.NoError(t, err)

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrResourceNotFound, resErr.Error)
	assert.Empty(t, resErr.PaymentID)
	assert.Zero(t, store.Len())
}

func TestRepeatedRequestsGetFreshPaymentIDs(t *testing.T) {
	settler := &fakeSettler{}
	m, store, sender := newTestMerchant(t, settler)

	first := requestPayment(t, m, sender, "premium_weather")
	second := requestPayment(t, m, sender, "premium_weather")

	assert.NotEqual(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, 2, store.Len())
}

func TestProofForUnknownPaymentID(t *testing.T) {
	settler := &fakeSettler{}
	m, _, sender := newTestMerchant(t, settler)

	proof := &types.PaymentProof{
		PaymentID:       "pay_ffffffffffffffff",
		ResourceID:      "premium_weather",
		TransactionHash: "tx",
		FromAddress:     "wallet-1",
		ToAddress:       payTo,
		Amount:          "1000000",
		Network:         types.NetworkSolanaDevnet,
	}
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proof))

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnknownPayment, resErr.Error)
	assert.Zero(t, settler.callCount())
}

func TestResourceMismatchLeavesRecordPending(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{Success: true, TxRef: "5sig"}}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_weather")

	wrong := proofFor(required)
	wrong.ResourceID = "premium_api"
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, wrong))

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrResourceMismatch, resErr.Error)

	rec, ok := m.Record(required.PaymentID)
	require.True(t, ok)
	assert.Equal(t, records.StatusPending, rec.Status, "mismatch must not consume the record")

	// A corrected proof for the same payment ID still succeeds.
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required)))
	access := sender.next(t)
	_, ok = access.msg.(*types.ResourceAccess)
	require.True(t, ok, "expected ResourceAccess, got %T", access.msg)
}

func TestNetworkMismatchRejected(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{Success: true, TxRef: "5sig"}}
	store := records.NewStore()
	sender := newFakeSender()
	m, err := New(
		Config{
			ProtocolAddress: "agent://merchant",
			PayToAddress:    "0x384Aa214be0B279cbf211e9b2C992d8633F77848",
			Network:         types.NetworkBase,
		},
		catalog.Default(),
		store,
		settler,
		sender,
	)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	required := requestPayment(t, m, sender, "premium_data")
	assert.Equal(t, types.NetworkBase, required.Network)

	// A proof claiming a cheaper network than the instructions quoted.
	wrong := proofFor(required)
	wrong.Network = types.NetworkBaseSepolia
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, wrong))

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrVerificationFailed, resErr.Error)

	rec, ok := m.Record(required.PaymentID)
	require.True(t, ok)
	assert.Equal(t, records.StatusPending, rec.Status)
	assert.Zero(t, settler.callCount())

	// A proof on the advertised network still settles.
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required)))
	access := sender.next(t)
	_, ok = access.msg.(*types.ResourceAccess)
	require.True(t, ok, "expected ResourceAccess, got %T", access.msg)
}

func TestRequesterMismatchRejected(t *testing.T) {
	settler := &fakeSettler{}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_weather")

	require.NoError(t, m.HandlePaymentProof(context.Background(), "agent://imposter", proofFor(required)))

	got := sender.next(t)
	assert.Equal(t, "agent://imposter", got.dest)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrRequesterMismatch, resErr.Error)

	rec, _ := m.Record(required.PaymentID)
	assert.Equal(t, records.StatusPending, rec.Status)
	assert.Zero(t, settler.callCount())
}

func TestSettlementFailureReleasesNothing(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{
		Success:   false,
		ErrorCode: types.ErrSubmissionRejected,
		Error:     "transaction rejected by network: blockhash not found",
	}}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_weather")
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required)))

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrSubmissionRejected, resErr.Error)

	rec, _ := m.Record(required.PaymentID)
	assert.Equal(t, records.StatusFailed, rec.Status)

	payments, accesses := m.Stats()
	assert.Zero(t, payments)
	assert.Zero(t, accesses)
}

func TestConfirmationTimeoutKeepsTxRefOnRecord(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{
		Success:   false,
		TxRef:     "5sig",
		ErrorCode: types.ErrConfirmationTimeout,
		Error:     "no terminal status after 60 attempts; verify tx 5sig manually",
	}}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_weather")
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required)))

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrConfirmationTimeout, resErr.Error)

	rec, ok := m.Record(required.PaymentID)
	require.True(t, ok)
	assert.Equal(t, records.StatusFailed, rec.Status)
	assert.Equal(t, "5sig", rec.TxRef, "operator must be able to reconcile the timed-out tx")
}

func TestSecondProofAfterCompletionRejected(t *testing.T) {
	settler := &fakeSettler{result: &settlement.Result{Success: true, TxRef: "5sig"}}
	m, _, sender := newTestMerchant(t, settler)

	required := requestPayment(t, m, sender, "premium_weather")
	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required)))

	first := sender.next(t)
	_, ok := first.msg.(*types.ResourceAccess)
	require.True(t, ok)

	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr, proofFor(required)))
	second := sender.next(t)
	resErr, ok := second.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnknownPayment, resErr.Error)

	assert.Equal(t, 1, settler.callCount(), "settlement must run exactly once per payment ID")
}

func TestInvalidProofRejected(t *testing.T) {
	settler := &fakeSettler{}
	m, _, sender := newTestMerchant(t, settler)

	require.NoError(t, m.HandlePaymentProof(context.Background(), buyerAddr,
		&types.PaymentProof{PaymentID: "pay_0011223344556677"}))

	got := sender.next(t)
	resErr, ok := got.msg.(*types.ResourceError)
	require.True(t, ok)
	assert.Equal(t, types.ErrInvalidMessage, resErr.Error)
	assert.Zero(t, settler.callCount())
}

func TestHealthCheck(t *testing.T) {
	settler := &fakeSettler{}
	m, _, sender := newTestMerchant(t, settler)

	require.NoError(t, m.HandleHealthCheck(context.Background(), buyerAddr, &types.HealthCheckRequest{}))

	got := sender.next(t)
	resp, ok := got.msg.(*types.HealthCheckResponse)
	require.True(t, ok)
	assert.Equal(t, "agent://merchant", resp.MerchantAddress)
	assert.NotEmpty(t, resp.Message)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Network: types.NetworkSolanaDevnet}, catalog.Default(),
		records.NewStore(), &fakeSettler{}, newFakeSender())
	assert.Error(t, err, "missing pay-to address")

	_, err = New(Config{PayToAddress: payTo, Network: types.Network("dogecoin")},
		catalog.Default(), records.NewStore(), &fakeSettler{}, newFakeSender())
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedNetwork, types.ErrorCode(err))
}
