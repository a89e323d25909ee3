package mock

import (
	context "context"
	reflect "reflect"
	time "time"

	decimal "github.com/shopspring/decimal"
	payrail "github.com/suspectuso/zeruva-rewards/internal/payrail"
	pricefeed "github.com/suspectuso/zeruva-rewards/internal/pricefeed"
	storage "github.com/suspectuso/zeruva-rewards/internal/storage"
	gomock "go.uber.org/mock/gomock"
)

// MockPriceOracle is a mock of PriceOracle interface.
type MockPriceOracle struct {
	ctrl     *gomock.Controller
	recorder *MockPriceOracleMockRecorder
	isgomock struct{}
}

// MockPriceOracleMockRecorder is the mock recorder for MockPriceOracle.
type MockPriceOracleMockRecorder struct {
	mock *MockPriceOracle
}

// NewMockPriceOracle creates a new mock instance.
func NewMockPriceOracle(ctrl *gomock.Controller) *MockPriceOracle {
	mock := &MockPriceOracle{ctrl: ctrl}
	mock.recorder = &MockPriceOracleMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPriceOracle) EXPECT() *MockPriceOracleMockRecorder {
	return m.recorder
}

// SolUSD mocks base method.
func (m *MockPriceOracle) SolUSD(ctx context.Context) (pricefeed.Quote, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SolUSD", ctx)
	ret0, _ := ret[0].(pricefeed.Quote)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// SolUSD indicates an expected call of SolUSD.
func (mr *MockPriceOracleMockRecorder) SolUSD(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SolUSD", reflect.TypeOf((*MockPriceOracle)(nil).SolUSD), ctx)
}

// MockPaymentRail is a mock of PaymentRail interface.
type MockPaymentRail struct {
	ctrl     *gomock.Controller
	recorder *MockPaymentRailMockRecorder
	isgomock struct{}
}

// MockPaymentRailMockRecorder is the mock recorder for MockPaymentRail.
type MockPaymentRailMockRecorder struct {
	mock *MockPaymentRail
}

// NewMockPaymentRail creates a new mock instance.
func NewMockPaymentRail(ctrl *gomock.Controller) *MockPaymentRail {
	mock := &MockPaymentRail{ctrl: ctrl}
	mock.recorder = &MockPaymentRailMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPaymentRail) EXPECT() *MockPaymentRailMockRecorder {
	return m.recorder
}

// Prepare mocks base method.
func (m *MockPaymentRail) Prepare(ctx context.Context, walletID string, lamports uint64) (payrail.Transfer, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Prepare", ctx, walletID, lamports)
	ret0, _ := ret[0].(payrail.Transfer)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Prepare indicates an expected call of Prepare.
func (mr *MockPaymentRailMockRecorder) Prepare(ctx, walletID, lamports any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Prepare", reflect.TypeOf((*MockPaymentRail)(nil).Prepare), ctx, walletID, lamports)
}

// QuoteLamports mocks base method.
func (m *MockPaymentRail) QuoteLamports(usd, rate decimal.Decimal) uint64 {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "QuoteLamports", usd, rate)
	ret0, _ := ret[0].(uint64)
	return ret0
}

// QuoteLamports indicates an expected call of QuoteLamports.
func (mr *MockPaymentRailMockRecorder) QuoteLamports(usd, rate any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "QuoteLamports", reflect.TypeOf((*MockPaymentRail)(nil).QuoteLamports), usd, rate)
}

// Send mocks base method.
func (m *MockPaymentRail) Send(ctx context.Context, t payrail.Transfer) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Send", ctx, t)
	ret0, _ := ret[0].(error)
	return ret0
}

// Send indicates an expected call of Send.
func (mr *MockPaymentRailMockRecorder) Send(ctx, t any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Send", reflect.TypeOf((*MockPaymentRail)(nil).Send), ctx, t)
}

// Verify mocks base method.
func (m *MockPaymentRail) Verify(ctx context.Context, signature string) (payrail.Status, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Verify", ctx, signature)
	ret0, _ := ret[0].(payrail.Status)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Verify indicates an expected call of Verify.
func (mr *MockPaymentRailMockRecorder) Verify(ctx, signature any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Verify", reflect.TypeOf((*MockPaymentRail)(nil).Verify), ctx, signature)
}

// MockExpeditionSync is a mock of ExpeditionSync interface.
type MockExpeditionSync struct {
	ctrl     *gomock.Controller
	recorder *MockExpeditionSyncMockRecorder
	isgomock struct{}
}

// MockExpeditionSyncMockRecorder is the mock recorder for MockExpeditionSync.
type MockExpeditionSyncMockRecorder struct {
	mock *MockExpeditionSync
}

// NewMockExpeditionSync creates a new mock instance.
func NewMockExpeditionSync(ctrl *gomock.Controller) *MockExpeditionSync {
	mock := &MockExpeditionSync{ctrl: ctrl}
	mock.recorder = &MockExpeditionSyncMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockExpeditionSync) EXPECT() *MockExpeditionSyncMockRecorder {
	return m.recorder
}

// Sync mocks base method.
func (m *MockExpeditionSync) Sync(ctx context.Context, q *storage.Queries, walletID string, now time.Time) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Sync", ctx, q, walletID, now)
	ret0, _ := ret[0].(error)
	return ret0
}

// Sync indicates an expected call of Sync.
func (mr *MockExpeditionSyncMockRecorder) Sync(ctx, q, walletID, now any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Sync", reflect.TypeOf((*MockExpeditionSync)(nil).Sync), ctx, q, walletID, now)
}
