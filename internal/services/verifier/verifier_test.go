package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
)

const wallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *LedgerMock) IsConnected(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *LedgerMock) ValidateAddress(address string) bool {
	return m.Called(address).Bool(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

// ether переводит строку с дробным количеством эфира в wei.
func ether(s string) *big.Int {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic("bad amount " + s)
	}
	r.Mul(r, new(big.Rat).SetInt64(1e18))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

func TestBalanceVerifier_Verify(t *testing.T) {
	minimum := big.NewRat(1, 100) // 0.01 ETH

	tests := []struct {
		name       string
		address    string
		setupMocks func(m *LedgerMock)
		want       Outcome
	}{
		{
			name:    "balance above minimum",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(true).Once()
				m.On("BalanceOf", mock.Anything, wallet).Return(ether("0.02"), nil).Once()
			},
			want: Sufficient,
		},
		{
			name:    "exact minimum succeeds",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(true).Once()
				m.On("BalanceOf", mock.Anything, wallet).Return(ether("0.01"), nil).Once()
			},
			want: Sufficient,
		},
		{
			name:    "balance below minimum",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(true).Once()
				m.On("BalanceOf", mock.Anything, wallet).Return(ether("0.001"), nil).Once()
			},
			want: Insufficient,
		},
		{
			name:    "one wei short",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(true).Once()
				short := new(big.Int).Sub(ether("0.01"), big.NewInt(1))
				m.On("BalanceOf", mock.Anything, wallet).Return(short, nil).Once()
			},
			want: Insufficient,
		},
		{
			name:    "ledger disconnected",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(false).Once()
			},
			want: LedgerUnavailable,
		},
		{
			name:    "ledger error",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(true).Once()
				m.On("BalanceOf", mock.Anything, wallet).Return(nil, errors.New("rpc timeout")).Once()
			},
			want: LedgerError,
		},
		{
			name:    "ledger panics",
			address: wallet,
			setupMocks: func(m *LedgerMock) {
				m.On("ValidateAddress", wallet).Return(true).Once()
				m.On("IsConnected", mock.Anything).Return(true).Once()
				m.On("BalanceOf", mock.Anything, wallet).Panic("decode failure").Once()
			},
			want: LedgerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledgerMock := new(LedgerMock)
			tt.setupMocks(ledgerMock)
			counter := metrics.Verifications.WithLabelValues(tt.want.String())
			before := testutil.ToFloat64(counter)

			v := NewBalanceVerifier(ledgerMock, newNoopLogger())
			got := v.Verify(context.Background(), tt.address, minimum)

			assert.Equal(t, tt.want, got.Outcome)
			assert.Equal(t, tt.want == Sufficient, got.OK())
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
			ledgerMock.AssertExpectations(t)
		})
	}
}

func TestBalanceVerifier_MalformedAddressNeverQueriesLedger(t *testing.T) {
	ledgerMock := new(LedgerMock)
	ledgerMock.On("ValidateAddress", "0xABC").Return(false).Once()

	v := NewBalanceVerifier(ledgerMock, newNoopLogger())
	got := v.Verify(context.Background(), "0xABC", big.NewRat(1, 100))

	assert.Equal(t, InvalidAddress, got.Outcome)
	ledgerMock.AssertNotCalled(t, "BalanceOf", mock.Anything, mock.Anything)
	ledgerMock.AssertNotCalled(t, "IsConnected", mock.Anything)
	ledgerMock.AssertExpectations(t)
}

func TestWeiToEther(t *testing.T) {
	got := WeiToEther(ether("1.5"))
	assert.Equal(t, "1.500000000000000000", got.FloatString(18))
}

func TestApproveAll(t *testing.T) {
	got := ApproveAll{}.Verify(context.Background(), "not-an-address", big.NewRat(1, 1))
	assert.True(t, got.OK())
}
