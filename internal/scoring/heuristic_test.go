package scoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/sentinel/internal/scoring"
	"github.com/gyaneshwarpardhi/sentinel/internal/transaction"
)

func newScorer(opts ...scoring.Option) *scoring.Heuristic {
	return scoring.NewHeuristic(decimal.RequireFromString("10000"), "USD", "US", opts...)
}

func knownDeviceTx(userID, amount, currency, country string) *transaction.Transaction {
	return &transaction.Transaction{
		ID:         "tx-1",
		UserID:     userID,
		Amount:     decimal.RequireFromString(amount),
		Currency:   currency,
		Location:   map[string]string{"country": country},
		DeviceInfo: map[string]string{"device_id": "dev-1"},
	}
}

func TestHeuristic_LowRiskApproves(t *testing.T) {
	res, err := newScorer().Score(context.Background(), knownDeviceTx("u1", "50", "USD", "US"))
	require.NoError(t, err)

	assert.Equal(t, transaction.DecisionApprove, res.Decision)
	assert.Less(t, res.RiskScore, 0.5)
	assert.Empty(t, res.FraudIndicators)
}

func TestHeuristic_StackedSignalsDecline(t *testing.T) {
	// Critical amount (0.5) + foreign currency (0.15) + cross-border (0.15)
	// + unknown device (0.05) = 0.85.
	tx := knownDeviceTx("u1", "10000", "EUR", "BR")
	tx.DeviceInfo = nil

	res, err := newScorer().Score(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, transaction.DecisionDecline, res.Decision)
	assert.InDelta(t, 0.85, res.RiskScore, 1e-9)
	assert.ElementsMatch(t, []string{
		"amount_above_critical", "foreign_currency", "cross_border", "unknown_device",
	}, res.FraudIndicators)
	assert.Greater(t, res.Confidence, 0.5)
}

func TestHeuristic_MidRiskFlags(t *testing.T) {
	// Half the critical amount (0.25) + foreign currency (0.15) + cross-border
	// (0.15) = 0.55: flagged, not declined.
	res, err := newScorer().Score(context.Background(), knownDeviceTx("u1", "5000", "EUR", "BR"))
	require.NoError(t, err)

	assert.Equal(t, transaction.DecisionFlag, res.Decision)
	assert.InDelta(t, 0.55, res.RiskScore, 1e-9)
	assert.Equal(t, []string{"hold for manual review"}, res.Recommendations)
}

func TestHeuristic_VelocityIndicator(t *testing.T) {
	s := newScorer(scoring.WithVelocity(time.Minute, 2))
	tx := knownDeviceTx("burst-user", "50", "USD", "US")

	for i := 0; i < 2; i++ {
		res, err := s.Score(context.Background(), tx)
		require.NoError(t, err)
		assert.NotContains(t, res.FraudIndicators, "high_velocity")
	}
	res, err := s.Score(context.Background(), tx)
	require.NoError(t, err)
	assert.Contains(t, res.FraudIndicators, "high_velocity")

	// Other users are unaffected.
	other, err := s.Score(context.Background(), knownDeviceTx("calm-user", "50", "USD", "US"))
	require.NoError(t, err)
	assert.NotContains(t, other.FraudIndicators, "high_velocity")
}
