package guards

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
)

func testGuardsConfig(budgetUSD float64) *common.GuardsConfig {
	return &common.GuardsConfig{
		MonthlyBudgetUSD: budgetUSD,
		CostPer1KPrompt:  0.01,
		CostPer1KOutput:  0.03,
	}
}

func TestBudgetDisabled(t *testing.T) {
	tracker := NewBudgetTracker(newTestGuardStorage(t), testGuardsConfig(0), common.GetLogger())

	ok, err := tracker.CheckBudget(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBudgetLogAndCheck(t *testing.T) {
	tracker := NewBudgetTracker(newTestGuardStorage(t), testGuardsConfig(0.05), common.GetLogger())
	ctx := context.Background()

	ok, err := tracker.CheckBudget(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	// 1000 prompt + 1000 completion tokens at the test rates costs $0.04
	require.NoError(t, tracker.LogUsage(ctx, "alice", "job-1", "google", "gemini-2.5-flash", 1000, 1000))

	used, err := tracker.MonthlySpend(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 0.04, used, 0.0001)

	ok, err = tracker.CheckBudget(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second call pushes spend to $0.08, over the $0.05 ceiling
	require.NoError(t, tracker.LogUsage(ctx, "alice", "job-1", "google", "gemini-2.5-flash", 1000, 1000))

	ok, err = tracker.CheckBudget(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBudgetPerUser(t *testing.T) {
	tracker := NewBudgetTracker(newTestGuardStorage(t), testGuardsConfig(0.05), common.GetLogger())
	ctx := context.Background()

	require.NoError(t, tracker.LogUsage(ctx, "alice", "job-1", "google", "gemini-2.5-flash", 5000, 5000))

	ok, err := tracker.CheckBudget(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tracker.CheckBudget(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("ab"))
	assert.Equal(t, int64(1), EstimateTokens("abcd"))
	assert.Equal(t, int64(25), EstimateTokens(string(make([]byte, 100))))
}
