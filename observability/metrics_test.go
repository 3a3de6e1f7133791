package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTurnIncrementsCounterAndHistogram(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn("gpt-4o", 150*time.Millisecond)
	m.RecordTurn("gpt-4o", 50*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.turnsTotal.WithLabelValues("gpt-4o")))
	// Both observations share the "gpt-4o" label, so the histogram holds one series.
	assert.Equal(t, 1, testutil.CollectAndCount(m.turnDuration))
}

func TestRecordTurnOnNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.RecordTurn("gpt-4o", time.Second) })
}

func TestRecordToolCallAndErrorIncrementCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordToolCall("search", 10*time.Millisecond)
	m.RecordToolError("search", "execution_error")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("search", "execution_error")))
}

func TestRecordTokensSplitsInputAndOutput(t *testing.T) {
	m := NewMetrics()
	m.RecordTokens("claude-x", 100, 50)
	m.RecordTokens("claude-x", 0, 0)

	assert.Equal(t, float64(100), testutil.ToFloat64(m.tokensInput.WithLabelValues("claude-x")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.tokensOutput.WithLabelValues("claude-x")))
}

func TestSessionsActiveAndEvictions(t *testing.T) {
	m := NewMetrics()
	m.SetSessionsActive(3)
	m.RecordEviction()
	m.RecordEviction()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.agentsEvicted))
}
