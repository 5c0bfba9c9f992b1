package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastEngine() *Engine {
	return NewEngine(
		WithSampleInterval(5*time.Millisecond),
		WithMaxDuration(30*time.Millisecond),
		WithPause(0),
	)
}

func TestEvaluateThreshold(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{"<", 2, false},
		{">=", 1, true},
		{"<=", 1, true},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evaluateThreshold(tt.value, Threshold{Operator: tt.op, Value: 1}), tt.op)
	}
}

func TestSteadyStateFailureAborts(t *testing.T) {
	injected := false
	exp := ChaosExperiment{
		Name: "broken",
		SteadyState: []Metric{{
			Name:      "steady-check",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("unreachable") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error { injected = true; return nil }}},
	}

	result, err := fastEngine().RunExperiment(context.Background(), exp)
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.Len(t, result.Violations, 1)
	assert.False(t, injected)
}

func TestMTTRRecordedAfterRecovery(t *testing.T) {
	var value float64
	exp := ChaosExperiment{
		Name: "flap",
		SteadyState: []Metric{{
			Name:      "errors",
			Query:     func(context.Context) (float64, error) { return value, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method:     []Action{{Execute: func(context.Context) error { value = 1; return nil }}},
		Rollback:   []Action{{Execute: func(context.Context) error { value = 0; return nil }}},
		Validation: []Assertion{{Metric: "errors", Condition: zero, Message: "recovers"}},
	}

	result, err := fastEngine().RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld)
	assert.NotEmpty(t, result.Violations)
	require.NotNil(t, result.MTTR)
}

func TestPredefinedExperimentsHold(t *testing.T) {
	experiments := []ChaosExperiment{
		ConcurrentValidationExperiment(16),
		ArchiveOutageExperiment(4),
		StoreLatencyExperiment(2*time.Millisecond, time.Second),
		StockDriftExperiment(),
	}
	engine := fastEngine()
	for _, exp := range experiments {
		t.Run(exp.Name, func(t *testing.T) {
			result, err := engine.RunExperiment(context.Background(), exp)
			require.NoError(t, err)
			assert.True(t, result.SteadyStateValid)
			assert.True(t, result.HypothesisHeld, "failed checks: %v, errors: %v", result.FailedChecks, result.ErrorEvents)
		})
	}
	assert.Len(t, engine.Results(), len(experiments))
}

func TestStockDriftIsObserved(t *testing.T) {
	result, err := fastEngine().RunExperiment(context.Background(), StockDriftExperiment())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Violations)
	assert.Equal(t, "stock_violations", result.Violations[0].MetricName)
}

func TestExecuteGameDay(t *testing.T) {
	engine := fastEngine()
	engine.RegisterExperiment(StockDriftExperiment())
	engine.RegisterExperiment(ConcurrentValidationExperiment(4))

	results, err := engine.ExecuteGameDay(context.Background(), GameDay{
		Name:      "test",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.HypothesisHeld, r.ExperimentName)
	}
}
