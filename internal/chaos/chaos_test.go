// internal/chaos/chaos_test.go
package chaos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvaluateThreshold(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evaluateThreshold(tt.value, Threshold{Operator: tt.op, Value: 1}), "%v %s 1", tt.value, tt.op)
	}
}

func TestRunAbortsOnInvalidSteadyState(t *testing.T) {
	e := NewEngine(quietLogger())
	executed := false

	result, err := e.Run(context.Background(), Experiment{
		Name: "broken",
		SteadyState: []Metric{{
			Name:      "always_one",
			Query:     func(context.Context) (float64, error) { return 1, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error { executed = true; return nil }}},
	})
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.Len(t, result.Violations, 1)
	assert.False(t, executed)
	assert.Empty(t, e.Results())
}

func TestRunRecordsFailuresAndRecovery(t *testing.T) {
	e := NewEngine(quietLogger())
	value := 0.0

	result, err := e.Run(context.Background(), Experiment{
		Name: "flip",
		SteadyState: []Metric{{
			Name:      "errors",
			Query:     func(context.Context) (float64, error) { return value, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{
			{Target: "switch", Execute: func(context.Context) error { value = 1; return nil }},
			{Target: "broken", Execute: func(context.Context) error { return errors.New("boom") }},
		},
		Rollback: []Action{
			{Target: "switch", Execute: func(context.Context) error { value = 0; return nil }},
		},
		Validation: []Assertion{{
			Metric:    "errors",
			Condition: func(v float64) bool { return v == 0 },
			Message:   "errors clear after rollback",
		}},
		Duration:    30 * time.Millisecond,
		SampleEvery: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld)
	assert.NotEmpty(t, result.Violations)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "broken", result.ErrorEvents[0].Component)
	require.NotNil(t, result.MTTR)
	assert.Len(t, e.Results(), 1)
}

func TestFailedAssertionsAreReported(t *testing.T) {
	e := NewEngine(quietLogger())

	result, err := e.Run(context.Background(), Experiment{
		Name: "unobserved",
		Validation: []Assertion{{
			Metric:    "missing",
			Condition: func(float64) bool { return true },
			Message:   "missing metric",
		}},
		Duration: time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"missing metric"}, result.FailedAssertions)
}

func assertHeld(t *testing.T, result *Result) {
	t.Helper()
	assert.True(t, result.HypothesisHeld, "failed assertions: %v, errors: %v", result.FailedAssertions, result.ErrorEvents)
	assert.Empty(t, result.ErrorEvents)
}

func TestConcurrentLoanRace(t *testing.T) {
	desk := NewDesk(quietLogger(), 50*time.Millisecond)
	result, err := NewEngine(quietLogger()).Run(context.Background(), ConcurrentLoanRace(desk, 60, 4))
	require.NoError(t, err)
	assertHeld(t, result)
	assert.Empty(t, desk.Coord.Audit())
}

func TestReturnStorm(t *testing.T) {
	desk := NewDesk(quietLogger(), 50*time.Millisecond)
	result, err := NewEngine(quietLogger()).Run(context.Background(), ReturnStorm(desk, 8, 12))
	require.NoError(t, err)
	assertHeld(t, result)
}

func TestPersistenceOutage(t *testing.T) {
	desk := NewDesk(quietLogger(), 50*time.Millisecond)
	result, err := NewEngine(quietLogger()).Run(context.Background(), PersistenceOutage(desk, 10))
	require.NoError(t, err)
	assertHeld(t, result)
	assert.NotEmpty(t, result.Violations, "the store falls behind during the outage")
	assert.Equal(t, gobreaker.StateClosed, desk.Breaker.State())
}

func TestGameDayRunsEveryExperiment(t *testing.T) {
	desk := NewDesk(quietLogger(), 50*time.Millisecond)
	e := NewEngine(quietLogger())
	e.RegisterExperiments(desk)

	results, err := e.ExecuteGameDay(context.Background(), GameDay{
		Name:      "test day",
		Date:      time.Now(),
		Scenarios: e.Experiments(),
		Pause:     time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := range results {
		assertHeld(t, &results[i])
	}
}
