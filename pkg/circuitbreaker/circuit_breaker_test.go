package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = errors.New("provider unavailable")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func failing(ctx context.Context) error { return errProvider }
func passing(ctx context.Context) error { return nil }

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNewWithSettings_Defaults(t *testing.T) {
	cb := NewWithSettings(Settings{Name: "provider"}, nil)

	assert.Equal(t, uint32(5), cb.settings.MaxFailures)
	assert.Equal(t, uint32(3), cb.settings.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NotNil(t, cb.logger)
}

func TestExecute_TripsAfterMaxFailures(t *testing.T) {
	cb := New("provider", 3, time.Minute, quietLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errProvider)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitBreakerError(err))
	assert.False(t, called)
}

func TestExecute_IgnoresNonFailures(t *testing.T) {
	clientErr := errors.New("bad request")
	cb := NewWithSettings(Settings{
		Name:        "provider",
		MaxFailures: 1,
		OpenTimeout: time.Minute,
		IsFailure:   func(err error) bool { return !errors.Is(err, clientErr) },
	}, quietLogger())

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(ctx context.Context) error { return clientErr }), clientErr)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	cancelled := cb.Execute(context.Background(), func(ctx context.Context) error { return context.Canceled })
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRecovery_HalfOpenThenClosed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var transitions []string
	cb := NewWithSettings(Settings{
		Name:             "provider",
		MaxFailures:      1,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 2,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	}, quietLogger())
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.GetState())

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), passing))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(context.Background(), passing))
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewWithSettings(Settings{Name: "provider", MaxFailures: 1, OpenTimeout: time.Second}, quietLogger())
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failing))
	now = now.Add(2 * time.Second)
	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.GetStats().State)
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewWithSettings(Settings{Name: "provider", MaxFailures: 1, OpenTimeout: time.Second, HalfOpenMaxCalls: 1}, quietLogger())
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failing))
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), passing)
	assert.True(t, IsCircuitBreakerError(err))
	close(release)
}

func TestGetStats(t *testing.T) {
	cb := New("provider", 10, time.Minute, quietLogger())
	_ = cb.Execute(context.Background(), passing)
	_ = cb.Execute(context.Background(), failing)

	stats := cb.GetStats()
	assert.Equal(t, "provider", stats.Name)
	assert.Equal(t, uint32(2), stats.Requests)
	assert.Equal(t, uint32(1), stats.Failures)
	assert.Equal(t, uint32(1), stats.Successes)
	assert.False(t, stats.LastFailureTime.IsZero())
}

func TestCircuitBreakerError(t *testing.T) {
	err := fmt.Errorf("send: %w", &CircuitBreakerError{Name: "provider", State: StateOpen})
	assert.True(t, IsCircuitBreakerError(err))
	assert.Contains(t, err.Error(), "circuit breaker 'provider' is OPEN")
	assert.False(t, IsCircuitBreakerError(errProvider))
}

func TestConcurrentAccess(t *testing.T) {
	cb := New("provider", 1000, time.Minute, quietLogger())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(context.Background(), passing)
			} else {
				_ = cb.Execute(context.Background(), failing)
			}
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats()
	assert.Equal(t, uint32(50), stats.Requests)
	assert.Equal(t, uint32(25), stats.Failures)
}
