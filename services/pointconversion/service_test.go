package pointconversion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stepchange-tokyo/pointsconversion/lib/scrapers/spat4"
	"github.com/stepchange-tokyo/pointsconversion/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestNextDue(t *testing.T) {
	tz := timezone.Location

	cases := []struct {
		name   string
		now    time.Time
		at     TimeOfDay
		expect time.Time
	}{
		{
			name:   "later today",
			now:    time.Date(2024, time.May, 1, 10, 0, 0, 0, tz),
			at:     TimeOfDay{Hour: 14, Minute: 0},
			expect: time.Date(2024, time.May, 1, 14, 0, 0, 0, tz),
		},
		{
			name:   "already passed, tomorrow",
			now:    time.Date(2024, time.May, 1, 16, 0, 0, 0, tz),
			at:     TimeOfDay{Hour: 14, Minute: 0},
			expect: time.Date(2024, time.May, 2, 14, 0, 0, 0, tz),
		},
		{
			name:   "exact match rolls over",
			now:    time.Date(2024, time.May, 1, 14, 0, 0, 0, tz),
			at:     TimeOfDay{Hour: 14, Minute: 0},
			expect: time.Date(2024, time.May, 2, 14, 0, 0, 0, tz),
		},
		{
			name:   "month boundary",
			now:    time.Date(2024, time.January, 31, 23, 0, 0, 0, tz),
			at:     TimeOfDay{Hour: 2, Minute: 30},
			expect: time.Date(2024, time.February, 1, 2, 30, 0, 0, tz),
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			due := nextDue(test.now, test.at)
			require.Equal(t, test.expect, due)
		})
	}

	require.Equal(t,
		4*time.Hour,
		nextDue(cases[0].now, cases[0].at).Sub(cases[0].now),
	)
	require.Equal(t,
		22*time.Hour,
		nextDue(cases[1].now, cases[1].at).Sub(cases[1].now),
	)
}

type fakeSession struct {
	mu       sync.Mutex
	loginErr error
	calls    []string
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Login(ctx context.Context) error {
	f.record("login")
	return f.loginErr
}

func (f *fakeSession) ConvertPoints(ctx context.Context) (spat4.ConversionSummary, error) {
	f.record("convert")
	return spat4.ConversionSummary{Rounds: 1, Completed: 1, StartBalance: 20000, EndBalance: 10000}, nil
}

func (f *fakeSession) Logout(ctx context.Context) error {
	f.record("logout")
	return nil
}

func TestAccountFailureIsolation(t *testing.T) {
	broken := &fakeSession{loginErr: errors.New("connection reset")}
	healthy := &fakeSession{}
	sessions := map[string]*fakeSession{
		"A": broken,
		"B": healthy,
	}

	service, err := NewService(
		[]spat4.Account{{Number: "A"}, {Number: "B"}},
		Options{DailyConversionTime: TimeOfDay{Hour: 14}},
		func(account spat4.Account) (SessionClient, error) {
			return sessions[account.Number], nil
		},
	)
	require.NoError(t, err)

	service.convertAll(context.Background())

	// A stops after the failed login, B runs the whole pipeline
	require.Equal(t, []string{"login"}, broken.recorded())
	require.Equal(t, []string{"login", "convert", "logout"}, healthy.recorded())
}

func TestCancelledDuringStartDelay(t *testing.T) {
	var factoryCalls int
	service, err := NewService(
		[]spat4.Account{{Number: "A"}},
		Options{
			DailyConversionTime: TimeOfDay{Hour: 14},
			MinStartDelay:       time.Hour,
			MaxStartDelay:       2 * time.Hour,
		},
		func(account spat4.Account) (SessionClient, error) {
			factoryCalls++
			return &fakeSession{}, nil
		},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- service.convertAccount(ctx, service.accounts[0])
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not return after cancellation")
	}
	require.Equal(t, 0, factoryCalls)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, Options{
		DailyConversionTime: TimeOfDay{Hour: 14},
		MinStartDelay:       time.Minute,
		MaxStartDelay:       time.Second,
	}, nil)
	require.Error(t, err)

	_, err = NewService(nil, Options{
		DailyConversionTime: TimeOfDay{Hour: 24},
	}, nil)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	service, err := NewService(
		[]spat4.Account{{Number: "A"}},
		Options{DailyConversionTime: TimeOfDay{Hour: 3}},
		func(account spat4.Account) (SessionClient, error) {
			return &fakeSession{}, nil
		},
	)
	require.NoError(t, err)

	service.Start()
	service.Stop()
}
