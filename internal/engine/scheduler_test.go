package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		name    string
		expr    string
		want    time.Duration
		wantErr bool
	}{
		{name: "bare duration", expr: "5m", want: 5 * time.Minute},
		{name: "at-every form", expr: "@every 90s", want: 90 * time.Second},
		{name: "at-every with extra spacing", expr: "@every   1h", want: time.Hour},
		{name: "surrounding whitespace", expr: "  10s  ", want: 10 * time.Second},
		{name: "empty", expr: "", wantErr: true},
		{name: "at-every without interval", expr: "@every", wantErr: true},
		{name: "negative interval", expr: "-5m", wantErr: true},
		{name: "zero interval", expr: "0s", wantErr: true},
		{name: "cron expression rejected", expr: "*/5 * * * *", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSchedule(tc.expr)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSchedulerTicksAndStops(t *testing.T) {
	var runs atomic.Int64
	s := newScheduler(10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())

	s.start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after stop")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := newScheduler(time.Hour, func(ctx context.Context) error { return nil }, zap.NewNop())
	s.start(context.Background())
	s.stop()
	s.stop()
}

func TestSchedulerSurvivesRunErrors(t *testing.T) {
	var runs atomic.Int64
	s := newScheduler(10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		if runs.Load() == 1 {
			return ErrCheckInProgress
		}
		return assert.AnError
	}, zap.NewNop())

	s.start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.stop()
}

func TestSchedulerParentContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newScheduler(time.Hour, func(ctx context.Context) error { return nil }, zap.NewNop())
	s.start(ctx)
	cancel()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit on parent cancellation")
	}
}
