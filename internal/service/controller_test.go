package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgconvert/internal/config"
)

type fakeRunner struct {
	calls   [][]string
	failOn  string
	failErr error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	return f.RunTo(ctx, io.Discard, name, args...)
}

func (f *fakeRunner) RunTo(ctx context.Context, w io.Writer, name string, args ...string) error {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if len(args) > 0 && args[0] == f.failOn {
		return f.failErr
	}
	return nil
}

// fakePinger flips from up to down (or back) after a number of probes
type fakePinger struct {
	up       bool
	flipAt   int
	attempts int
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.attempts++
	up := p.up
	if p.flipAt > 0 && p.attempts >= p.flipAt {
		up = !p.up
	}
	if up {
		return nil
	}
	return errors.New("connection refused")
}

func testConfig() config.ServiceConfig {
	return config.ServiceConfig{
		ControlCommand: "servicectl",
		StopArgs:       []string{"stop", "postgresql"},
		StartArgs:      []string{"start", "postgresql"},
		PollInterval:   time.Millisecond,
		MaxPolls:       5,
	}
}

func TestStopWaitsForShutdown(t *testing.T) {
	runner := &fakeRunner{}
	// Service still answers the first two pings, then shuts down
	pinger := &fakePinger{up: true, flipAt: 3}
	c := NewController(testConfig(), runner, pinger, nil)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, [][]string{{"servicectl", "stop", "postgresql"}}, runner.calls)
	assert.GreaterOrEqual(t, pinger.attempts, 3)
}

func TestStopFailsWhenServiceNeverStops(t *testing.T) {
	runner := &fakeRunner{}
	pinger := &fakePinger{up: true}
	c := NewController(testConfig(), runner, pinger, nil)

	err := c.Stop(context.Background())
	assert.ErrorContains(t, err, "after 5 polls")
	assert.Equal(t, StateUnknown, c.State())
}

func TestStopCommandFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{failOn: "stop", failErr: errors.New("unit not loaded")}
	c := NewController(testConfig(), runner, &fakePinger{}, nil)

	err := c.Stop(context.Background())
	assert.ErrorContains(t, err, "service stop failed")
}

func TestStartWaitsForReadiness(t *testing.T) {
	runner := &fakeRunner{}
	// Service refuses connections for two probes, then comes up
	pinger := &fakePinger{up: false, flipAt: 3}
	c := NewController(testConfig(), runner, pinger, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateStarted, c.State())
}

func TestStartFailsWhenNeverReady(t *testing.T) {
	runner := &fakeRunner{}
	pinger := &fakePinger{up: false}
	c := NewController(testConfig(), runner, pinger, nil)

	err := c.Start(context.Background())
	assert.ErrorContains(t, err, "readiness")
}

func TestStopChecksPidFileWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.PidFile = t.TempDir() + "/absent.pid"
	runner := &fakeRunner{}
	// Pinger claims the service is up; the pid file's absence must win
	c := NewController(cfg, runner, &fakePinger{up: true}, nil)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.State())
}

func TestMarkDataReplacedRequiresStoppedState(t *testing.T) {
	c := NewController(testConfig(), &fakeRunner{}, &fakePinger{}, nil)

	assert.Error(t, c.MarkDataReplaced())

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.MarkDataReplaced())
	assert.Equal(t, StateDataReplaced, c.State())
}

func TestPollHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewController(testConfig(), &fakeRunner{}, &fakePinger{up: true}, nil)
	err := c.Stop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
