package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracos/syncbridge/internal/bridge"
)

// countingRunner records how often each pass ran.
type countingRunner struct {
	inbound  atomic.Int32
	outbound atomic.Int32
}

func (r *countingRunner) Inbound(context.Context) (bridge.Report, error) {
	r.inbound.Add(1)
	return bridge.Report{Direction: bridge.Inbound}, nil
}

func (r *countingRunner) Outbound(context.Context) (bridge.Report, error) {
	r.outbound.Add(1)
	return bridge.Report{Direction: bridge.Outbound}, nil
}

func testConfig() Config {
	return Config{
		OutboundInterval: time.Hour,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           zerolog.Nop(),
	}
}

// startDaemon runs d in the background and stops it on cleanup.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	runner := &countingRunner{}

	tests := []struct {
		name    string
		runner  Runner
		dir     string
		wantErr bool
	}{
		{"valid", runner, dir, false},
		{"nil runner", nil, dir, true},
		{"empty dir", runner, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.runner, tt.dir, Config{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig().OutboundInterval, d.config.OutboundInterval)
			assert.Equal(t, DefaultConfig().DebounceInterval, d.config.DebounceInterval)
			require.NoError(t, d.Stop())
		})
	}
}

func TestStart_InitialFullSync(t *testing.T) {
	runner := &countingRunner{}
	d, err := New(runner, t.TempDir(), testConfig())
	require.NoError(t, err)
	startDaemon(t, d)

	require.Eventually(t, func() bool {
		return runner.inbound.Load() == 1 && runner.outbound.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_MissingDir(t *testing.T) {
	runner := &countingRunner{}
	d, err := New(runner, filepath.Join(t.TempDir(), "nope"), testConfig())
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.Error(t, err)
	assert.Zero(t, runner.inbound.Load())
}

func TestFileCreationTriggersInbound(t *testing.T) {
	dir := t.TempDir()
	runner := &countingRunner{}
	d, err := New(runner, dir, testConfig())
	require.NoError(t, err)
	startDaemon(t, d)

	require.Eventually(t, func() bool { return runner.inbound.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A burst of writes settles into a single pass.
	for _, name := range []string{"a.json", "b.json", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"orderNo": 1}`), 0o644))
	}

	require.Eventually(t, func() bool { return runner.inbound.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), runner.inbound.Load())
}

func TestIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	runner := &countingRunner{}
	d, err := New(runner, dir, testConfig())
	require.NoError(t, err)
	startDaemon(t, d)

	require.Eventually(t, func() bool { return runner.inbound.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), runner.inbound.Load())
}

func TestOutboundTicker(t *testing.T) {
	runner := &countingRunner{}
	cfg := testConfig()
	cfg.OutboundInterval = 50 * time.Millisecond
	d, err := New(runner, t.TempDir(), cfg)
	require.NoError(t, err)
	startDaemon(t, d)

	require.Eventually(t, func() bool { return runner.outbound.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestOnPass(t *testing.T) {
	runner := &countingRunner{}
	var seen atomic.Int32
	cfg := testConfig()
	cfg.OnPass = func(rep bridge.Report, err error) {
		assert.NoError(t, err)
		seen.Add(1)
	}
	d, err := New(runner, t.TempDir(), cfg)
	require.NoError(t, err)
	startDaemon(t, d)

	require.Eventually(t, func() bool { return seen.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	d, err := New(&countingRunner{}, t.TempDir(), testConfig())
	require.NoError(t, err)
	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
}
