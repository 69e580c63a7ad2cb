//go:build unix

package silk_test

import (
	"context"
	"testing"
	"time"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLaunchLockSerializes(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)

	engine := newFakeEngine()
	entered := make(chan struct{})
	release := make(chan struct{})
	engine.onStart = func(model.ContainerSpec) {
		close(entered)
		<-release
	}

	first := newLauncher(t, engine, cfg)
	done := make(chan error, 1)
	go func() {
		_, err := first.StartWorkbench(context.Background())
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first launch never reached the engine")
	}

	// the same workspace is locked now
	second := newLauncher(t, newFakeEngine(), cfg)
	_, err := second.StartWorkbench(t.Context())
	require.ErrorIs(t, err, model.ErrLaunchLocked)

	close(release)
	require.NoError(t, <-done)

	// released lock can be taken again
	_, err = second.StartWorkbench(t.Context())
	require.NoError(t, err)
}
