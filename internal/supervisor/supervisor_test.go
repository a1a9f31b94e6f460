package supervisor

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsdd-go/wsdd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", config.Overrides{})
	require.NoError(t, err)
	return cfg
}

func TestSupervisor_SIGTERM_Terminates(t *testing.T) {
	s := New(nil)
	s.StopTimeout = 200 * time.Millisecond

	done := make(chan struct{})
	var reload bool
	var runErr error
	go func() {
		reload, runErr = s.Run(context.Background(), testConfig(t))
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after SIGTERM")
	}

	assert.False(t, reload)
	assert.NoError(t, runErr)
}

func TestSupervisor_SIGHUP_RequestsReload(t *testing.T) {
	s := New(nil)
	s.StopTimeout = 200 * time.Millisecond

	done := make(chan struct{})
	var reload bool
	var runErr error
	go func() {
		reload, runErr = s.Run(context.Background(), testConfig(t))
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after SIGHUP")
	}

	assert.True(t, reload)
	assert.NoError(t, runErr)
}

func TestSupervisor_ParentCancellationStops(t *testing.T) {
	s := New(nil)
	s.StopTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = s.Run(ctx, testConfig(t))
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after parent cancellation")
	}
}
