package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bloodlink/allocator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memoryConfig(addr string) *config.Config {
	return &config.Config{
		HTTPAddr:          addr,
		AdminToken:        "t",
		LogLevel:          "error",
		LedgerDriver:      config.DriverMemory,
		CacheDriver:       config.DriverMemory,
		NotifyBuffer:      8,
		NotifyWorkers:     1,
		NotifyTimeout:     time.Second,
		SideEffectTimeout: time.Second,
	}
}

func TestRunReturnsComponentFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = run(ctx, memoryConfig(ln.Addr().String()), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.NoError(t, ctx.Err(), "run must fail on its own, not wait for the deadline")
}

func TestRunCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, memoryConfig("127.0.0.1:0"), zap.NewNop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
