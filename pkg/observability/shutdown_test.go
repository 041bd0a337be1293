package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"with custom timeout", 10 * time.Second, 10 * time.Second},
		{"with zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewShutdownManager(NewLogger(logrus.InfoLevel, FormatJSON, &bytes.Buffer{}), &http.Server{}, tt.timeout)
			require.NotNil(t, sm)
			assert.Equal(t, tt.expectedTimeout, sm.shutdownTimeout)
		})
	}
}

func TestShutdownManager_Shutdown(t *testing.T) {
	logger := NewLogger(logrus.InfoLevel, FormatJSON, &bytes.Buffer{})

	t.Run("runs every function", func(t *testing.T) {
		sm := NewShutdownManager(logger, nil, time.Second)
		var calls int32
		for i := 0; i < 3; i++ {
			sm.RegisterShutdownFunc(func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}

		require.NoError(t, sm.Shutdown())
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("reports failures", func(t *testing.T) {
		sm := NewShutdownManager(logger, nil, time.Second)
		sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("close failed") })
		sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

		err := sm.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 errors")
	})

	t.Run("times out", func(t *testing.T) {
		sm := NewShutdownManager(logger, nil, 20*time.Millisecond)
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})

		err := sm.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("stops the server", func(t *testing.T) {
		server := &http.Server{Addr: "127.0.0.1:0"}
		sm := NewShutdownManager(logger, server, time.Second)
		require.NoError(t, sm.Shutdown())
		assert.ErrorIs(t, server.ListenAndServe(), http.ErrServerClosed)
	})
}

func TestShutdownManager_WaitForShutdownContext(t *testing.T) {
	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, FormatJSON, &bytes.Buffer{}), nil, time.Second)
	ran := make(chan struct{})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		close(ran)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.WaitForShutdown(ctx))

	select {
	case <-ran:
	default:
		t.Fatal("shutdown function did not run")
	}
}
