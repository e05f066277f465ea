package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

func TestCoordinator_ShutdownOrder(t *testing.T) {
	graceful := lifecycle.NewManager("graceful", zerolog.Nop())
	forceful := lifecycle.NewManager("forceful", zerolog.Nop())

	var steps []string
	require.NoError(t, graceful.Go("loop", func(h *lifecycle.Handle) {
		<-h.Done()
		steps = append(steps, "loop")
	}))

	c := NewCoordinator(graceful, forceful)
	c.FinalSnapshot = func(context.Context) error {
		steps = append(steps, "snapshot")
		return nil
	}
	c.CloseStores = func(context.Context) error {
		steps = append(steps, "close")
		return nil
	}

	c.Shutdown(nil)
	assert.Equal(t, []string{"loop", "snapshot", "close"}, steps)
}

func TestCoordinator_ForcefulStageStopsStragglers(t *testing.T) {
	graceful := lifecycle.NewManager("graceful", zerolog.Nop())
	forceful := lifecycle.NewManager("forceful", zerolog.Nop())

	gh, err := graceful.NewServiceHandle("drain")
	require.NoError(t, err)
	fh, err := forceful.NewServiceHandle("drain")
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		defer gh.Close()
		defer fh.Close()
		// 忽略优雅信号，只响应强制信号
		<-fh.Done()
		close(stopped)
	}()

	c := NewCoordinator(graceful, forceful)
	c.Timeouts.Graceful = 10 * time.Millisecond
	c.Shutdown(nil)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("强制停机信号没有送达")
	}
}
