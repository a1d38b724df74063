package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
)

func testLog() *logger.Logger {
	return logger.New(logger.Config{Level: "error", ServiceName: "test"})
}

func TestDispatcherDeliversEffect(t *testing.T) {
	d := newEffectDispatcher(testLog(), 3, time.Millisecond)

	var calls int32
	d.Enqueue("notify", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	d.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	d := newEffectDispatcher(testLog(), 5, time.Millisecond)

	var calls int32
	d.Enqueue("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	d.Close()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	d := newEffectDispatcher(testLog(), 2, time.Millisecond)

	var calls int32
	d.Enqueue("doomed", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	})
	d.Close()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDispatcherPreservesOrderPerWorker(t *testing.T) {
	d := newEffectDispatcher(testLog(), 1, time.Millisecond)

	var order []string
	d.Enqueue("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	d.Enqueue("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})
	d.Close()

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestCloseIsIdempotent(t *testing.T) {
	d := newEffectDispatcher(testLog(), 1, time.Millisecond)
	d.Close()
	d.Close()
}
