package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	panicVal any
	executed int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.panicVal != nil {
		panic(m.panicVal)
	}
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func newTestPool(config Config) *Pool {
	return New(config,
		WithLogger(logging.NewDiscard()),
		WithMetrics(metrics.NewPrometheusMetrics()))
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		pool := newTestPool(Config{Size: 5, QueueSize: 3})

		assert.NotNil(t, pool)
		assert.Equal(t, 5, pool.Stats().Size)
		assert.Equal(t, 3, cap(pool.jobs))
	})

	t.Run("normalizes invalid sizes", func(t *testing.T) {
		pool := newTestPool(Config{Size: 0, QueueSize: -4})

		assert.Equal(t, 1, pool.Stats().Size)
		assert.Equal(t, 0, cap(pool.jobs))
	})

	t.Run("default config", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Equal(t, 10, cfg.Size)
		assert.Zero(t, cfg.QueueSize)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("runs every submitted job before shutdown returns", func(t *testing.T) {
		pool := newTestPool(Config{Size: 3})
		pool.Start()

		jobs := make([]*MockJob, 20)
		for i := range jobs {
			jobs[i] = NewMockJob(fmt.Sprintf("job-%d", i), "test", time.Millisecond, nil)
			require.NoError(t, pool.Submit(context.Background(), jobs[i]))
		}

		require.NoError(t, pool.Shutdown())

		for _, job := range jobs {
			assert.Equal(t, int32(1), job.ExecutedCount(), job.ID())
		}
		stats := pool.Stats()
		assert.Equal(t, int64(20), stats.Completed)
		assert.Zero(t, stats.Failed)
		assert.Zero(t, stats.InFlight)
	})

	t.Run("handles multiple start and shutdown calls", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1})
		pool.Start()
		pool.Start()

		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("rejects submit before start", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1})
		err := pool.Submit(context.Background(), NewMockJob("early", "test", 0, nil))
		assert.Error(t, err)
	})

	t.Run("rejects submit after shutdown", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1})
		pool.Start()
		require.NoError(t, pool.Shutdown())

		err := pool.Submit(context.Background(), NewMockJob("late", "test", 0, nil))
		assert.Error(t, err)
	})
}

func TestPoolConcurrencyBound(t *testing.T) {
	const size = 4
	pool := newTestPool(Config{Size: size})
	pool.Start()

	var current, maxSeen int32
	var mu sync.Mutex
	for i := 0; i < 40; i++ {
		job := NewFuncJob(fmt.Sprintf("bound-%d", i), "test", func(ctx context.Context) error {
			n := atomic.AddInt32(&current, 1)
			mu.Lock()
			if n > maxSeen {
				maxSeen = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		})
		require.NoError(t, pool.Submit(context.Background(), job))
	}
	require.NoError(t, pool.Shutdown())

	assert.LessOrEqual(t, int(maxSeen), size)
	assert.LessOrEqual(t, pool.Stats().Peak, size)
	assert.Greater(t, pool.Stats().Peak, 0)
}

func TestPoolFailures(t *testing.T) {
	t.Run("counts job errors", func(t *testing.T) {
		pool := newTestPool(Config{Size: 2})
		pool.Start()

		require.NoError(t, pool.Submit(context.Background(), NewMockJob("bad", "test", 0, errors.New("boom"))))
		require.NoError(t, pool.Submit(context.Background(), NewMockJob("good", "test", 0, nil)))
		require.NoError(t, pool.Shutdown())

		stats := pool.Stats()
		assert.Equal(t, int64(1), stats.Failed)
		assert.Equal(t, int64(1), stats.Completed)
	})

	t.Run("recovers from panicking job", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1})
		pool.Start()

		bad := NewMockJob("panic", "test", 0, nil)
		bad.panicVal = "unexpected"
		after := NewMockJob("after", "test", 0, nil)

		require.NoError(t, pool.Submit(context.Background(), bad))
		require.NoError(t, pool.Submit(context.Background(), after))
		require.NoError(t, pool.Shutdown())

		assert.Equal(t, int32(1), after.ExecutedCount(), "worker must survive a panic")
		assert.Equal(t, int64(1), pool.Stats().Failed)
	})
}

func TestPoolSubmitCancellation(t *testing.T) {
	pool := newTestPool(Config{Size: 1})
	pool.Start()

	release := make(chan struct{})
	blocker := NewFuncJob("blocker", "test", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Submit(context.Background(), blocker))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := pool.Submit(ctx, NewMockJob("waiting", "test", 0, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, pool.Shutdown())
}

func TestPoolJobReceivesSubmitContext(t *testing.T) {
	pool := newTestPool(Config{Size: 1})
	pool.Start()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "scan-1")

	var got any
	job := NewFuncJob("ctx", "test", func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	})
	require.NoError(t, pool.Submit(ctx, job))
	require.NoError(t, pool.Shutdown())

	assert.Equal(t, "scan-1", got)
	assert.Equal(t, "ctx", job.ID())
	assert.Equal(t, "test", job.Type())
}

func TestPoolShutdownTimeout(t *testing.T) {
	pool := newTestPool(Config{Size: 1, ShutdownTimeout: 20 * time.Millisecond})
	pool.Start()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, pool.Submit(context.Background(), NewFuncJob("slow", "test", func(ctx context.Context) error {
		<-release
		return nil
	})))

	assert.Error(t, pool.Shutdown())
}
