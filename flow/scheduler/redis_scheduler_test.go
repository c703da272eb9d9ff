package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wakeRecorder struct {
	mu    sync.Mutex
	fired []flow.TimerFired
	err   error
}

func (r *wakeRecorder) handle(ctx context.Context, fired flow.TimerFired) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.fired = append(r.fired, fired)
	return nil
}

func (r *wakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newTestScheduler(t *testing.T, recorder *wakeRecorder) *RedisTimerScheduler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTimerScheduler(client, recorder.handle, time.Second)
}

func TestSchedulerArmAndFire(t *testing.T) {
	recorder := &wakeRecorder{}
	s := newTestScheduler(t, recorder)
	ctx := context.Background()

	instanceID := kernel.NewInstanceID("inst-1")
	wakeAt := time.Now().Add(-time.Minute)
	require.NoError(t, s.Arm(ctx, instanceID, 3, wakeAt))

	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, s.ProcessDueTimers(ctx))

	require.Equal(t, 1, recorder.count())
	fired := recorder.fired[0]
	assert.Equal(t, instanceID, fired.InstanceID)
	assert.Equal(t, 3, fired.Epoch)
	assert.WithinDuration(t, wakeAt, fired.WakeAt, time.Second)

	pending, err = s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestSchedulerFutureTimerNotFired(t *testing.T) {
	recorder := &wakeRecorder{}
	s := newTestScheduler(t, recorder)
	ctx := context.Background()

	require.NoError(t, s.Arm(ctx, kernel.NewInstanceID("inst-1"), 0, time.Now().Add(time.Hour)))
	require.NoError(t, s.ProcessDueTimers(ctx))

	assert.Equal(t, 0, recorder.count())
	pending, _ := s.PendingCount(ctx)
	assert.Equal(t, int64(1), pending)
}

func TestSchedulerRearmReplaces(t *testing.T) {
	recorder := &wakeRecorder{}
	s := newTestScheduler(t, recorder)
	ctx := context.Background()

	instanceID := kernel.NewInstanceID("inst-1")
	require.NoError(t, s.Arm(ctx, instanceID, 1, time.Now().Add(time.Hour)))
	require.NoError(t, s.Arm(ctx, instanceID, 2, time.Now().Add(-time.Minute)))

	// Un timer por instancia: el re-armado reemplaza al anterior
	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, s.ProcessDueTimers(ctx))
	require.Equal(t, 1, recorder.count())
	assert.Equal(t, 2, recorder.fired[0].Epoch)
}

func TestSchedulerDisarm(t *testing.T) {
	recorder := &wakeRecorder{}
	s := newTestScheduler(t, recorder)
	ctx := context.Background()

	instanceID := kernel.NewInstanceID("inst-1")
	require.NoError(t, s.Arm(ctx, instanceID, 0, time.Now().Add(-time.Minute)))
	require.NoError(t, s.Disarm(ctx, instanceID))

	require.NoError(t, s.ProcessDueTimers(ctx))
	assert.Equal(t, 0, recorder.count())
	pending, _ := s.PendingCount(ctx)
	assert.Equal(t, int64(0), pending)
}

func TestSchedulerHandlerFailureRequeues(t *testing.T) {
	recorder := &wakeRecorder{err: errors.New("processor unavailable")}
	s := newTestScheduler(t, recorder)
	ctx := context.Background()

	instanceID := kernel.NewInstanceID("inst-1")
	require.NoError(t, s.Arm(ctx, instanceID, 0, time.Now().Add(-time.Minute)))
	require.NoError(t, s.ProcessDueTimers(ctx))

	// El despertar fallido vuelve a la cola para el próximo tick
	assert.Equal(t, 0, recorder.count())
	pending, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// Cuando el handler se recupera, el timer se entrega
	recorder.mu.Lock()
	recorder.err = nil
	recorder.mu.Unlock()
	time.Sleep(1100 * time.Millisecond) // espera el backoff de un tick
	require.NoError(t, s.ProcessDueTimers(ctx))
	assert.Equal(t, 1, recorder.count())
}

func TestSchedulerDisarmWithoutTimerIsNoop(t *testing.T) {
	recorder := &wakeRecorder{}
	s := newTestScheduler(t, recorder)

	assert.NoError(t, s.Disarm(context.Background(), kernel.NewInstanceID("ghost")))
}

func TestSchedulerWorkerLifecycle(t *testing.T) {
	recorder := &wakeRecorder{}
	s := newTestScheduler(t, recorder)
	ctx := context.Background()

	// Arranques concurrentes: exactamente un worker gana
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.StartWorker(ctx)
		}()
	}
	wg.Wait()

	// Un doble Stop no cierra el canal dos veces
	s.StopWorker()
	assert.NotPanics(t, func() { s.StopWorker() })
}
