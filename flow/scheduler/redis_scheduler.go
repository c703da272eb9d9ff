package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
)

const (
	pendingTimersKey = "leadflow:pending_timers" // Sorted set, score = wake unix
	timerPrefix      = "leadflow:timer:"         // Per-instance timer payload
	claimBatchSize   = 10
)

// WakeHandler procesa un timer disparado. El scheduler garantiza entrega
// al-menos-una-vez; la idempotencia vive en el motor.
type WakeHandler func(ctx context.Context, fired flow.TimerFired) error

var _ flow.TimerScheduler = (*RedisTimerScheduler)(nil)

// RedisTimerScheduler despertador de instancias suspendidas sobre un sorted
// set de Redis. Un registro por instancia: re-armar reemplaza al anterior.
type RedisTimerScheduler struct {
	redis         *redis.Client
	onWake        WakeHandler
	tick          time.Duration
	workerRunning atomic.Bool
	stopChan      chan struct{}
}

func NewRedisTimerScheduler(redisClient *redis.Client, handler WakeHandler, tick time.Duration) *RedisTimerScheduler {
	if tick <= 0 {
		tick = 2 * time.Second
	}
	return &RedisTimerScheduler{
		redis:    redisClient,
		onWake:   handler,
		tick:     tick,
		stopChan: make(chan struct{}),
	}
}

// timerPayload datos persistidos de un timer armado
type timerPayload struct {
	InstanceID kernel.InstanceID `json:"instance_id"`
	Epoch      int               `json:"epoch"`
	WakeAt     time.Time         `json:"wake_at"`
}

// ============================================================================
// Arm / Disarm
// ============================================================================

func (s *RedisTimerScheduler) Arm(ctx context.Context, instanceID kernel.InstanceID, epoch int, wakeAt time.Time) error {
	payload := timerPayload{
		InstanceID: instanceID,
		Epoch:      epoch,
		WakeAt:     wakeAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal timer payload: %w", err)
	}

	// El payload sobrevive al despertar con un margen para reentregas
	ttl := time.Until(wakeAt) + time.Hour
	key := timerPrefix + instanceID.String()
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store timer payload: %w", err)
	}

	// Miembro = instance ID: ZAdd reemplaza el timer anterior de la instancia
	if err := s.redis.ZAdd(ctx, pendingTimersKey, &redis.Z{
		Score:  float64(wakeAt.Unix()),
		Member: instanceID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to schedule timer: %w", err)
	}

	log.Printf("⏰ Armed timer for instance %s (epoch %d) at %v", instanceID, epoch, wakeAt)
	return nil
}

func (s *RedisTimerScheduler) Disarm(ctx context.Context, instanceID kernel.InstanceID) error {
	if err := s.redis.ZRem(ctx, pendingTimersKey, instanceID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove pending timer: %w", err)
	}
	if err := s.redis.Del(ctx, timerPrefix+instanceID.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete timer payload: %w", err)
	}
	log.Printf("🔕 Disarmed timer for instance %s", instanceID)
	return nil
}

// PendingCount retorna la cantidad de timers armados
func (s *RedisTimerScheduler) PendingCount(ctx context.Context) (int64, error) {
	return s.redis.ZCard(ctx, pendingTimersKey).Result()
}

// ============================================================================
// Worker
// ============================================================================

func (s *RedisTimerScheduler) StartWorker(ctx context.Context) {
	// CAS: un solo goroutine gana aunque StartWorker se llame en paralelo
	if !s.workerRunning.CompareAndSwap(false, true) {
		log.Println("⚠️  Timer scheduler worker already running")
		return
	}
	log.Println("🚀 Starting timer scheduler worker...")
	go s.workerLoop(ctx)
}

func (s *RedisTimerScheduler) StopWorker() {
	// El CAS también protege el close del canal contra un doble Stop
	if !s.workerRunning.CompareAndSwap(true, false) {
		return
	}
	log.Println("🛑 Stopping timer scheduler worker...")
	close(s.stopChan)
}

func (s *RedisTimerScheduler) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️  Timer scheduler worker stopped (context done)")
			return
		case <-s.stopChan:
			log.Println("⏹️  Timer scheduler worker stopped")
			return
		case <-ticker.C:
			if err := s.ProcessDueTimers(ctx); err != nil {
				log.Printf("❌ Error processing due timers: %v", err)
			}
		}
	}
}

// ProcessDueTimers dispara los timers vencidos. Exportado para que los
// tests puedan avanzar el reloj sin correr el worker.
func (s *RedisTimerScheduler) ProcessDueTimers(ctx context.Context) error {
	now := float64(time.Now().Unix())

	due, err := s.redis.ZRangeByScore(ctx, pendingTimersKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: claimBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to fetch due timers: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	log.Printf("📋 Found %d due timers to fire", len(due))

	for _, member := range due {
		// Reclamo atómico: sólo un worker se queda con el timer
		removed, err := s.redis.ZRem(ctx, pendingTimersKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		s.fire(ctx, member)
	}
	return nil
}

func (s *RedisTimerScheduler) fire(ctx context.Context, member string) {
	key := timerPrefix + member
	data, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		log.Printf("❌ Failed to retrieve timer payload for %s: %v", member, err)
		return
	}

	var payload timerPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		log.Printf("❌ Failed to unmarshal timer payload for %s: %v", member, err)
		return
	}

	log.Printf("▶️  Firing timer for instance %s (epoch %d)", payload.InstanceID, payload.Epoch)

	fired := flow.TimerFired{
		InstanceID: payload.InstanceID,
		Epoch:      payload.Epoch,
		WakeAt:     payload.WakeAt,
		FiredAt:    time.Now(),
	}
	if s.onWake != nil {
		if err := s.onWake(ctx, fired); err != nil {
			// El payload sigue en Redis: re-armar y reintentar en el
			// próximo tick en lugar de perder el despertar
			log.Printf("❌ Wake handler failed for instance %s, rescheduling: %v", payload.InstanceID, err)
			s.redis.ZAdd(ctx, pendingTimersKey, &redis.Z{
				Score:  float64(time.Now().Add(s.tick).Unix()),
				Member: member,
			})
			return
		}
	}

	s.redis.Del(ctx, key)
	log.Printf("✅ Timer delivered for instance %s", payload.InstanceID)
}
