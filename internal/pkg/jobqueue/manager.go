package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/FormLoom/FormLoom/internal/pkg/billing"
	"github.com/FormLoom/FormLoom/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

// Sweeper is the daily maintenance pass over billing state.
type Sweeper interface {
	SweepExpired(ctx context.Context) (*billing.SweepStats, error)
}

// MeterRetrier re-sends usage events that failed to reach the metering API.
type MeterRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// Manager runs the periodic background tasks: the daily entitlement sweep
// and the hourly meter-event retry.
type Manager struct {
	sweeper      Sweeper
	meterRetrier MeterRetrier

	sweepTicker *time.Ticker
	retryTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global background task manager (singleton).
// Initialize must be called before Start.
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// Initialize injects the task dependencies. Called once during app setup,
// before Start.
func (m *Manager) Initialize(sweeper Sweeper, meterRetrier MeterRetrier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeper = sweeper
	m.meterRetrier = meterRetrier
}

// Start starts the background tasks.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting background tasks")

	sweepInterval := intervalFromEnv("SWEEP_INTERVAL", 24*time.Hour)
	retryInterval := intervalFromEnv("METER_RETRY_INTERVAL", time.Hour)

	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker()

	m.retryTicker = time.NewTicker(retryInterval)
	m.wg.Add(1)
	go m.meterRetryWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the background tasks and waits for in-flight runs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.sweepTicker.C:
			m.RunSweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) meterRetryWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.retryTicker.C:
			m.RunMeterRetry()
		case <-m.stopCh:
			return
		}
	}
}

// RunSweep executes one sweep pass. Exposed so an operator endpoint or test
// can trigger it outside the ticker.
func (m *Manager) RunSweep() {
	if m.sweeper == nil {
		return
	}
	stats, err := m.sweeper.SweepExpired(context.Background())
	if err != nil {
		log.Errorf("[JobQueue Manager] Sweep failed: %v", err)
		return
	}
	log.Infof("[JobQueue Manager] Sweep done: expired=%d mirrored=%d purged=%d",
		stats.ExpiredSubscriptions, stats.MirroredUsers, stats.PurgedWebhooks)
}

// RunMeterRetry executes one meter retry pass.
func (m *Manager) RunMeterRetry() {
	if m.meterRetrier == nil {
		return
	}
	retried, err := m.meterRetrier.RetryFailed(context.Background())
	if err != nil {
		log.Errorf("[JobQueue Manager] Meter retry failed: %v", err)
		return
	}
	if retried > 0 {
		log.Infof("[JobQueue Manager] Meter retry re-sent %d events", retried)
	}
}

func intervalFromEnv(key string, fallback time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warnf("[JobQueue Manager] Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
