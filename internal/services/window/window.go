package window

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/infra/metrics"
)

type State string

const (
	StateClosed  State = "closed"
	StateOpen    State = "open"
	StateExpired State = "expired"
)

// Callback runs when a window expires. It is called at most once per window
// and never after Close.
type Callback func(purchaseID string)

type Config struct {
	Tick time.Duration
}

// Manager runs one countdown per watched purchase. Remaining time is derived
// from the absolute deadline on every tick, so a suspended process or a clock
// jump corrects itself on the next tick instead of drifting.
type Manager struct {
	metrics *metrics.Registry
	logger  *zap.Logger
	tick    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]*Window
}

func NewManager(cfg Config, m *metrics.Registry, logger *zap.Logger) *Manager {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		metrics: m,
		logger:  logger,
		tick:    cfg.Tick,
		now:     time.Now,
		windows: make(map[string]*Window),
	}
}

type Window struct {
	purchaseID string
	expiresAt  time.Time
	now        func() time.Time

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// Open starts a countdown for the purchase. Opening a second window for the
// same purchase closes the previous one first. A deadline already in the past
// expires synchronously.
func (m *Manager) Open(purchaseID string, expiresAt time.Time, onExpire Callback) *Window {
	m.Close(purchaseID)

	w := &Window{
		purchaseID: purchaseID,
		expiresAt:  expiresAt,
		now:        m.now,
		state:      StateOpen,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.windows[purchaseID] = w
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OpenWindows.Inc()
	}

	if !w.expiresAt.After(m.now()) {
		m.expire(w, onExpire)
		close(w.done)
		return w
	}

	go m.run(w, onExpire)
	return w
}

// Get returns the live window for the purchase, if any.
func (m *Manager) Get(purchaseID string) (*Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[purchaseID]
	return w, ok
}

// Close stops the countdown without expiring; used when the user submits
// proof or navigates away.
func (m *Manager) Close(purchaseID string) {
	m.mu.Lock()
	w, ok := m.windows[purchaseID]
	if ok {
		delete(m.windows, purchaseID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	w.mu.Lock()
	wasOpen := w.state == StateOpen
	if wasOpen {
		w.state = StateClosed
		close(w.stop)
	}
	w.mu.Unlock()

	if wasOpen {
		if m.metrics != nil {
			m.metrics.OpenWindows.Dec()
		}
		<-w.done
	}
}

// CloseAll stops every countdown; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.windows))
	for id := range m.windows {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) run(w *Window, onExpire Callback) {
	defer close(w.done)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.Remaining() > 0 {
				continue
			}

			w.mu.Lock()
			stillOpen := w.state == StateOpen
			if stillOpen {
				w.state = StateExpired
			}
			w.mu.Unlock()
			if !stillOpen {
				return
			}

			m.mu.Lock()
			if m.windows[w.purchaseID] == w {
				delete(m.windows, w.purchaseID)
			}
			m.mu.Unlock()

			m.countExpiration(w)
			if onExpire != nil {
				onExpire(w.purchaseID)
			}
			return
		}
	}
}

// expire handles a deadline that was already past when the window opened.
func (m *Manager) expire(w *Window, onExpire Callback) {
	w.mu.Lock()
	w.state = StateExpired
	w.mu.Unlock()

	m.mu.Lock()
	if m.windows[w.purchaseID] == w {
		delete(m.windows, w.purchaseID)
	}
	m.mu.Unlock()

	m.countExpiration(w)
	if onExpire != nil {
		onExpire(w.purchaseID)
	}
}

func (m *Manager) countExpiration(w *Window) {
	m.logger.Info("payment window expired", zap.String("purchase_id", w.purchaseID))
	if m.metrics == nil {
		return
	}
	m.metrics.OpenWindows.Dec()
	m.metrics.WindowExpirations.Inc()
}

// SetClockForTest overrides the manager clock for windows opened afterwards.
func (m *Manager) SetClockForTest(now func() time.Time) {
	m.now = now
}

func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Remaining reports the time left until the deadline, floored at zero. It is
// recomputed from the deadline, never decremented.
func (w *Window) Remaining() time.Duration {
	remaining := w.expiresAt.Sub(w.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (w *Window) ExpiresAt() time.Time {
	return w.expiresAt
}
