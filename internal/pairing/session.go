// Package pairing drives the "enter phone number, type the code" connect
// flow. Each open connect dialog owns one Session, a state machine moving
// through AWAITING_INPUT -> CODE_GENERATED -> SYNCING -> CONNECTED. The
// session runs its own timers server-side and streams transitions to the
// dialog, so no polling state lives in ambient globals.
package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/config"
	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/service"
	"github.com/klimadev/chamalead-sub000/internal/util"
)

const syncTimeout = 60 * time.Second

// Notifier receives session events for delivery to the connect dialog.
type Notifier interface {
	Notify(instanceID, eventType string, data any)
}

const (
	timerCountdown = "countdown"
	timerResync    = "resync"
	timerStatus    = "status"
)

// Manager owns at most one active Session per instance. Opening a new
// session first tears the previous one down, timers included.
type Manager struct {
	pairing  *service.PairingService
	notifier Notifier

	mu       sync.Mutex
	sessions map[string]*Session

	// Cadences are fields so tests can shrink them; production uses the
	// shared constants.
	countdownTick  time.Duration
	resyncInterval time.Duration
	statusInterval time.Duration
	now            func() time.Time
}

func NewManager(pairingSvc *service.PairingService, notifier Notifier) *Manager {
	return &Manager{
		pairing:        pairingSvc,
		notifier:       notifier,
		sessions:       make(map[string]*Session),
		countdownTick:  config.CountdownTick,
		resyncInterval: config.PairingResyncInterval,
		statusInterval: config.StatusPollInterval,
		now:            time.Now,
	}
}

// Open starts a pairing session: validates the phone number, requests the
// first code, and schedules the countdown, resync and status timers. Any
// previous session for the instance is cancelled first.
func (m *Manager) Open(ctx context.Context, instanceID, phoneNumber string) (*service.PairingResult, *apperrors.AppError) {
	if !util.IsValidInstanceName(instanceID) {
		return nil, apperrors.InvalidInput("instance", "must contain only letters, digits, _ or -")
	}
	if !util.IsValidPhoneNumber(phoneNumber) {
		return nil, apperrors.InvalidInput("phone number", "must have at least 10 digits")
	}
	phoneNumber = util.NormalizePhoneNumber(phoneNumber)

	m.Close(instanceID)

	result, appErr := m.pairing.RequestPairing(ctx, instanceID, phoneNumber)
	if appErr != nil {
		return nil, appErr
	}

	session := &Session{
		manager:   m,
		instance:  instanceID,
		phone:     phoneNumber,
		code:      result.PairingCode,
		expiresAt: result.ExpiresAt,
		open:      true,
		sched:     NewScheduler(),
		now:       m.now,
	}

	// Store and start under the same lock. Two Opens racing on one
	// instance both pass the Close above; whichever stores second must
	// stop the one it displaces, or its timers leak with no handle left.
	m.mu.Lock()
	prev := m.sessions[instanceID]
	m.sessions[instanceID] = session
	session.start()
	m.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	log.Info().
		Str("instance", instanceID).
		Str("code", util.MaskCode(result.PairingCode)).
		Int64("expiresAt", result.ExpiresAt).
		Msg("pairing session opened")

	return result, nil
}

// Close cancels the session for an instance, if any. Deterministic: after
// Close returns, none of the session's timers will fire again.
func (m *Manager) Close(instanceID string) {
	m.mu.Lock()
	session := m.sessions[instanceID]
	delete(m.sessions, instanceID)
	m.mu.Unlock()

	if session != nil {
		session.stop()
		log.Info().Str("instance", instanceID).Msg("pairing session closed")
	}
}

// CloseAll tears down every session, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

func (m *Manager) get(instanceID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[instanceID]
}

// Session is one in-progress pairing attempt. All mutable fields are
// guarded by mu; timers only ever touch the session through the locked
// helpers below.
type Session struct {
	manager  *Manager
	instance string
	phone    string

	mu             sync.Mutex
	open           bool
	code           string
	expiresAt      int64
	syncInFlight   bool
	lastSyncMarker int64
	lastErrorAt    int64 // unix millis, throttles error events
	lastState      string

	sched *Scheduler
	now   func() time.Time
}

func (s *Session) start() {
	s.sched.Every(timerCountdown, s.manager.countdownTick, s.tickCountdown)
	s.sched.Every(timerResync, s.manager.resyncInterval, s.resync)
	s.sched.Every(timerStatus, s.manager.statusInterval, s.pollStatus)
}

func (s *Session) stop() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.sched.CancelAll()
}

// tickCountdown publishes the remaining lifetime of the current code and,
// when the code is about to expire, triggers one extra resync so the user
// is not left typing a dead code. The extra sync is deduplicated per
// expiry via lastSyncMarker.
func (s *Session) tickCountdown() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	remaining := s.expiresAt - s.now().Unix()
	if remaining < 0 {
		remaining = 0
	}
	needsSync := remaining > 0 &&
		remaining <= int64(config.NearExpiryThreshold.Seconds()) &&
		s.lastSyncMarker != s.expiresAt
	if needsSync {
		s.lastSyncMarker = s.expiresAt
	}
	s.mu.Unlock()

	s.manager.notifier.Notify(s.instance, "countdown", map[string]any{
		"remainingSeconds": remaining,
	})

	if needsSync {
		go s.resync()
	}
}

// resync re-requests the pairing code to catch silent rotation. A single
// in-flight flag guarantees at most one outstanding sync per session, and
// the whole call is skipped when the dialog has been closed.
func (s *Session) resync() {
	s.mu.Lock()
	if !s.open || s.syncInFlight {
		s.mu.Unlock()
		return
	}
	s.syncInFlight = true
	lastCode := s.code
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	result, appErr := s.manager.pairing.SyncPairing(ctx, s.instance, s.phone, lastCode)

	s.mu.Lock()
	s.syncInFlight = false
	if appErr != nil {
		// Pending is expected while the upstream generates a code: stay
		// silent, keep the timers running.
		if apperrors.IsPending(appErr.Code) {
			s.mu.Unlock()
			return
		}
		notify := s.shouldNotifyErrorLocked()
		s.mu.Unlock()
		if notify {
			s.manager.notifier.Notify(s.instance, "error", map[string]any{
				"errorCode": appErr.Code,
				"message":   appErr.Message,
			})
		}
		return
	}

	s.code = result.PairingCode
	s.expiresAt = result.ExpiresAt
	changed := result.Changed
	s.mu.Unlock()

	if changed {
		s.manager.notifier.Notify(s.instance, "code", result)
	}
}

// shouldNotifyErrorLocked rate-limits error events so sustained upstream
// downtime produces one toast per throttle window instead of one per sync.
func (s *Session) shouldNotifyErrorLocked() bool {
	nowMillis := s.now().UnixMilli()
	if nowMillis-s.lastErrorAt < config.ErrorNotifyThrottle.Milliseconds() {
		return false
	}
	s.lastErrorAt = nowMillis
	return true
}

// pollStatus checks live connection state only. It is deliberately
// decoupled from resync: a status probe must never rotate the code the
// user is typing.
func (s *Session) pollStatus() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	status, appErr := s.manager.pairing.CheckStatus(ctx, s.instance)
	if appErr != nil {
		return
	}

	if status.Connected {
		log.Info().Str("instance", s.instance).Msg("device connected, ending pairing session")
		s.manager.Close(s.instance)
		s.manager.notifier.Notify(s.instance, "connected", status)
		return
	}

	// Intermediate states (close -> connecting) are worth one event each;
	// repeating the same state every poll would just be noise.
	s.mu.Lock()
	changed := status.State != s.lastState
	s.lastState = status.State
	s.mu.Unlock()
	if changed {
		s.manager.notifier.Notify(s.instance, "status", status)
	}
}
