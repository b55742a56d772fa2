package pairing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klimadev/chamalead-sub000/internal/cache"
	"github.com/klimadev/chamalead-sub000/internal/config"
	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/gateway"
	"github.com/klimadev/chamalead-sub000/internal/service"
)

type recordedEvent struct {
	Instance string
	Type     string
	Data     any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(instanceID, eventType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Instance: instanceID, Type: eventType, Data: data})
}

func (n *recordingNotifier) byType(eventType string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func pairingServiceFor(t *testing.T, handler http.HandlerFunc) *service.PairingService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		EvolutionAPIURL:   srv.URL,
		EvolutionAPIKey:   "test-key",
		APITimeoutSeconds: 2,
		APIMaxRetries:     0,
	}
	gw := gateway.NewClient(cfg, cache.New(t.TempDir(), []byte("secret"), true)).
		WithSleep(func(time.Duration) {})
	return service.NewPairingService(gw, 2*time.Minute)
}

// quietManager builds a manager whose timers are effectively frozen so
// tests drive the session methods directly.
func quietManager(pairingSvc *service.PairingService, notifier Notifier) *Manager {
	m := NewManager(pairingSvc, notifier)
	m.countdownTick = time.Hour
	m.resyncInterval = time.Hour
	m.statusInterval = time.Hour
	return m
}

func respondPairing(code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("number") != "" {
			json.NewEncoder(w).Encode(map[string]any{"pairingCode": code})
			return
		}
		json.NewEncoder(w).Encode([]any{})
	}
}

func TestManagerOpen(t *testing.T) {
	t.Run("validates instance and phone before touching upstream", func(t *testing.T) {
		var hits atomic.Int32
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		})
		m := quietManager(svc, &recordingNotifier{})
		defer m.CloseAll()

		_, appErr := m.Open(context.Background(), "bad name!", "5511999998888")
		require.NotNil(t, appErr)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)

		_, appErr = m.Open(context.Background(), "inst", "12345")
		require.NotNil(t, appErr)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)

		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("opens a session holding the first code", func(t *testing.T) {
		m := quietManager(pairingServiceFor(t, respondPairing("ABCD1234")), &recordingNotifier{})
		defer m.CloseAll()

		result, appErr := m.Open(context.Background(), "inst", "+55 (11) 99999-8888")
		require.Nil(t, appErr)
		assert.Equal(t, "ABCD1234", result.PairingCode)

		session := m.get("inst")
		require.NotNil(t, session)
		assert.Equal(t, "ABCD1234", session.code)
		assert.Equal(t, "5511999998888", session.phone)
		assert.True(t, session.sched.Active(timerCountdown))
		assert.True(t, session.sched.Active(timerResync))
		assert.True(t, session.sched.Active(timerStatus))
	})

	t.Run("reopening replaces the previous session", func(t *testing.T) {
		m := quietManager(pairingServiceFor(t, respondPairing("ABCD1234")), &recordingNotifier{})
		defer m.CloseAll()

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		first := m.get("inst")

		_, appErr = m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		second := m.get("inst")

		require.NotSame(t, first, second)
		assert.False(t, first.open)
		assert.False(t, first.sched.Active(timerCountdown))
		assert.True(t, second.sched.Active(timerCountdown))
	})

	t.Run("concurrent opens for one instance leave exactly one live session", func(t *testing.T) {
		// Hold both pairing requests until both are in flight, so both
		// callers pass the close-previous step before either stores.
		var inFlight atomic.Int32
		release := make(chan struct{})
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("number") != "" {
				if inFlight.Add(1) == 2 {
					close(release)
				}
				<-release
			}
			respondPairing("ABCD1234")(w, r)
		})
		notifier := &recordingNotifier{}
		m := NewManager(svc, notifier)
		m.countdownTick = 5 * time.Millisecond
		m.resyncInterval = time.Hour
		m.statusInterval = time.Hour

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, appErr := m.Open(context.Background(), "inst", "5511999998888")
				assert.Nil(t, appErr)
			}()
		}
		wg.Wait()

		m.Close("inst")

		// Let any tick already past the open check drain, then verify
		// silence: a displaced session that was never stopped would keep
		// publishing countdowns with no handle left to cancel it.
		time.Sleep(30 * time.Millisecond)
		settled := len(notifier.byType("countdown"))
		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, settled, len(notifier.byType("countdown")),
			"no countdown may fire after the instance is closed")
	})

	t.Run("upstream failure leaves no session behind", func(t *testing.T) {
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"message": "boom"})
		})
		m := quietManager(svc, &recordingNotifier{})

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")

		require.NotNil(t, appErr)
		assert.Nil(t, m.get("inst"))
	})
}

func TestSessionCountdown(t *testing.T) {
	t.Run("publishes remaining seconds", func(t *testing.T) {
		notifier := &recordingNotifier{}
		m := quietManager(pairingServiceFor(t, respondPairing("ABCD1234")), notifier)
		defer m.CloseAll()

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		session := m.get("inst")

		session.tickCountdown()

		events := notifier.byType("countdown")
		require.Len(t, events, 1)
		payload := events[0].Data.(map[string]any)
		remaining := payload["remainingSeconds"].(int64)
		assert.InDelta(t, 120, remaining, 2)
	})

	t.Run("near expiry triggers exactly one extra resync", func(t *testing.T) {
		var connects atomic.Int32
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("number") != "" {
				connects.Add(1)
			}
			respondPairing("ABCD1234")(w, r)
		})
		// Frozen service clock keeps expiresAt identical across resyncs, so
		// the dedup marker comparison is deterministic.
		fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		svc.WithClock(func() time.Time { return fixed })
		notifier := &recordingNotifier{}
		m := quietManager(svc, notifier)
		defer m.CloseAll()

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		session := m.get("inst")
		baseline := connects.Load()

		// Park the clock inside the near-expiry window of the current code.
		session.mu.Lock()
		expiresAt := session.expiresAt
		session.now = func() time.Time {
			return time.Unix(expiresAt-int64(config.NearExpiryThreshold.Seconds())+1, 0)
		}
		session.mu.Unlock()

		session.tickCountdown()
		require.Eventually(t, func() bool { return connects.Load() == baseline+1 },
			time.Second, time.Millisecond)

		// Further ticks within the same expiry window are deduplicated.
		session.tickCountdown()
		session.tickCountdown()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, baseline+1, connects.Load())
	})

	t.Run("closed session stays silent", func(t *testing.T) {
		notifier := &recordingNotifier{}
		m := quietManager(pairingServiceFor(t, respondPairing("ABCD1234")), notifier)

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		session := m.get("inst")
		m.Close("inst")

		before := len(notifier.byType("countdown"))
		session.tickCountdown()
		assert.Len(t, notifier.byType("countdown"), before)
	})
}

func TestSessionResync(t *testing.T) {
	t.Run("rotated code is published once", func(t *testing.T) {
		notifier := &recordingNotifier{}
		var code atomic.Value
		code.Store("FIRST123")
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			respondPairing(code.Load().(string))(w, r)
		})
		m := quietManager(svc, notifier)
		defer m.CloseAll()

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		session := m.get("inst")

		// Same code: no event.
		session.resync()
		assert.Empty(t, notifier.byType("code"))

		// Upstream rotates: one event, session state follows.
		code.Store("SECOND45")
		session.resync()

		events := notifier.byType("code")
		require.Len(t, events, 1)
		result := events[0].Data.(*service.PairingResult)
		assert.Equal(t, "SECOND45", result.PairingCode)
		assert.True(t, result.Changed)
		assert.Equal(t, "SECOND45", session.code)
	})

	t.Run("pending responses stay silent", func(t *testing.T) {
		notifier := &recordingNotifier{}
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("number") != "" {
				json.NewEncoder(w).Encode(map[string]any{"status": "connecting"})
				return
			}
			json.NewEncoder(w).Encode([]any{})
		})
		m := quietManager(svc, notifier)
		defer m.CloseAll()

		session := &Session{
			manager:  m,
			instance: "inst",
			phone:    "5511999998888",
			open:     true,
			sched:    NewScheduler(),
			now:      time.Now,
		}

		session.resync()

		assert.Empty(t, notifier.byType("error"))
		assert.Empty(t, notifier.byType("code"))
	})

	t.Run("hard failures are throttled to one error event per window", func(t *testing.T) {
		notifier := &recordingNotifier{}
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"message": "bad number"})
		})
		m := quietManager(svc, notifier)
		defer m.CloseAll()

		clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		session := &Session{
			manager:  m,
			instance: "inst",
			phone:    "5511999998888",
			open:     true,
			sched:    NewScheduler(),
			now:      func() time.Time { return clock },
		}

		session.resync()
		session.resync()
		session.resync()
		assert.Len(t, notifier.byType("error"), 1)

		// Past the throttle window a new failure surfaces again.
		clock = clock.Add(config.ErrorNotifyThrottle + time.Second)
		session.resync()
		assert.Len(t, notifier.byType("error"), 2)
	})
}

func TestSessionPollStatus(t *testing.T) {
	t.Run("connected device tears the session down", func(t *testing.T) {
		notifier := &recordingNotifier{}
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("number") != "" {
				json.NewEncoder(w).Encode(map[string]any{"pairingCode": "ABCD1234"})
				return
			}
			json.NewEncoder(w).Encode([]any{
				map[string]any{"name": "inst", "connectionStatus": "open"},
			})
		})
		m := quietManager(svc, notifier)

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)
		session := m.get("inst")

		session.pollStatus()

		events := notifier.byType("connected")
		require.Len(t, events, 1)
		status := events[0].Data.(*service.StatusResult)
		assert.True(t, status.Connected)
		assert.Nil(t, m.get("inst"), "session must be removed after connect")
		assert.False(t, session.sched.Active(timerCountdown))
	})

	t.Run("still connecting keeps the session alive", func(t *testing.T) {
		notifier := &recordingNotifier{}
		svc := pairingServiceFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("number") != "" {
				json.NewEncoder(w).Encode(map[string]any{"pairingCode": "ABCD1234"})
				return
			}
			json.NewEncoder(w).Encode([]any{
				map[string]any{"name": "inst", "connectionStatus": "connecting"},
			})
		})
		m := quietManager(svc, notifier)
		defer m.CloseAll()

		_, appErr := m.Open(context.Background(), "inst", "5511999998888")
		require.Nil(t, appErr)

		session := m.get("inst")
		session.pollStatus()

		assert.Empty(t, notifier.byType("connected"))
		assert.NotNil(t, m.get("inst"))

		// The first observation of a state emits one status event; repeats
		// of the same state stay quiet.
		require.Len(t, notifier.byType("status"), 1)
		status := notifier.byType("status")[0].Data.(*service.StatusResult)
		assert.Equal(t, "connecting", status.State)

		session.pollStatus()
		assert.Len(t, notifier.byType("status"), 1)
	})
}

func TestManagerCloseAll(t *testing.T) {
	m := quietManager(pairingServiceFor(t, respondPairing("ABCD1234")), &recordingNotifier{})

	_, appErr := m.Open(context.Background(), "inst-a", "5511999998888")
	require.Nil(t, appErr)
	_, appErr = m.Open(context.Background(), "inst-b", "5511999997777")
	require.Nil(t, appErr)

	a, b := m.get("inst-a"), m.get("inst-b")
	m.CloseAll()

	assert.Nil(t, m.get("inst-a"))
	assert.Nil(t, m.get("inst-b"))
	assert.False(t, a.sched.Active(timerCountdown))
	assert.False(t, b.sched.Active(timerCountdown))
}
