package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/gateway"
	"github.com/klimadev/chamalead-sub000/internal/util"
)

// PairingResult describes one pairing code sync. Changed is false when the
// upstream returned the same code the caller already holds, so resync
// cycles can tell silent rotation from a stable code.
type PairingResult struct {
	PairingCode string `json:"pairingCode"`
	ReceivedAt  int64  `json:"receivedAt"`
	ExpiresAt   int64  `json:"expiresAt"`
	TTLSeconds  int    `json:"ttlSeconds"`
	Changed     bool   `json:"changed"`
}

// StatusResult is the live connection state of one instance.
type StatusResult struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

type PairingService struct {
	gateway *gateway.Client
	codeTTL time.Duration
	now     func() time.Time
}

func NewPairingService(gw *gateway.Client, codeTTL time.Duration) *PairingService {
	return &PairingService{gateway: gw, codeTTL: codeTTL, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *PairingService) WithClock(now func() time.Time) *PairingService {
	s.now = now
	return s
}

// RequestPairing starts a pairing attempt: probes connectivity first so the
// user gets a correct "server down" vs "server erroring" message, then
// requests a code for the phone number.
func (s *PairingService) RequestPairing(ctx context.Context, instanceID, phoneNumber string) (*PairingResult, *apperrors.AppError) {
	if probeErr := s.gateway.CheckConnectivity(ctx); probeErr != nil {
		return nil, probeErr
	}

	res := s.gateway.ConnectPairing(ctx, instanceID, phoneNumber)
	if res.TransportFailure() {
		return nil, apperrors.ConnectionRefused()
	}
	if !res.OK() {
		log.Error().
			Str("instance", instanceID).
			Int("status", res.Status).
			Str("error", res.Err).
			Msg("pairing connect failed")
		return nil, apperrors.PairingConnectFailed()
	}

	code := gateway.ExtractPairingCode(res.Data)
	if code == "" {
		return nil, apperrors.PairingPending()
	}

	return s.result(code, ""), nil
}

// SyncPairing re-requests the pairing code and compares it with the code
// the caller last saw, detecting silent rotation. Pending and hard failure
// are distinct outcomes: pending means keep waiting, never an error toast.
func (s *PairingService) SyncPairing(ctx context.Context, instanceID, phoneNumber, lastCode string) (*PairingResult, *apperrors.AppError) {
	res := s.gateway.ConnectPairing(ctx, instanceID, phoneNumber)
	if res.TransportFailure() {
		return nil, apperrors.ConnectionRefused()
	}
	if !res.OK() {
		log.Warn().
			Str("instance", instanceID).
			Int("status", res.Status).
			Str("error", res.Err).
			Msg("pairing sync failed")
		return nil, apperrors.PairingSyncFailed()
	}

	if _, isObject := res.Data.(map[string]any); !isObject {
		if _, isList := res.Data.([]any); !isList {
			return nil, apperrors.PairingInvalidResponse()
		}
	}

	code := gateway.ExtractPairingCode(res.Data)
	if code == "" {
		return nil, apperrors.PairingPending()
	}

	result := s.result(code, lastCode)
	if result.Changed {
		log.Info().
			Str("instance", instanceID).
			Str("code", util.MaskCode(code)).
			Msg("pairing code rotated")
	}
	return result, nil
}

// CheckStatus reads live connection state only. It never requests a new
// pairing code: status polling must not have the side effect of rotating
// the code the user is currently typing.
func (s *PairingService) CheckStatus(ctx context.Context, instanceID string) (*StatusResult, *apperrors.AppError) {
	state, reachable := s.gateway.ConnectionState(ctx, instanceID)
	if !reachable {
		return nil, apperrors.ConnectionRefused()
	}
	if state == "" {
		state = "close"
	}
	return &StatusResult{State: state, Connected: state == "open"}, nil
}

func (s *PairingService) result(code, lastCode string) *PairingResult {
	now := s.now().Unix()
	return &PairingResult{
		PairingCode: code,
		ReceivedAt:  now,
		ExpiresAt:   now + int64(s.codeTTL.Seconds()),
		TTLSeconds:  int(s.codeTTL.Seconds()),
		Changed:     code != lastCode,
	}
}
