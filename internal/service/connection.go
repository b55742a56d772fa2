package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/gateway"
)

// SyncQRResult is the client-safe payload for one QR sync cycle.
type SyncQRResult struct {
	QRCode  string `json:"qrCode"`
	Created bool   `json:"created"`
}

// ConnectionService backs the deep-link endpoint. Each request cycle is
// stateless: prepare the instance, short-circuit when a device is already
// linked, otherwise fetch and normalize a QR code. The page polls this
// until it lands on CONNECTED or a terminal error.
type ConnectionService struct {
	gateway *gateway.Client
}

func NewConnectionService(gw *gateway.Client) *ConnectionService {
	return &ConnectionService{gateway: gw}
}

// SyncQR runs one cycle of the QR connection flow for a validated
// capability. Callers are responsible for capability validation; an
// invalid link never reaches this method.
func (s *ConnectionService) SyncQR(ctx context.Context, instanceID string) (*SyncQRResult, *apperrors.AppError) {
	created, prepErr := s.gateway.EnsureInstanceExists(ctx, instanceID)
	if prepErr != nil {
		return nil, prepErr
	}

	state, reachable := s.gateway.ConnectionState(ctx, instanceID)
	if reachable && state == "open" {
		log.Info().Str("instance", instanceID).Msg("deep link hit for already-connected instance")
		return nil, apperrors.Connected()
	}

	res := s.gateway.ConnectQR(ctx, instanceID)
	if !res.OK() {
		log.Error().
			Str("instance", instanceID).
			Int("status", res.Status).
			Str("error", res.Err).
			Msg("qr fetch failed")
		return nil, apperrors.QRFetchFailed()
	}

	qr := gateway.ExtractQRCodeDataURL(res.Data)
	if qr == "" {
		// Upstream accepted the request but has not produced a code yet.
		return nil, apperrors.QRPending()
	}

	return &SyncQRResult{QRCode: qr, Created: created}, nil
}
