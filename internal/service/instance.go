package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
	"github.com/klimadev/chamalead-sub000/internal/gateway"
)

// InstanceService backs the admin panel's instance CRUD actions. It owns no
// state: instances live upstream and listings are always fetched fresh.
type InstanceService struct {
	gateway *gateway.Client
}

func NewInstanceService(gw *gateway.Client) *InstanceService {
	return &InstanceService{gateway: gw}
}

func (s *InstanceService) List(ctx context.Context) (any, *apperrors.AppError) {
	res := s.gateway.FetchInstances(ctx)
	if err := classify(res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (s *InstanceService) Details(ctx context.Context, instanceID string) (map[string]any, *apperrors.AppError) {
	entry, reachable := s.gateway.FindInstance(ctx, instanceID)
	if !reachable {
		return nil, apperrors.ConnectionRefused()
	}
	if entry == nil {
		return nil, apperrors.NotFound("Instance")
	}
	return entry, nil
}

func (s *InstanceService) Create(ctx context.Context, instanceID string) *apperrors.AppError {
	res := s.gateway.CreateInstance(ctx, instanceID)
	if err := classify(res); err != nil {
		log.Error().Str("instance", instanceID).Str("error", res.Err).Msg("create instance failed")
		return err
	}
	log.Info().Str("instance", instanceID).Msg("instance created")
	return nil
}

func (s *InstanceService) UpdateSettings(ctx context.Context, instanceID string, settings map[string]any) *apperrors.AppError {
	res := s.gateway.UpdateSettings(ctx, instanceID, settings)
	if err := classify(res); err != nil {
		log.Error().Str("instance", instanceID).Str("error", res.Err).Msg("update settings failed")
		return err
	}
	log.Info().Str("instance", instanceID).Msg("instance settings updated")
	return nil
}

func (s *InstanceService) GetSettings(ctx context.Context, instanceID string) (any, *apperrors.AppError) {
	res := s.gateway.FetchSettings(ctx, instanceID)
	if err := classify(res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (s *InstanceService) Delete(ctx context.Context, instanceID string) *apperrors.AppError {
	res := s.gateway.DeleteInstance(ctx, instanceID)
	if err := classify(res); err != nil {
		log.Error().Str("instance", instanceID).Str("error", res.Err).Msg("delete instance failed")
		return err
	}
	log.Info().Str("instance", instanceID).Msg("instance deleted")
	return nil
}

// classify folds a gateway result into the error taxonomy: transport
// failure reads as the upstream being down, a valid error response as it
// misbehaving.
func classify(res gateway.Result) *apperrors.AppError {
	if res.TransportFailure() {
		return apperrors.ConnectionRefused()
	}
	if !res.OK() {
		return apperrors.APIUnavailable()
	}
	return nil
}
