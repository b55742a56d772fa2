package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
)

const settingsCacheTTL = 5 * time.Minute

func settingsCacheKey(instanceID string) string {
	return "settings:" + instanceID
}

// FetchInstances always hits the upstream: the listing carries live
// connection state, which must never be served stale.
func (c *Client) FetchInstances(ctx context.Context) Result {
	return c.Request(ctx, http.MethodGet, "/instance/fetchInstances", nil)
}

// FindInstance returns the raw instance entry matching instanceID, or nil
// when the listing does not contain it. The second return is false when the
// listing itself could not be fetched.
func (c *Client) FindInstance(ctx context.Context, instanceID string) (map[string]any, bool) {
	res := c.FetchInstances(ctx)
	if !res.OK() {
		return nil, false
	}

	list, ok := res.Data.([]any)
	if !ok {
		return nil, true
	}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if instanceEntryName(entry) == instanceID {
			return entry, true
		}
	}
	return nil, true
}

// instanceEntryName handles the two listing shapes the upstream has
// shipped: a flat {name: ...} object and a nested {instance: {instanceName: ...}}.
func instanceEntryName(entry map[string]any) string {
	if name, ok := entry["name"].(string); ok {
		return name
	}
	if nested, ok := entry["instance"].(map[string]any); ok {
		if name, ok := nested["instanceName"].(string); ok {
			return name
		}
	}
	return ""
}

// instanceEntryState reads connection state from either listing shape.
func instanceEntryState(entry map[string]any) string {
	if state, ok := entry["connectionStatus"].(string); ok {
		return state
	}
	if nested, ok := entry["instance"].(map[string]any); ok {
		for _, key := range []string{"state", "status", "connectionStatus"} {
			if state, ok := nested[key].(string); ok {
				return state
			}
		}
	}
	if state, ok := entry["state"].(string); ok {
		return state
	}
	return ""
}

// CreateInstance provisions an instance with safe defaults: Baileys
// integration, call rejection off, and QR disabled at creation time since
// QR codes are fetched through the connect endpoint.
func (c *Client) CreateInstance(ctx context.Context, instanceID string) Result {
	res := c.Request(ctx, http.MethodPost, "/instance/create", map[string]any{
		"instanceName": instanceID,
		"integration":  "WHATSAPP-BAILEYS",
		"qrcode":       false,
		"rejectCall":   false,
	})
	if res.OK() {
		c.cache.Invalidate(settingsCacheKey(instanceID))
	}
	return res
}

func (c *Client) DeleteInstance(ctx context.Context, instanceID string) Result {
	res := c.Request(ctx, http.MethodDelete, "/instance/delete/"+url.PathEscape(instanceID), nil)
	c.cache.Invalidate(settingsCacheKey(instanceID))
	return res
}

func (c *Client) UpdateSettings(ctx context.Context, instanceID string, settings map[string]any) Result {
	res := c.Request(ctx, http.MethodPost, "/settings/set/"+url.PathEscape(instanceID), settings)
	c.cache.Invalidate(settingsCacheKey(instanceID))
	return res
}

// FetchSettings serves per-instance settings from the signed cache when
// possible. Settings change rarely and only through UpdateSettings, which
// invalidates the entry.
func (c *Client) FetchSettings(ctx context.Context, instanceID string) Result {
	var cached any
	if c.cache.Get(settingsCacheKey(instanceID), &cached) {
		return Result{Status: http.StatusOK, Data: cached}
	}

	res := c.Request(ctx, http.MethodGet, "/settings/find/"+url.PathEscape(instanceID), nil)
	if res.OK() {
		if err := c.cache.Set(settingsCacheKey(instanceID), res.Data, settingsCacheTTL); err != nil {
			log.Warn().Err(err).Str("instance", instanceID).Msg("failed to cache settings")
		}
	}
	return res
}

// ConnectQR requests a fresh QR code for the instance.
func (c *Client) ConnectQR(ctx context.Context, instanceID string) Result {
	return c.Request(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(instanceID), nil)
}

// ConnectPairing requests a phone pairing code. The number parameter makes
// the upstream return a typeable code instead of QR material.
func (c *Client) ConnectPairing(ctx context.Context, instanceID, phoneNumber string) Result {
	endpoint := fmt.Sprintf("/instance/connect/%s?number=%s",
		url.PathEscape(instanceID), url.QueryEscape(phoneNumber))
	return c.Request(ctx, http.MethodGet, endpoint, nil)
}

// ConnectionState returns the live state of one instance ("open" when a
// device is linked). The empty string means the instance was not found or
// the listing was unavailable.
func (c *Client) ConnectionState(ctx context.Context, instanceID string) (string, bool) {
	entry, reachable := c.FindInstance(ctx, instanceID)
	if !reachable || entry == nil {
		return "", reachable
	}
	return instanceEntryState(entry), true
}

// EnsureInstanceExists looks the instance up and provisions it when absent.
// Two callers racing on the same id can both see it missing; a create
// failure whose message says the instance already exists is success.
func (c *Client) EnsureInstanceExists(ctx context.Context, instanceID string) (created bool, err *apperrors.AppError) {
	entry, reachable := c.FindInstance(ctx, instanceID)
	if !reachable {
		return false, apperrors.InstancePrepareFailed()
	}
	if entry != nil {
		return false, nil
	}

	res := c.CreateInstance(ctx, instanceID)
	if res.OK() {
		log.Info().Str("instance", instanceID).Msg("instance auto-provisioned")
		return true, nil
	}

	if strings.Contains(strings.ToLower(res.Err), "already exists") ||
		strings.Contains(strings.ToLower(res.Err), "already in use") {
		log.Debug().Str("instance", instanceID).Msg("instance creation raced, already exists")
		return false, nil
	}

	log.Error().
		Str("instance", instanceID).
		Int("status", res.Status).
		Str("error", res.Err).
		Msg("instance creation failed")
	return false, apperrors.InstancePrepareFailed()
}

// CheckConnectivity probes the upstream with a single attempt and
// classifies failure: a dead transport reads as the server being down,
// while a reachable-but-erroring API sets different user expectations.
func (c *Client) CheckConnectivity(ctx context.Context) *apperrors.AppError {
	res := c.Request(ctx, http.MethodGet, "/instance/fetchInstances", nil, WithMaxRetries(0))
	if res.TransportFailure() {
		return apperrors.ConnectionRefused()
	}
	if !res.OK() {
		return apperrors.APIUnavailable()
	}
	return nil
}
