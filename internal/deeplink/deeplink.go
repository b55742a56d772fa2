// Package deeplink builds and validates the shareable connection URLs.
//
// A deep link grants an unauthenticated end user access to connect one
// specific instance, bounded by the capability token embedded in its query
// string. The link itself is never stored.
package deeplink

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/klimadev/chamalead-sub000/internal/capability"
	"github.com/klimadev/chamalead-sub000/internal/util"
)

const linkPath = "/deep-link"

type Service struct {
	signer        *capability.Signer
	publicBaseURL string
	defaultTTL    time.Duration
	now           func() time.Time
}

func NewService(signer *capability.Signer, publicBaseURL string, defaultTTL time.Duration) *Service {
	return &Service{
		signer:        signer,
		publicBaseURL: publicBaseURL,
		defaultTTL:    defaultTTL,
		now:           time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// BuildSignedURL serializes a capability for instanceID as a shareable URL.
// expiresAt of 0 defaults to now + the configured TTL.
func (s *Service) BuildSignedURL(r *http.Request, instanceID string, expiresAt int64) (string, error) {
	instanceID = util.SanitizeInstanceName(instanceID)
	if instanceID == "" {
		return "", fmt.Errorf("instance id is empty after sanitization")
	}
	if expiresAt <= 0 {
		expiresAt = s.now().Add(s.defaultTTL).Unix()
	}

	query := url.Values{}
	query.Set("instance", instanceID)
	query.Set("exp", fmt.Sprintf("%d", expiresAt))
	query.Set("sig", s.signer.Sign(instanceID, expiresAt))

	return s.BaseURL(r) + linkPath + "?" + query.Encode(), nil
}

// Validate delegates to the capability signer.
func (s *Service) Validate(instanceID string, expiresAt int64, signature string) bool {
	return s.signer.Validate(instanceID, expiresAt, signature)
}

// BaseURL resolves the externally visible base URL. An explicit public URL
// wins; otherwise scheme, host and port come from the incoming request and
// its forwarding headers, since the service commonly sits behind a reverse
// proxy.
func (s *Service) BaseURL(r *http.Request) string {
	if s.publicBaseURL != "" {
		return strings.TrimRight(s.publicBaseURL, "/")
	}
	if r == nil {
		return ""
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	host = stripDefaultPort(scheme, host)

	return scheme + "://" + host
}

// ShareQR renders a URL as a scannable PNG data URL so the operator can
// show the link on screen instead of dictating it.
func ShareQR(link string) (string, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode share qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func stripDefaultPort(scheme, host string) string {
	if scheme == "http" {
		return strings.TrimSuffix(host, ":80")
	}
	return strings.TrimSuffix(host, ":443")
}
