// Package capability implements the signed token scheme behind deep links.
//
// A capability is the triple (instanceID, expiresAt, signature) where the
// signature is an HMAC-SHA256 over "instanceID|expiresAt" keyed by the
// server secret. It is never persisted: validity is purely a function of the
// three fields, the current secret and the clock.
package capability

import (
	"fmt"
	"time"

	"github.com/klimadev/chamalead-sub000/internal/util"
)

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign computes the signature for an instance/expiry pair. Deterministic,
// no randomness.
func (s *Signer) Sign(instanceID string, expiresAt int64) string {
	return util.HmacSHA256(s.secret, fmt.Sprintf("%s|%d", instanceID, expiresAt))
}

// Validate fails closed: empty instance or signature, a past expiry, or a
// signature mismatch all yield false. The comparison is constant-time.
func (s *Signer) Validate(instanceID string, expiresAt int64, signature string) bool {
	if instanceID == "" || signature == "" {
		return false
	}
	if expiresAt < s.now().Unix() {
		return false
	}
	return util.ConstantTimeEqual(s.Sign(instanceID, expiresAt), signature)
}
