package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testSigner(now time.Time) *Signer {
	return NewSigner([]byte("test-secret")).WithClock(func() time.Time { return now })
}

func TestSignValidateRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := testSigner(now)

	t.Run("valid while expiry is in the future", func(t *testing.T) {
		expiresAt := now.Add(5 * time.Minute).Unix()
		sig := signer.Sign("demo-1", expiresAt)
		assert.True(t, signer.Validate("demo-1", expiresAt, sig))
	})

	t.Run("valid at exact expiry second", func(t *testing.T) {
		expiresAt := now.Unix()
		sig := signer.Sign("demo-1", expiresAt)
		assert.True(t, signer.Validate("demo-1", expiresAt, sig))
	})

	t.Run("invalid once expiry has passed", func(t *testing.T) {
		expiresAt := now.Add(300 * time.Second).Unix()
		sig := signer.Sign("demo-1", expiresAt)

		later := testSigner(now.Add(301 * time.Second))
		assert.False(t, later.Validate("demo-1", expiresAt, sig))
	})

	t.Run("signing is deterministic", func(t *testing.T) {
		expiresAt := now.Add(time.Hour).Unix()
		assert.Equal(t, signer.Sign("demo-1", expiresAt), signer.Sign("demo-1", expiresAt))
	})
}

func TestValidateFailsClosed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer := testSigner(now)
	expiresAt := now.Add(time.Hour).Unix()
	sig := signer.Sign("demo-1", expiresAt)

	t.Run("empty instance", func(t *testing.T) {
		assert.False(t, signer.Validate("", expiresAt, signer.Sign("", expiresAt)))
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.False(t, signer.Validate("demo-1", expiresAt, ""))
	})

	t.Run("signature for different instance", func(t *testing.T) {
		assert.False(t, signer.Validate("demo-2", expiresAt, sig))
	})

	t.Run("signature for different expiry", func(t *testing.T) {
		assert.False(t, signer.Validate("demo-1", expiresAt+1, sig))
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := "0" + sig[1:]
		if tampered == sig {
			tampered = "1" + sig[1:]
		}
		assert.False(t, signer.Validate("demo-1", expiresAt, tampered))
	})

	t.Run("signature from different secret", func(t *testing.T) {
		other := NewSigner([]byte("other-secret")).WithClock(func() time.Time { return now })
		assert.False(t, signer.Validate("demo-1", expiresAt, other.Sign("demo-1", expiresAt)))
	})
}
