package capability

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const secretBytes = 32

// LoadOrCreateSecret returns the HMAC key. An explicitly configured secret
// wins; otherwise the keyfile is read, and generated on first use with
// owner-only permissions.
func LoadOrCreateSecret(explicit, path string) ([]byte, error) {
	if explicit != "" {
		return []byte(explicit), nil
	}

	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}

	key := make([]byte, secretBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	encoded := []byte(hex.EncodeToString(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("persist secret: %w", err)
	}

	log.Info().Str("path", path).Msg("generated new HMAC secret")
	return encoded, nil
}
