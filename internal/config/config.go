package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	RedisURL string `env:"REDIS_URL,required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	EvolutionAPIURL   string `env:"EVOLUTION_API_URL,required"`
	EvolutionAPIKey   string `env:"EVOLUTION_API_KEY,required"`
	APITimeoutSeconds int    `env:"API_TIMEOUT_SECONDS" envDefault:"10"`
	APIMaxRetries     int    `env:"API_MAX_RETRIES" envDefault:"3"`

	PairingCodeTTLSeconds int `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"120"`
	DeepLinkTTLSeconds    int `env:"DEEP_LINK_TTL_SECONDS" envDefault:"3600"`

	CacheEnabled    bool   `env:"CACHE_ENABLED" envDefault:"true"`
	CacheTTLSeconds int    `env:"CACHE_TTL_SECONDS" envDefault:"300"`
	CacheDir        string `env:"CACHE_DIR" envDefault:"data/cache"`

	// HMACSecret signs capability tokens and cache envelopes. When empty,
	// a key is generated once and persisted at SecretFile.
	HMACSecret string `env:"HMAC_SECRET"`
	SecretFile string `env:"SECRET_FILE" envDefault:"data/secret.key"`

	// PublicBaseURL overrides request-derived base URL resolution.
	// Set it when the service runs behind a reverse proxy that does not
	// forward the original host.
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:""`
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.PairingCodeTTLSeconds) * time.Second
}

func (c *Config) DeepLinkTTL() time.Duration {
	ttl := time.Duration(c.DeepLinkTTLSeconds) * time.Second
	if ttl < MinDeepLinkTTL {
		return MinDeepLinkTTL
	}
	return ttl
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if isProduction {
		if c.HMACSecret != "" {
			if err := validateSecret("HMAC_SECRET", c.HMACSecret); err != nil {
				return err
			}
		}
		if c.PublicBaseURL == "" {
			log.Warn().Msg("PUBLIC_BASE_URL is empty in production: deep link base URL will be derived from request headers")
		}
	}

	if c.DeepLinkTTLSeconds < int(MinDeepLinkTTL.Seconds()) {
		log.Warn().
			Int("configured", c.DeepLinkTTLSeconds).
			Int("minimum", int(MinDeepLinkTTL.Seconds())).
			Msg("DEEP_LINK_TTL_SECONDS below minimum, clamping")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
