package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Deep link issuance floor. Shorter links expire before the end user can
// realistically open them on a phone.
const MinDeepLinkTTL = 5 * time.Minute

// Pairing session pacing. These are UI cadences, intentionally independent
// from the upstream request timeout.
const (
	CountdownTick         = time.Second
	PairingResyncInterval = 45 * time.Second
	StatusPollInterval    = 3 * time.Second
	QRPollInterval        = 5 * time.Second
	NearExpiryThreshold   = 5 * time.Second
	ErrorNotifyThrottle   = 20 * time.Second
)

// Upstream gateway retry policy
const (
	GatewayBackoffBase = time.Second
)

// Background job intervals
const CacheSweepInterval = 5 * time.Minute

// Default rate limiting for the public deep-link poll endpoint
const DeepLinkRateLimitPerMin = 30
