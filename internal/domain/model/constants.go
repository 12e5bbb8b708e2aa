package model

import "time"

// Canonical protocol limits. Changing any of these is a wire-level break for
// deployed fleets, so they are not configurable.
const (
	MaxGroupSize    = 50
	MaxPayloadBytes = 50 * 1024

	DefaultMessageTTL  = 7 * 24 * time.Hour
	MaxDeliveryRetries = 5
	AckTimeout         = 30 * time.Second
	RetryBackoffBase   = time.Second
	RetryBackoffCap    = 60 * time.Second

	PollInterval        = 30 * time.Second
	ReconnectFallback   = 15 * time.Second
	ClockSkewTolerance  = 2 * time.Minute
	KeyRotationInterval = 90 * 24 * time.Hour

	LogRetention                 = 90 * 24 * time.Hour
	MetricsWindow                = time.Hour
	FailedDeliveryAlertThreshold = 5

	DefaultConversationTTL = 30 * time.Minute
	DemoActivityWindow     = 5 * time.Minute
)
