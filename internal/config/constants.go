package config

import "time"

// Application constants
const (
	AppName    = "dvfcli"
	AppVersion = "1.0.0"

	DefaultOutputDir = "output"
	DefaultLogsDir   = "logs"

	DefaultReferenceYear = 2025
	DefaultIQRMinGroup   = 10
	DefaultIQRMultiplier = 1.5
	DefaultChunkSize     = 50_000
	DefaultTopN          = 50
	DefaultStageTimeout  = 30 * time.Minute

	// Status server rate limiting, requests per second.
	DefaultRateLimit = 20
	DefaultBurstSize = 40
)
