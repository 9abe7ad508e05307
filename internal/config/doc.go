// Package config loads the processor configuration.
//
// Sources, lowest precedence first:
//
//	1. Default()
//	2. a YAML file (-config flag, else config.yaml or configs/config.yaml)
//	3. a .env file in the working directory
//	4. environment variables prefixed DVF_
//
// Environment variables follow the section layout:
//
//	DVF_LOGGING_LEVEL=debug
//	DVF_PATHS_LEDGER=/data/dvf/full.csv
//	DVF_PIPELINE_REFERENCE_YEAR=2025
//	DVF_PIPELINE_FORMATS=csv,json
//	DVF_SINKS_POSTGRES_DSN=postgres://dvf@localhost/dvf
//	DVF_OBSERVABILITY_STATUS_ADDR=127.0.0.1:8090
//
// The loaded configuration is validated with struct tags and fails fast on the
// first invalid section.
package config
