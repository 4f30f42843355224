// Package config handles configuration loading for prism-gateway.
//
// # Configuration File
//
// Default location:
//
//  1. Path from the PRISM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/prism/gateway.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
// `prism-gateway init` writes Starter to the default location.
//
// # Environment
//
// ${VAR_NAME} references anywhere in the file are replaced before decoding.
// Unset variables expand to an empty string:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// After decoding, PRISM_* variables (PRISM_HTTP_ADDR, PRISM_DB_DSN,
// PRISM_LOG_LEVEL, ...) override file values. LoadDotEnv reads .env files
// into the environment first without replacing variables already set.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	chat:
//	  send_timeout: "5s"
//	  dedupe_ttl: "5m"
//
// # Defaults and Validation
//
// ApplyDefaults fills unset fields once, after file and environment values.
// Validate then reports the first invalid field.
package config
