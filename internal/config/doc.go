// Package config handles configuration loading for nextturn.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Missing values get defaults before validation, so a file only needs to set
// what differs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from NEXTTURN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/nextturn/server.yaml
//  3. ~/.config/nextturn/server.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	generation:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	scheduler:
//	  lock_ttl: "5m"
//	polling:
//	  interval: "100ms"
//	  max_interval: "2s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "nextturn.db"
//
//	redis:                       # only used by the redis scheduler backend
//	  addr: "localhost:6379"
//	  key_prefix: "nextturn:"
//
//	scheduler:
//	  backend: "memory"          # memory | redis
//	  lock_ttl: "5m"
//
//	generation:
//	  provider: "script"         # script | openai | ollama
//	  script_path: "script.toml"
//	  base_url: ""
//	  model: ""
//	  author_policy: "round_robin"  # round_robin | generator
//	  max_chain_depth: 0         # extra turns generated after the requested one
//	  history_limit: 20
//	  workers: 2
//	  timeout: "2m"
//
//	logging:
//	  level: "info"              # debug | info | warn | error
//	  format: "text"             # text | json
package config
