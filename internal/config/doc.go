// Package config handles configuration loading for lostfound.
//
// # Overview
//
// Configuration starts from Default(), is overlaid with a YAML or TOML file
// (chosen by extension) and finally with LOSTFOUND_* environment variables.
//
// # Environment Variable Expansion
//
// Values in the file can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LOSTFOUND_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Environment Overrides
//
// Every field can be overridden directly, e.g. LOSTFOUND_SERVER_HTTP_ADDR,
// LOSTFOUND_RESPONDER_DELAY or LOSTFOUND_CLAIMS_REQUIRE_CLAIMANT.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	database:
//	  path: "lostfound.db"
//	auth:
//	  jwt_secret: ""              # empty: trust X-User-ID (development only)
//	limits:
//	  max_title_length: 120
//	  max_location_length: 200
//	  max_body_length: 2000
//	  clock_skew: "5m"
//	responder:
//	  enabled: true
//	  delay: "1s"
//	  body: "Thanks for your message! I'll get back to you as soon as possible."
//	  dedupe_ttl: "24h"
//	  dedupe_size: 100000
//	claims:
//	  require_claimant: false
//	events:
//	  redis_addr: ""              # empty: no Redis mirror
//	  redis_channel: "lostfound.events"
//	tracing:
//	  endpoint: ""                # OTLP/HTTP endpoint; empty disables tracing
//	  service_name: "lostfound"
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text, json
package config
