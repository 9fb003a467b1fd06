// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion. Unset fields get defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHAT_GATEWAY_CONFIG environment variable
//  2. ~/.config/chat-gateway/config.yaml
//
// # Environment Variable Expansion
//
//	assistant:
//	  signing_secret: "${CHAT_GATEWAY_SIGNING_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations and Sizes
//
// Durations use time.ParseDuration syntax ("30s", "72h"). Upload limits use
// human-readable sizes ("32MB", "1GiB").
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "./chat-gateway.db"
//
//	storage:                       # optional, empty bucket disables uploads
//	  bucket: "chat-attachments"
//	  region: "us-east-1"
//	  endpoint: ""                 # S3-compatible endpoint override
//	  path_style: false
//	  preview_ttl: "72h"
//
//	assistant:
//	  url: "https://assistant.internal/api/chat"
//	  escalation_url: "https://assistant.internal/api/summary"
//	  handoff_url: "https://routing.internal/api/handoff"
//	  timeout: "60s"
//	  file_timeout: "120s"
//	  escalation_timeout: "30s"
//	  history_limit: 20
//	  signing_secret: "${CHAT_GATEWAY_SIGNING_SECRET}"
//
//	handoff:
//	  timezone: "America/New_York"
//	  open_hour: 9
//	  close_hour: 17
//	  location_label: "Miami"
//
//	limits:
//	  requests_per_second: 2
//	  burst: 5
//	  max_upload_size: "32MB"
//
//	idempotency:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
