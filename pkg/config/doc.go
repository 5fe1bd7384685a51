// Package config loads and validates mcpgate configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Defaults (Default).
//  2. An optional YAML (.yaml, .yml) or TOML (.toml) file. ${VAR} and
//     ${VAR:-default} placeholders are expanded from the environment before
//     parsing, so secrets can stay out of the file.
//  3. MCPGATE_* environment variables (see ApplyEnv).
//
// Example mcpgate.yaml:
//
//	server:
//	  port: 9091
//	  path: /mcp
//	  max_sessions: 100
//	auth:
//	  token_url: https://api.example.com/oauth/token
//	  client_id: public-cli
//	  api_key: ${EXAMPLE_API_KEY}
//	  api_secret: ${EXAMPLE_API_SECRET}
//	  refresh_buffer: 5m
//	api:
//	  base_url: https://api.example.com/v1
//	log:
//	  level: info
//	  format: json
package config
