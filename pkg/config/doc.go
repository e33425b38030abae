// Package config provides configuration management for the throttle gateway.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. Configuration is passed
// explicitly to the components that need it; there is no package-level
// instance.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("throttle.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("throttle.yaml")
//
// LoadDotEnv reads .env files into the process environment beforehand, so
// secrets such as the Redis password can live outside the YAML file.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention THROTTLE_SECTION_FIELD.
// For example:
//
//   - THROTTLE_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - THROTTLE_LIMITS_STORE_REDIS_PASSWORD overrides limits.store.redis.password
//   - THROTTLE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based configuration.
// List values are comma separated.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Policies
//
// The built-in endpoint classes (auth, api, search, write, admin) are always
// present. A class listed under limits.policies replaces the built-in entry
// of the same name; new names add classes. Every policy is checked against
// the limit invariants during validation, so an invalid policy stops the
// process at startup rather than at the first request.
//
// # Validation
//
// Validation errors include field paths and helpful messages:
//
//	configuration validation failed with 2 errors:
//	  - limits.policies.auth.burst_limit: burst limit 20 exceeds sustained limit 10
//	  - proxy.routes[0].class: unknown endpoint class "login"
//
// # Example Configuration
//
// Here is a minimal configuration file:
//
//	proxy:
//	  listen_address: "0.0.0.0:8080"
//	  upstream_url: "http://127.0.0.1:9000"
//	  routes:
//	    - path_prefix: "/api/auth/"
//	      class: "auth"
//	    - path_prefix: "/api/"
//	      class: "api"
//
//	limits:
//	  store:
//	    backend: "redis"
//	    redis:
//	      host: "redis.internal"
package config
