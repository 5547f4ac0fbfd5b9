// Package config loads and validates reelpipe's TOML configuration.
package config
