// Package config loads and validates the client's YAML configuration file.
package config
