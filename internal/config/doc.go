// Package config loads and validates the alertd YAML configuration.
//
// Load order: read file, expand ${VAR} environment references, unmarshal,
// apply defaults, validate. Secrets (database password, bot tokens) are
// expected to arrive via environment expansion rather than literal values.
package config
