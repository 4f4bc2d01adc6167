// Package config provides configuration loading and validation for the voice
// assistant's audio ingestion pipeline. Configuration is YAML; every field has
// a default so a partial file is enough.
package config
