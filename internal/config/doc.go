// Package config defines the typed server configuration and loads it from
// config.yaml, a .env file and TASKCORE_* environment variables.
package config
