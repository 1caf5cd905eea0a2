// Package config loads, normalizes, and validates ctscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AZURE_SUBSCRIPTION_KEYS, RABBITMQ_URL, and RABBITMQ_PREFETCH. The Config type
// centralizes every knob the worker daemon and CLI need so broker, speech, and
// caption settings are discovered in one pass.
package config
