// Package config loads, normalizes, and validates pagebind configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AWS_PROFILE. The Config type centralizes every knob the CLI needs, from the
// dropbox root and batch cache location to the book path templates and the
// external tool chain.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
