// Package config loads and validates Hearth Core configuration.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// HEARTH_* environment variable overrides. Validation runs last so a
// misconfigured deployment fails at startup, not mid-dispatch.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
package config
