// Package config loads and validates knxfleet configuration.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// environment variable overrides (KNXFLEET_* pattern). Validation runs after
// all layers are applied, so a broken file can still be rescued by the
// environment.
//
// Example:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.Port)
package config
