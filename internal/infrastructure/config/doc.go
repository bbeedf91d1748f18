// Package config handles loading and validating knxsync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with KNXSYNC_* environment variables
//   - Validation of required fields, including the seed entity map
//   - Default value handling
//
// Security Considerations:
//   - Secrets (MQTT password, JWT secret, API keys) should come from the
//     environment or a .env file, not the YAML file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.KNX.Connection)
package config
