// Package config handles loading and validating TankWatch Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TANKWATCH_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The OPC UA service password, MQTT password, InfluxDB token and JWT
//     secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Supervisor.SweepInterval)
package config
