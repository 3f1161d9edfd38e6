// Package config handles loading and validating Gray Logic agent configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files (chosen by extension)
//   - Overriding with GRAYLOGIC_AGENT_* environment variables
//   - Validation of required fields, protocol endpoints and attribute links
//   - Default value handling
//
// The protocols and links sections are the agent's binding table: they are
// converted into protocol.ProtocolConfiguration and protocol.LinkMeta
// values before the runtime sees them.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - String and MarshalJSON redact secrets, so a Config is safe to log
//
// Usage:
//
//	cfg, err := config.Load("configs/agent.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Agent.Name)
package config
