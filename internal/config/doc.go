// Package config defines the configuration structure for the batch
// migration engine: connection settings for vCenter and Scaleway, local
// conversion tool paths, and orchestrator concurrency defaults.
//
// Configuration is organized into logical sections (VMware, Scaleway,
// Conversion, Orchestrator, Dashboard) and uses code generation via optgen
// to create functional option helpers, the way the rest of this codebase
// builds its option structs.
//
// # Configuration Structure
//
//	Config
//	├── VMware       - vCenter connection
//	├── Scaleway     - target account, zone, object storage
//	├── Conversion   - local tool paths and work directory
//	├── Orchestrator - concurrency budgets and state directory
//	├── Dashboard    - optional webhook sink
//	├── LogFormat    - logging format
//	└── LogLevel     - logging verbosity
//
// # Secrets
//
// VMware.Password and Scaleway.SecretKey are never written back by
// WriteYAML: any field name containing "password" or "secret" is replaced
// with "***REDACTED***". LoadEnv reads VMWARE_PASSWORD / SCW_SECRET_KEY
// (among others) so a committed config document never has to carry them in
// plaintext.
//
// # Code Generation
//
//	//go:generate go run github.com/ecordell/optgen -output zz_generated.config.go . Config VMware Scaleway Conversion Orchestrator Dashboard
//
// Generated helpers include NewConfigWithOptionsAndDefaults(...ConfigOption),
// WithVMware(VMware), WithScaleway(Scaleway), and DebugMap() for structured
// logging of non-secret fields.
package config
