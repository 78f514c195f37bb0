// Package config loads the conductor configuration.
//
// Configuration is read from a single directory. The default directory is
// ~/.config/conductor; commands accept --config-path to use another one.
//
// # Configuration Directory
//
//   - config.yaml (main configuration file)
//   - templates/ (composition templates, unless templates.directory says
//     otherwise)
//
// A missing config.yaml is not an error: the defaults from GetDefaultConfig
// are used. Values present in the file override the defaults key by key.
//
// # Example
//
//	supervision:
//	  operationTimeout: 2m
//	  scanInterval: 10s
//	  heartbeatGrace: 1m
//	  maxRetries: 1
//	  workerPoolSize: 8
//	  reconcileWorkers: 4
//	storage:
//	  driver: bolt
//	  path: /var/lib/conductor/state.db
//	logging:
//	  level: info
//	  format: json
//	templates:
//	  directory: /etc/conductor/templates
//	  watch: true
//	participants:
//	  - id: sim-1
//	    kind: simulator
//	    supportedElementTypes: [helm]
//	    simulator:
//	      delay: 2s
//
// Validation collects every problem in ValidationErrors instead of stopping
// at the first one.
package config
