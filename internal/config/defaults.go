package config

import "time"

const (
	DefaultOperationTimeout  = 2 * time.Minute
	DefaultScanInterval      = 10 * time.Second
	DefaultHeartbeatGrace    = time.Minute
	DefaultMaxRetries        = 1
	DefaultWorkerPoolSize    = 8
	DefaultReconcileWorkers  = 4
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultParticipantPool   = 4
	DefaultNamespace         = "default"
)

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() Config {
	return Config{
		Supervision: SupervisionConfig{
			OperationTimeout: DefaultOperationTimeout,
			ScanInterval:     DefaultScanInterval,
			HeartbeatGrace:   DefaultHeartbeatGrace,
			MaxRetries:       DefaultMaxRetries,
			WorkerPoolSize:   DefaultWorkerPoolSize,
			ReconcileWorkers: DefaultReconcileWorkers,
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyParticipantDefaults fills the per-participant settings left empty.
func applyParticipantDefaults(cfg *Config) {
	for i := range cfg.Participants {
		p := &cfg.Participants[i]
		if p.Kind == "" {
			p.Kind = ParticipantSimulator
		}
		if p.HeartbeatInterval <= 0 {
			p.HeartbeatInterval = DefaultHeartbeatInterval
		}
		if p.Workers <= 0 {
			p.Workers = DefaultParticipantPool
		}
		if p.Kind == ParticipantKubernetes && p.Kubernetes.Namespace == "" {
			p.Kubernetes.Namespace = DefaultNamespace
		}
	}
}
