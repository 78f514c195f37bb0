package config

import "time"

// Config is the top-level configuration structure for conductor.
type Config struct {
	Supervision  SupervisionConfig   `yaml:"supervision"`
	Storage      StorageConfig       `yaml:"storage"`
	Logging      LoggingConfig       `yaml:"logging"`
	Templates    TemplatesConfig     `yaml:"templates"`
	Participants []ParticipantConfig `yaml:"participants,omitempty"`
}

// SupervisionConfig tunes the command publisher and the supervision scanner.
type SupervisionConfig struct {
	OperationTimeout time.Duration `yaml:"operationTimeout"` // Deadline of each operation attempt
	ScanInterval     time.Duration `yaml:"scanInterval"`     // Period of the full scan
	HeartbeatGrace   time.Duration `yaml:"heartbeatGrace"`   // Silence tolerated before a participant is flagged stale
	MaxRetries       int           `yaml:"maxRetries"`       // Automatic re-publishes after a timeout
	WorkerPoolSize   int           `yaml:"workerPoolSize"`   // Bound on concurrent publishes and background priming
	ReconcileWorkers int           `yaml:"reconcileWorkers"` // Goroutines serving on-demand reconciles
}

// StorageDriver selects the repository backend.
type StorageDriver string

const (
	StorageMemory StorageDriver = "memory"
	StorageBolt   StorageDriver = "bolt"
)

// StorageConfig selects where definitions, instances and participants are kept.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`
	Path   string        `yaml:"path,omitempty"` // Database file, bolt only
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// TemplatesConfig points at the composition template directory.
type TemplatesConfig struct {
	Directory string `yaml:"directory,omitempty"`
	Watch     bool   `yaml:"watch,omitempty"` // Re-commission templates when files change
}

// ParticipantKind selects the adapter behind an in-process participant.
type ParticipantKind string

const (
	ParticipantSimulator  ParticipantKind = "simulator"
	ParticipantKubernetes ParticipantKind = "kubernetes"
)

// ParticipantConfig declares a participant started in-process by serve and
// simulate.
type ParticipantConfig struct {
	ID                    string           `yaml:"id"`
	Kind                  ParticipantKind  `yaml:"kind"`
	SupportedElementTypes []string         `yaml:"supportedElementTypes"`
	HeartbeatInterval     time.Duration    `yaml:"heartbeatInterval,omitempty"`
	Workers               int              `yaml:"workers,omitempty"`
	Simulator             SimulatorConfig  `yaml:"simulator,omitempty"`
	Kubernetes            KubernetesConfig `yaml:"kubernetes,omitempty"`
}

// SimulatorConfig controls the simulated adapter.
type SimulatorConfig struct {
	Delay time.Duration `yaml:"delay,omitempty"`
	// Fail lists operation kinds (PRIME, DEPLOY, ...) that report failure.
	Fail []string `yaml:"fail,omitempty"`
	// Silent lists operation kinds that are never acknowledged.
	Silent []string `yaml:"silent,omitempty"`
}

// KubernetesConfig controls the ConfigMap adapter.
type KubernetesConfig struct {
	Namespace  string `yaml:"namespace,omitempty"`
	Kubeconfig string `yaml:"kubeconfig,omitempty"` // Empty means in-cluster
}
