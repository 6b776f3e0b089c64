package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"siteline/internal/domain"
)

// Config models siteline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Sequences map[string]SequenceConfig `yaml:"sequences"`
	Capabilities struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"capabilities"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// SequenceConfig sets the report-number prefix for one record kind.
type SequenceConfig struct {
	Prefix string `yaml:"prefix"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "construction-site" {
		return fmt.Errorf("config.project.kind must be 'construction-site'")
	}
	if c.Sequences == nil {
		return fmt.Errorf("config.sequences is required")
	}
	for _, kind := range domain.Kinds() {
		seq, ok := c.Sequences[string(kind)]
		if !ok {
			return fmt.Errorf("config.sequences.%s is required", kind)
		}
		if seq.Prefix == "" {
			return fmt.Errorf("sequence prefix for %s is empty", kind)
		}
	}
	for kind := range c.Sequences {
		if !domain.RecordKind(kind).Valid() {
			return fmt.Errorf("config.sequences has unknown record kind %s", kind)
		}
	}
	for name := range c.Capabilities.Catalog {
		if name == "" {
			return fmt.Errorf("config.capabilities.catalog contains empty capability id")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// SequencePrefix returns the configured prefix for a kind.
func (c *Config) SequencePrefix(kind domain.RecordKind) string {
	if c != nil {
		if seq, ok := c.Sequences[string(kind)]; ok && seq.Prefix != "" {
			return seq.Prefix
		}
	}
	return defaultPrefixes[kind]
}

var defaultPrefixes = map[domain.RecordKind]string{
	domain.KindObservation: "NO",
	domain.KindTraining:    "TR",
	domain.KindTask:        "MT",
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "construction-site"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: construction-site

sequences:
  observation:
    prefix: "NO"
  training:
    prefix: "TR"
  task:
    prefix: "MT"

capabilities:
  catalog:
    observation.access:
      description: "Work on assigned nonconformity observations"
    observation.creator:
      description: "Raise nonconformity observations"
    observation.approver:
      description: "Approve observation openings and closures"
    task.access:
      description: "Work on assigned maintenance tasks"
    task.creator:
      description: "Create maintenance tasks"
    training.creator:
      description: "Schedule field trainings"
    training.planner:
      description: "Plan and approve field trainings"
`
