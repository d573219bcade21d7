package pagewatch

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapConfig is the YAML file read at process start (spec §6): it
// seeds global defaults and declares an initial set of targets so the
// engine has something to watch before any API call arrives. Everything
// it describes is also reachable and mutable through the Command/Query
// API afterward — this file is a convenience for cold start, not a
// parallel source of truth.
type BootstrapConfig struct {
	Global  GlobalDefaults          `yaml:"global"`
	Store   StoreConfig             `yaml:"store"`
	Server  ServerConfig            `yaml:"server"`
	Agent   AgentConfig             `yaml:"agent"`
	Targets []BootstrapTargetConfig `yaml:"targets"`
}

// GlobalDefaults seeds the Config Store's global_config rows (spec §4.4
// precedence's lowest tier).
type GlobalDefaults struct {
	WebhookURL       string        `yaml:"webhook_url"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	ChangeDetection  *bool         `yaml:"change_detection"`
}

// StoreConfig controls where the Config Store's SQLite file lives.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the Command/Query API's HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig controls the Page Agent's browser lifecycle (spec §4.3) —
// ignored entirely when Agent.Mode is "http".
type AgentConfig struct {
	Mode             string        `yaml:"mode"` // "browser" | "http"
	RemoteURL        string        `yaml:"remote_url"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // "http" | "headless"
}

// BootstrapTargetConfig is the YAML shape of one bootstrap target
// declaration, matching the §3 fields a caller may set through
// start_target. Distinct from the domain TargetConfig (target.go):
// this one carries yaml tags and optional-pointer defaulting fields
// that only make sense for a file read once at process start.
type BootstrapTargetConfig struct {
	PageRef         string `yaml:"page_ref"`
	URL             string `yaml:"url"`
	Selector        string `yaml:"selector"`
	ContentMode     string `yaml:"content_mode"`
	Interval        time.Duration `yaml:"interval"`
	ChangeDetection *bool  `yaml:"change_detection"`
	WebhookOverride string `yaml:"webhook_override"`
	ProfileName     string `yaml:"profile_name"`
}

// LoadBootstrapConfig reads and defaults a YAML bootstrap file.
func LoadBootstrapConfig(path string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg BootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "pagewatch.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Global.RefreshInterval <= 0 {
		c.Global.RefreshInterval = 60 * time.Second
	}
	if c.Global.ChangeDetection == nil {
		enabled := true
		c.Global.ChangeDetection = &enabled
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = "browser"
	}
	if c.Agent.MemoryLimit <= 0 {
		c.Agent.MemoryLimit = 1 << 30
	}
	if c.Agent.RecycleInterval <= 0 {
		c.Agent.RecycleInterval = 4 * time.Hour
	}
	if c.Agent.Stealth == "" {
		c.Agent.Stealth = "headless"
	}
	for i := range c.Targets {
		if c.Targets[i].ContentMode == "" {
			c.Targets[i].ContentMode = "markup"
		}
		if c.Targets[i].Interval <= 0 {
			c.Targets[i].Interval = c.Global.RefreshInterval
		}
		if c.Targets[i].ChangeDetection == nil {
			c.Targets[i].ChangeDetection = c.Global.ChangeDetection
		}
	}
}
