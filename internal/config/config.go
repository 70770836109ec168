package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full sheetflow configuration. A default file is written to
// the user config dir on first run; SHEETFLOWCONFIG or --config override
// the lookup.
type Config struct {
	Engine   Engine   `mapstructure:"engine" yaml:"engine"`
	Callback Callback `mapstructure:"callback" yaml:"callback"`
	Scripts  Scripts  `mapstructure:"scripts" yaml:"scripts"`
	Probe    Probe    `mapstructure:"probe" yaml:"probe"`
	Jobs     Jobs     `mapstructure:"jobs" yaml:"jobs"`
	Data     Data     `mapstructure:"data" yaml:"data"`
	Verbose  bool     `mapstructure:"verbose" yaml:"verbose"`
}

// Engine describes the workflow engine this process supervises.
type Engine struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebURL     string `mapstructure:"web_url" yaml:"web_url"`
	Template   string `mapstructure:"template" yaml:"template"`
}

// Callback configures the local listener the engine posts results to.
// The listener always binds 127.0.0.1; only the port is configurable.
type Callback struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// Scripts points at the opaque lifecycle commands.
type Scripts struct {
	Start   string        `mapstructure:"start" yaml:"start"`
	Stop    string        `mapstructure:"stop" yaml:"stop"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Probe configures the liveness reachability check.
type Probe struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Jobs bounds how long a submission may stay pending and how many completed
// jobs are retained for the UI.
type Jobs struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetainCompleted int           `mapstructure:"retain_completed" yaml:"retain_completed"`
}

// Data locates the engine-owned shared filesystem area.
type Data struct {
	SharedRoot string `mapstructure:"shared_root" yaml:"shared_root"`
	SheetsDir  string `mapstructure:"sheets_dir" yaml:"sheets_dir"`
	EngineData string `mapstructure:"engine_data" yaml:"engine_data"`
	EnvFile    string `mapstructure:"env_file" yaml:"env_file"`
}

func Default() Config {
	return Config{
		Engine: Engine{
			WebhookURL: "http://localhost:5678/webhook/trigger",
			WebURL:     "http://localhost:5678",
			Template:   "default.docx",
		},
		Callback: Callback{Port: 5679},
		Scripts: Scripts{
			Start:   "./docker-engine/start-engine.sh",
			Stop:    "./docker-engine/stop-engine.sh",
			Timeout: 2 * time.Minute,
		},
		Probe: Probe{
			Addr:           "127.0.0.1:5678",
			ConfirmTimeout: 30 * time.Second,
			PollInterval:   5 * time.Second,
		},
		Jobs: Jobs{
			Timeout:         10 * time.Minute,
			RetainCompleted: 32,
		},
		Data: Data{
			SharedRoot: "./engine-files",
			SheetsDir:  "sheets",
			EngineData: "./docker-engine/engine-data",
			EnvFile:    "./docker-engine/.env",
		},
	}
}

// Load reads the yaml file at path and overlays it on the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault stores the default configuration as yaml, creating parent
// directories as needed.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	enc := yaml.NewEncoder(f)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func (c Config) Validate() error {
	if c.Callback.Port <= 0 || c.Callback.Port > 65535 {
		return fmt.Errorf("callback.port %d out of range", c.Callback.Port)
	}
	if c.Scripts.Start == "" || c.Scripts.Stop == "" {
		return fmt.Errorf("scripts.start and scripts.stop must be set")
	}
	if c.Probe.Addr == "" {
		return fmt.Errorf("probe.addr must be set")
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("jobs.timeout must be positive")
	}
	if c.Data.SharedRoot == "" {
		return fmt.Errorf("data.shared_root must be set")
	}
	return nil
}

// CallbackURL is the results endpoint advertised to the engine at
// submission time.
func (c Config) CallbackURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback/results", c.Callback.Port)
}
