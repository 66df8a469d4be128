package engine

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config carries engine-wide settings. Per-task fields (retries, timeout,
// threshold) override these for a single task and are restored afterwards.
type Config struct {
	// DeviceID selects the device to drive. Empty means the transport's
	// current default (e.g. the only connected adb device).
	DeviceID string `yaml:"device_id"`

	// AdbPath locates the adb binary for the subprocess transport.
	AdbPath string `yaml:"adb_path" default:"adb"`

	// AgentURL is the base URL of the on-device HTTP bridge, for the agent
	// transport.
	AgentURL string `yaml:"agent_url"`

	// OCRLanguage is the default language pack for text extraction.
	OCRLanguage string `yaml:"ocr_language" default:"chi_sim+eng"`

	// RetryCount is the default retry budget for non-blocking tasks.
	RetryCount int `yaml:"retry_count" default:"3" validate:"gte=1"`

	// RetryInterval is the pause between attempts, in seconds.
	RetryInterval float64 `yaml:"retry_interval" default:"1.0" validate:"gte=0"`

	// Timeout is the default deadline for non-blocking tasks, in seconds.
	// Blocking tasks are unbounded unless they declare their own.
	Timeout float64 `yaml:"timeout" default:"30" validate:"gt=0"`

	// TaskDelay is the inter-task pause, in seconds.
	TaskDelay float64 `yaml:"task_delay" default:"0.01" validate:"gte=0"`

	// ImageThreshold is the default template-match confidence.
	ImageThreshold float64 `yaml:"image_threshold" default:"0.8" validate:"gte=0,lte=1"`

	// WorkDir is where transient screenshots are written.
	WorkDir string `yaml:"work_dir" default:"."`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("engine: applying config defaults: %v", err))
	}
	return cfg
}

// LoadConfig reads a YAML settings file, fills defaults for absent fields and
// validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading settings file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling settings: %w", err)
	}
	if err := PrepareConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PrepareConfig applies defaults to zero-valued fields and validates the
// final config.
func PrepareConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
