package zerohack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the engine's startup configuration. Values load from an optional
// JSON file and may be overridden by ZEROHACK_* environment variables.
type Config struct {
	Port                    string           `json:"port"`
	LogLevel                string           `json:"log_level"`
	ModelDir                string           `json:"model_dir"`
	RulesPath               string           `json:"rules_path"`
	DBPath                  string           `json:"db_path"`
	ArchiveURL              string           `json:"archive_url"`
	LedgerURL               string           `json:"ledger_url"`
	ONNXLibraryPath         string           `json:"onnx_library_path"`
	DispatchTimeoutSeconds  float64          `json:"dispatch_timeout_seconds"`
	DispatchRetries         int              `json:"dispatch_retries"`
	LedgerBurst             int              `json:"ledger_burst"`
	LedgerRefillSeconds     float64          `json:"ledger_refill_seconds"`
	VerdictTTLSeconds       float64          `json:"verdict_ttl_seconds"`
	ProfileWindowSeconds    float64          `json:"profile_window_seconds"`
	AlertSuppressionSeconds float64          `json:"alert_suppression_seconds"`
	AdminUser               string           `json:"admin_user"`
	AdminPass               string           `json:"-"`
	IsolationForest         DetectorSettings `json:"isolation_forest"`
	Behavioral              DetectorSettings `json:"behavioral"`
	Aggregator              AggregatorConfig `json:"aggregator"`
}

// DetectorSettings selects one anomaly channel's artifact pair and decision
// boundary. Model and Scaler are file names resolved under ModelDir.
type DetectorSettings struct {
	Model     string  `json:"model"`
	Scaler    string  `json:"scaler"`
	Cutoff    float64 `json:"cutoff"`
	ModelType string  `json:"model_type,omitempty"`
	Timesteps int     `json:"timesteps,omitempty"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:                    "8008",
		LogLevel:                "info",
		ModelDir:                "models",
		RulesPath:               filepath.Join("config", "rules.json"),
		DBPath:                  filepath.Join("logs", "local_incidents.sqlite"),
		DispatchTimeoutSeconds:  5,
		DispatchRetries:         1,
		LedgerBurst:             10,
		LedgerRefillSeconds:     60,
		VerdictTTLSeconds:       300,
		ProfileWindowSeconds:    900,
		AlertSuppressionSeconds: 30,
		IsolationForest: DetectorSettings{
			Model:  "isolation_forest_model.onnx",
			Scaler: "scaler_isolation_forest.json",
			Cutoff: -0.1,
		},
		Behavioral: DetectorSettings{
			Model:     "autoencoder_model.onnx",
			Scaler:    "scaler_autoencoder.json",
			Cutoff:    0.7,
			ModelType: "Autoencoder",
			Timesteps: defaultLSTMTimesteps,
		},
		Aggregator: DefaultAggregatorConfig(),
	}
}

// LoadConfig reads the JSON config file when a path is given, applies
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxRuleConfigSize {
		return fmt.Errorf("config %s exceeds %d bytes", path, maxRuleConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Port, "ZEROHACK_PORT")
	set(&c.LogLevel, "ZEROHACK_LOG_LEVEL")
	set(&c.ModelDir, "ZEROHACK_MODEL_DIR")
	set(&c.RulesPath, "ZEROHACK_RULES_PATH")
	set(&c.DBPath, "ZEROHACK_DB_PATH")
	set(&c.ArchiveURL, "ZEROHACK_ARCHIVE_URL")
	set(&c.LedgerURL, "ZEROHACK_LEDGER_URL")
	set(&c.ONNXLibraryPath, "ZEROHACK_ONNX_LIB")
	set(&c.AdminUser, "ZEROHACK_ADMIN_USER")
	set(&c.AdminPass, "ZEROHACK_ADMIN_PASS")
}

// ModelPath resolves a model or scaler file name under the model directory.
func (c *Config) ModelPath(name string) string {
	return filepath.Join(c.ModelDir, name)
}

// ONNXLibrary resolves the ONNX Runtime shared library location. By default
// it ships alongside the models.
func (c *Config) ONNXLibrary() string {
	if c.ONNXLibraryPath != "" {
		return c.ONNXLibraryPath
	}
	return filepath.Join(c.ModelDir, "libonnxruntime.so")
}

func (c *Config) DispatchTimeout() time.Duration { return secondsWindow(c.DispatchTimeoutSeconds) }
func (c *Config) LedgerRefill() time.Duration    { return secondsWindow(c.LedgerRefillSeconds) }
func (c *Config) VerdictTTL() time.Duration      { return secondsWindow(c.VerdictTTLSeconds) }
func (c *Config) ProfileWindow() time.Duration   { return secondsWindow(c.ProfileWindowSeconds) }
func (c *Config) AlertSuppression() time.Duration {
	return secondsWindow(c.AlertSuppressionSeconds)
}

// ListenAddr normalizes the configured port into a listen address.
func (c *Config) ListenAddr() string {
	port := strings.TrimPrefix(c.Port, ":")
	return ":" + port
}
