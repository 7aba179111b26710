package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	UploadDir string `toml:"upload_dir"`
	LogDir    string `toml:"log_dir"`
}

// Storage contains configuration for the S3-compatible object store.
type Storage struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UploadPrefix    string `toml:"upload_prefix"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Nexara contains configuration for the diarizing transcription service.
type Nexara struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains configuration for the chat-completion service used by the
// extraction stage.
type LLM struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Dispatch contains configuration for the outbox dispatcher and worker pool.
type Dispatch struct {
	PollIntervalSeconds   int `toml:"poll_interval_seconds"`
	ErrorRetrySeconds     int `toml:"error_retry_seconds"`
	UploadWorkers         int `toml:"upload_workers"`
	TranscriptionWorkers  int `toml:"transcription_workers"`
	ExtractionWorkers     int `toml:"extraction_workers"`
	ReportWorkers         int `toml:"report_workers"`
	HeartbeatSeconds      int `toml:"heartbeat_seconds"`
	StaleTaskTimeoutSecs  int `toml:"stale_task_timeout_seconds"`
	JoinWarnAfterSeconds  int `toml:"join_warn_after_seconds"`
	RetainProcessedEvents bool `toml:"retain_processed_events"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for icast.
//
// Configuration sections by subsystem:
//   - Paths: data, upload, and log directories
//   - Storage: S3-compatible object storage credentials and bucket
//   - Nexara: diarizing transcription service connection
//   - LLM: chat-completion service connection for extraction
//   - Dispatch: outbox polling, worker counts, stale-task sweep
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Storage  Storage  `toml:"storage"`
	Nexara   Nexara   `toml:"nexara"`
	LLM      LLM      `toml:"llm"`
	Dispatch Dispatch `toml:"dispatch"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/icast/config.toml")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("icast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.UploadDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}

	c.Storage.Endpoint = strings.TrimRight(strings.TrimSpace(c.Storage.Endpoint), "/")
	c.Storage.UploadPrefix = strings.Trim(strings.TrimSpace(c.Storage.UploadPrefix), "/")
	if c.Storage.UploadPrefix == "" {
		c.Storage.UploadPrefix = defaultUploadPrefix
	}
	if c.Storage.TimeoutSeconds <= 0 {
		c.Storage.TimeoutSeconds = defaultStorageTimeoutSeconds
	}

	c.Nexara.BaseURL = strings.TrimRight(strings.TrimSpace(c.Nexara.BaseURL), "/")
	if c.Nexara.BaseURL == "" {
		c.Nexara.BaseURL = defaultNexaraBaseURL
	}
	if c.Nexara.TimeoutSeconds <= 0 {
		c.Nexara.TimeoutSeconds = defaultNexaraTimeoutSeconds
	}

	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = defaultLLMTemperature
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}

	if c.Dispatch.PollIntervalSeconds <= 0 {
		c.Dispatch.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Dispatch.ErrorRetrySeconds <= 0 {
		c.Dispatch.ErrorRetrySeconds = defaultErrorRetrySeconds
	}
	if c.Dispatch.UploadWorkers <= 0 {
		c.Dispatch.UploadWorkers = defaultStageWorkers
	}
	if c.Dispatch.TranscriptionWorkers <= 0 {
		c.Dispatch.TranscriptionWorkers = defaultStageWorkers
	}
	if c.Dispatch.ExtractionWorkers <= 0 {
		c.Dispatch.ExtractionWorkers = defaultStageWorkers
	}
	if c.Dispatch.ReportWorkers <= 0 {
		c.Dispatch.ReportWorkers = defaultStageWorkers
	}
	if c.Dispatch.HeartbeatSeconds <= 0 {
		c.Dispatch.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if c.Dispatch.StaleTaskTimeoutSecs <= 0 {
		c.Dispatch.StaleTaskTimeoutSecs = defaultStaleTaskTimeoutSecs
	}
	if c.Dispatch.JoinWarnAfterSeconds <= 0 {
		c.Dispatch.JoinWarnAfterSeconds = defaultJoinWarnAfterSeconds
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
