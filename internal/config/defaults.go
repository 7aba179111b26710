package config

const (
	defaultDataDir   = "~/.local/share/icast"
	defaultUploadDir = "~/.local/share/icast/uploads"
	defaultLogDir    = "~/.local/share/icast/logs"

	defaultUploadPrefix          = "media_uploads"
	defaultStorageTimeoutSeconds = 120

	defaultNexaraBaseURL        = "https://api.nexara.ru/api/v1"
	defaultNexaraTimeoutSeconds = 300

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMTemperature    = 0.3
	defaultLLMTimeoutSeconds = 60

	defaultPollIntervalSeconds  = 10
	defaultErrorRetrySeconds    = 5
	defaultStageWorkers         = 2
	defaultHeartbeatSeconds     = 15
	defaultStaleTaskTimeoutSecs = 900
	defaultJoinWarnAfterSeconds = 3600

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			UploadDir: defaultUploadDir,
			LogDir:    defaultLogDir,
		},
		Storage: Storage{
			UploadPrefix:   defaultUploadPrefix,
			TimeoutSeconds: defaultStorageTimeoutSeconds,
		},
		Nexara: Nexara{
			BaseURL:        defaultNexaraBaseURL,
			TimeoutSeconds: defaultNexaraTimeoutSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Temperature:    defaultLLMTemperature,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Dispatch: Dispatch{
			PollIntervalSeconds:  defaultPollIntervalSeconds,
			ErrorRetrySeconds:    defaultErrorRetrySeconds,
			UploadWorkers:        defaultStageWorkers,
			TranscriptionWorkers: defaultStageWorkers,
			ExtractionWorkers:    defaultStageWorkers,
			ReportWorkers:        defaultStageWorkers,
			HeartbeatSeconds:     defaultHeartbeatSeconds,
			StaleTaskTimeoutSecs: defaultStaleTaskTimeoutSecs,
			JoinWarnAfterSeconds: defaultJoinWarnAfterSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
