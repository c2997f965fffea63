// Package config provides the configuration structure for the narration-service.
package config

import (
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// SecretsPrefix is the environment prefix for credentials.
const SecretsPrefix = "NARRATION"

// Defaults applied to zero values by ApplyDefaults.
const (
	DefaultNATSURL                 = "nats://127.0.0.1:4222"
	DefaultSynthesisRequestSubject = "narration.requested"
	DefaultAudioBucket             = "NARRATIONS"
	DefaultDirectMaxChunkLength    = 4000
	DefaultDirectChunkDelayMS      = 250
	DefaultJobMaxChunkLength       = 450
	DefaultJobChunkDelayMS         = 1000
	DefaultJobPollIntervalMS       = 2000
	DefaultJobMaxAttempts          = 60
	DefaultTimeoutSeconds          = 60
	DefaultFFmpegPath              = "ffmpeg"
	DefaultFormat                  = "mp3"
	DefaultRequestTimeoutSeconds   = 900
	DefaultHistoryPath             = "data/narration-history.db"
	DefaultMetricsListenAddress    = ":9464"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                     string `toml:"url"`
	SynthesisRequestSubject string `toml:"synthesis_request_subject"`
	AudioObjectStoreBucket  string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket   string `toml:"text_object_store_bucket"`
	PublicBaseURL           string `toml:"public_base_url"`
}

// DirectProviderConfig holds the synchronous provider settings.
type DirectProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	DefaultVoice   string `toml:"default_voice"`
	Format         string `toml:"format"`
	MaxChunkLength int    `toml:"max_chunk_length"`
	ChunkDelayMS   int    `toml:"chunk_delay_ms"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// JobProviderConfig holds the submit/poll/fetch provider settings.
type JobProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	DefaultVoice   string `toml:"default_voice"`
	Format         string `toml:"format"`
	MaxChunkLength int    `toml:"max_chunk_length"`
	ChunkDelayMS   int    `toml:"chunk_delay_ms"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// StitcherConfig holds the ffmpeg settings.
type StitcherConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"`
	WorkDir    string `toml:"work_dir"`
	Reencode   bool   `toml:"reencode"`
}

// DriveConfig holds the secondary storage tier settings.
type DriveConfig struct {
	Enabled      bool   `toml:"enabled"`
	RootFolderID string `toml:"root_folder_id"`
	MakePublic   bool   `toml:"make_public"`
}

// StorageConfig holds the storage tier settings.
type StorageConfig struct {
	Drive DriveConfig `toml:"drive"`
}

// PipelineConfig holds orchestrator behavior switches.
type PipelineConfig struct {
	FallbackOnTransportError bool `toml:"fallback_on_transport_error"`
	CleanText                bool `toml:"clean_text"`
	RequestTimeoutSeconds    int  `toml:"request_timeout_seconds"`
}

// HistoryConfig holds the narration ledger settings.
type HistoryConfig struct {
	DatabasePath string `toml:"database_path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS           NATSConfig           `toml:"nats"`
	DirectProvider DirectProviderConfig `toml:"direct_provider"`
	JobProvider    JobProviderConfig    `toml:"job_provider"`
	Stitcher       StitcherConfig       `toml:"stitcher"`
	Storage        StorageConfig        `toml:"storage"`
	Pipeline       PipelineConfig       `toml:"pipeline"`
	History        HistoryConfig        `toml:"history"`
	Metrics        MetricsConfig        `toml:"metrics"`
	Paths          PathsConfig          `toml:"paths"`
}

// Secrets holds credentials that never live in the project file.
type Secrets struct {
	DirectAPIKey          string `envconfig:"DIRECT_API_KEY"`
	JobAPIKey             string `envconfig:"JOB_API_KEY"`
	GoogleCredentialsFile string `envconfig:"GOOGLE_CREDENTIALS_FILE"`
}

// Load loads the configuration for the narration-service and fills in defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadSecrets reads credentials from the environment, after loading a .env file when
// one exists.
func LoadSecrets() (*Secrets, error) {
	_ = godotenv.Load()

	var secrets Secrets

	err := envconfig.Process(SecretsPrefix, &secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &secrets, nil
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, DefaultNATSURL)
	setString(&c.NATS.SynthesisRequestSubject, DefaultSynthesisRequestSubject)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	setString(&c.NATS.TextObjectStoreBucket, c.NATS.AudioObjectStoreBucket)

	setString(&c.DirectProvider.Format, DefaultFormat)
	setInt(&c.DirectProvider.MaxChunkLength, DefaultDirectMaxChunkLength)
	setInt(&c.DirectProvider.ChunkDelayMS, DefaultDirectChunkDelayMS)
	setInt(&c.DirectProvider.TimeoutSeconds, DefaultTimeoutSeconds)

	setString(&c.JobProvider.Format, DefaultFormat)
	setInt(&c.JobProvider.MaxChunkLength, DefaultJobMaxChunkLength)
	setInt(&c.JobProvider.ChunkDelayMS, DefaultJobChunkDelayMS)
	setInt(&c.JobProvider.PollIntervalMS, DefaultJobPollIntervalMS)
	setInt(&c.JobProvider.MaxAttempts, DefaultJobMaxAttempts)
	setInt(&c.JobProvider.TimeoutSeconds, DefaultTimeoutSeconds)

	setString(&c.Stitcher.FFmpegPath, DefaultFFmpegPath)
	setInt(&c.Pipeline.RequestTimeoutSeconds, DefaultRequestTimeoutSeconds)
	setString(&c.History.DatabasePath, DefaultHistoryPath)
	setString(&c.Metrics.ListenAddress, DefaultMetricsListenAddress)
}

// ChunkDelay returns the direct provider's chunk spacing.
func (c DirectProviderConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}

// Timeout returns the direct provider's HTTP timeout.
func (c DirectProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChunkDelay returns the job provider's chunk spacing.
func (c JobProviderConfig) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}

// PollInterval returns the job provider's status poll spacing.
func (c JobProviderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Timeout returns the job provider's per-call HTTP timeout.
func (c JobProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the end-to-end budget for one request.
func (c PipelineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func setString(target *string, value string) {
	if *target == "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if *target <= 0 {
		*target = value
	}
}
