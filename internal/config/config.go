// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Durable struct {
	TableName       string `mapstructure:"table_name"`
	StatusIndexName string `mapstructure:"status_index_name"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
}

type Blob struct {
	BucketName           string        `mapstructure:"bucket_name"`
	InputKeyPrefix       string        `mapstructure:"input_key_prefix"`
	OutputKeyPrefix       string        `mapstructure:"output_key_prefix"`
	Region               string        `mapstructure:"region"`
	Endpoint             string        `mapstructure:"endpoint"`
	UploadURLExpiry      time.Duration `mapstructure:"upload_url_expiry"`
	DownloadURLExpiry    time.Duration `mapstructure:"download_url_expiry"`
}

type ParamStore struct {
	BackendStatusParameter string        `mapstructure:"backend_status_parameter"`
	Region                 string        `mapstructure:"region"`
	Endpoint               string        `mapstructure:"endpoint"`
	RefreshTimeout         time.Duration `mapstructure:"refresh_timeout"`
}

type TokenService struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Priority struct {
	WeightRole           float64           `mapstructure:"weight_role"`
	WeightTimeout        float64           `mapstructure:"weight_timeout"`
	WeightAge            float64           `mapstructure:"weight_age"`
	WeightFairShare      float64           `mapstructure:"weight_fair_share"`
	RoleMaxTimeout       map[string]time.Duration `mapstructure:"role_max_timeout"`
	DefaultMaxTimeout    time.Duration     `mapstructure:"default_max_timeout"`
	MaxWaitingTimePerJob time.Duration     `mapstructure:"max_waiting_time_per_job"`
	MaxJobsToConsider    int               `mapstructure:"max_jobs_to_consider"`
	BurstHalfLife        time.Duration     `mapstructure:"burst_half_life"`
	FairSharePenalty     float64           `mapstructure:"fair_share_penalty"`
	BurstEvictionHorizon float64           `mapstructure:"burst_eviction_horizon"`
	BurstEvictionCron    string            `mapstructure:"burst_eviction_cron"`
}

type Quotas struct {
	RoleByteCaps        map[string]int64 `mapstructure:"role_byte_caps"`
	DefaultByteCap      int64            `mapstructure:"default_byte_cap"`
	RoleConcurrencyCaps map[string]int   `mapstructure:"role_concurrency_caps"`
	QueueCapacityBytes  int64            `mapstructure:"queue_capacity_bytes"`
}

type Submission struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxMessageBytes int64        `mapstructure:"max_message_bytes"`
}

type Execution struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	WorkerPoolSize  int           `mapstructure:"worker_pool_size"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

type EventBus struct {
	Enabled bool   `mapstructure:"enabled"`
	NATSURL string `mapstructure:"nats_url"`
}

type Audit struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	Endpoint              string            `mapstructure:"endpoint"`
	Environment           string            `mapstructure:"environment"`
	SamplingStrategy      string            `mapstructure:"sampling_strategy"`
	SamplingRate          float64           `mapstructure:"sampling_rate"`
	BatchTimeout          time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatchSize    int               `mapstructure:"max_export_batch_size"`
	Headers               map[string]string `mapstructure:"headers"`
	Insecure              bool              `mapstructure:"insecure"`
	PropagationFormat     string            `mapstructure:"propagation_format"`
	AttributeAllowlist    []string          `mapstructure:"attribute_allowlist"`
	RedactSensitive       bool              `mapstructure:"redact_sensitive"`
	EnableMetricExemplars bool              `mapstructure:"enable_metric_exemplars"`
}

// Tracing is a backwards-compatible alias
type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Observability is a backwards-compatible alias
type Observability = ObservabilityConfig

type Config struct {
	Durable       Durable       `mapstructure:"durable"`
	Blob          Blob          `mapstructure:"blob"`
	ParamStore    ParamStore    `mapstructure:"param_store"`
	TokenService  TokenService  `mapstructure:"token_service"`
	Priority      Priority      `mapstructure:"priority"`
	Quotas        Quotas        `mapstructure:"quotas"`
	Submission    Submission    `mapstructure:"submission"`
	Execution     Execution     `mapstructure:"execution"`
	EventBus      EventBus      `mapstructure:"event_bus"`
	Audit         Audit         `mapstructure:"audit"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Durable: Durable{
			TableName:       "scheduler-jobs",
			StatusIndexName: "status-index",
			Region:          "us-east-1",
		},
		Blob: Blob{
			BucketName:        "scheduler-job-blobs",
			InputKeyPrefix:    "inputs/",
			OutputKeyPrefix:   "outputs/",
			Region:            "us-east-1",
			UploadURLExpiry:   3 * time.Hour,
			DownloadURLExpiry: 3 * time.Minute,
		},
		ParamStore: ParamStore{
			BackendStatusParameter: "/scheduler/backend-status",
			Region:                 "us-east-1",
			RefreshTimeout:         5 * time.Second,
		},
		TokenService: TokenService{
			BaseURL: "http://localhost:8081",
			Timeout: 3 * time.Second,
		},
		Priority: Priority{
			WeightRole:    0,
			WeightTimeout: 1000,
			WeightAge:     2000,
			WeightFairShare: 1000,
			RoleMaxTimeout: map[string]time.Duration{
				"admin":     60 * time.Minute,
				"developer": 10 * time.Minute,
			},
			DefaultMaxTimeout:    5 * time.Minute,
			MaxWaitingTimePerJob: 30 * time.Minute,
			MaxJobsToConsider:    10,
			BurstHalfLife:        1 * time.Minute,
			FairSharePenalty:     2.0,
			BurstEvictionHorizon: 10,
			BurstEvictionCron:    "@every 5m",
		},
		Quotas: Quotas{
			RoleByteCaps: map[string]int64{
				"admin":     10 << 20,
				"developer": 10 << 20,
				"guest":     1 << 20,
			},
			DefaultByteCap: 1 << 20,
			RoleConcurrencyCaps: map[string]int{
				"admin":     1000,
				"developer": 10,
				"guest":     5,
			},
			QueueCapacityBytes: 100 << 20,
		},
		Submission: Submission{
			ListenAddr:      ":8090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    5,
			RateLimitBurst:  10,
			MaxMessageBytes: 10 << 20,
		},
		Execution: Execution{
			ListenAddr:      ":8091",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    50,
			RateLimitBurst:  100,
			WorkerPoolSize:  10,
			MaxMessageBytes: 10 << 20,
		},
		EventBus: EventBus{Enabled: false, NATSURL: "nats://localhost:4222"},
		Audit: Audit{
			Path:       "./logs/audit.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			Compress:   true,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     Tracing{Enabled: false},
		},
	}
}

// Load reads configuration from YAML file and env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()

	v.SetDefault("durable.table_name", def.Durable.TableName)
	v.SetDefault("durable.status_index_name", def.Durable.StatusIndexName)
	v.SetDefault("durable.region", def.Durable.Region)
	v.SetDefault("durable.endpoint", def.Durable.Endpoint)

	v.SetDefault("blob.bucket_name", def.Blob.BucketName)
	v.SetDefault("blob.input_key_prefix", def.Blob.InputKeyPrefix)
	v.SetDefault("blob.output_key_prefix", def.Blob.OutputKeyPrefix)
	v.SetDefault("blob.region", def.Blob.Region)
	v.SetDefault("blob.endpoint", def.Blob.Endpoint)
	v.SetDefault("blob.upload_url_expiry", def.Blob.UploadURLExpiry)
	v.SetDefault("blob.download_url_expiry", def.Blob.DownloadURLExpiry)

	v.SetDefault("param_store.backend_status_parameter", def.ParamStore.BackendStatusParameter)
	v.SetDefault("param_store.region", def.ParamStore.Region)
	v.SetDefault("param_store.endpoint", def.ParamStore.Endpoint)
	v.SetDefault("param_store.refresh_timeout", def.ParamStore.RefreshTimeout)

	v.SetDefault("token_service.base_url", def.TokenService.BaseURL)
	v.SetDefault("token_service.timeout", def.TokenService.Timeout)

	v.SetDefault("priority.weight_role", def.Priority.WeightRole)
	v.SetDefault("priority.weight_timeout", def.Priority.WeightTimeout)
	v.SetDefault("priority.weight_age", def.Priority.WeightAge)
	v.SetDefault("priority.weight_fair_share", def.Priority.WeightFairShare)
	v.SetDefault("priority.role_max_timeout", def.Priority.RoleMaxTimeout)
	v.SetDefault("priority.default_max_timeout", def.Priority.DefaultMaxTimeout)
	v.SetDefault("priority.max_waiting_time_per_job", def.Priority.MaxWaitingTimePerJob)
	v.SetDefault("priority.max_jobs_to_consider", def.Priority.MaxJobsToConsider)
	v.SetDefault("priority.burst_half_life", def.Priority.BurstHalfLife)
	v.SetDefault("priority.fair_share_penalty", def.Priority.FairSharePenalty)
	v.SetDefault("priority.burst_eviction_horizon", def.Priority.BurstEvictionHorizon)
	v.SetDefault("priority.burst_eviction_cron", def.Priority.BurstEvictionCron)

	v.SetDefault("quotas.role_byte_caps", def.Quotas.RoleByteCaps)
	v.SetDefault("quotas.default_byte_cap", def.Quotas.DefaultByteCap)
	v.SetDefault("quotas.role_concurrency_caps", def.Quotas.RoleConcurrencyCaps)
	v.SetDefault("quotas.queue_capacity_bytes", def.Quotas.QueueCapacityBytes)

	v.SetDefault("submission.listen_addr", def.Submission.ListenAddr)
	v.SetDefault("submission.read_timeout", def.Submission.ReadTimeout)
	v.SetDefault("submission.write_timeout", def.Submission.WriteTimeout)
	v.SetDefault("submission.allowed_origins", def.Submission.AllowedOrigins)
	v.SetDefault("submission.rate_limit_rps", def.Submission.RateLimitRPS)
	v.SetDefault("submission.rate_limit_burst", def.Submission.RateLimitBurst)
	v.SetDefault("submission.max_message_bytes", def.Submission.MaxMessageBytes)

	v.SetDefault("execution.listen_addr", def.Execution.ListenAddr)
	v.SetDefault("execution.read_timeout", def.Execution.ReadTimeout)
	v.SetDefault("execution.write_timeout", def.Execution.WriteTimeout)
	v.SetDefault("execution.allowed_origins", def.Execution.AllowedOrigins)
	v.SetDefault("execution.rate_limit_rps", def.Execution.RateLimitRPS)
	v.SetDefault("execution.rate_limit_burst", def.Execution.RateLimitBurst)
	v.SetDefault("execution.worker_pool_size", def.Execution.WorkerPoolSize)
	v.SetDefault("execution.max_message_bytes", def.Execution.MaxMessageBytes)

	v.SetDefault("event_bus.enabled", def.EventBus.Enabled)
	v.SetDefault("event_bus.nats_url", def.EventBus.NATSURL)

	v.SetDefault("audit.path", def.Audit.Path)
	v.SetDefault("audit.max_size_mb", def.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", def.Audit.MaxBackups)
	v.SetDefault("audit.compress", def.Audit.Compress)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)

	// Optional file read
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Durable.TableName == "" {
		return fmt.Errorf("durable.table_name must be set")
	}
	if cfg.Blob.BucketName == "" {
		return fmt.Errorf("blob.bucket_name must be set")
	}
	if cfg.ParamStore.BackendStatusParameter == "" {
		return fmt.Errorf("param_store.backend_status_parameter must be set")
	}
	if cfg.TokenService.BaseURL == "" {
		return fmt.Errorf("token_service.base_url must be set")
	}
	if cfg.Priority.MaxJobsToConsider < 1 {
		return fmt.Errorf("priority.max_jobs_to_consider must be >= 1")
	}
	if cfg.Priority.BurstHalfLife <= 0 {
		return fmt.Errorf("priority.burst_half_life must be > 0")
	}
	if cfg.Quotas.QueueCapacityBytes <= 0 {
		return fmt.Errorf("quotas.queue_capacity_bytes must be > 0")
	}
	if cfg.Submission.RateLimitRPS <= 0 {
		return fmt.Errorf("submission.rate_limit_rps must be > 0")
	}
	if cfg.Execution.WorkerPoolSize < 1 {
		return fmt.Errorf("execution.worker_pool_size must be >= 1")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
