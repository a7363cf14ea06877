package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/hsforensics/api/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	S3        S3Config
	SAM       SAMConfig
	Queue     QueueConfig
	Segment   SegmentConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type StoreConfig struct {
	Backend string // "fs" or "s3"
	Root    string // fs backend root directory
}

type S3Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Endpoint        string
}

type SAMConfig struct {
	ServiceURL    string
	Timeout       int // seconds
	Model         string
	DefaultPreset string
}

type QueueConfig struct {
	Workers    int
	MaxDepth   int
	JobTimeout int // seconds, per model invocation
	Retention  int // hours, terminal job records
}

type SegmentConfig struct {
	ConfidenceThreshold float64
	MaxMasks            int
	MaxDimension        int
	MaxPixels           int // builtin segmenter capacity bound
	Presets             map[string]model.PresetParams
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	UploadPerHour int
	JobsPerHour   int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCOUNT_ID")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("store.backend", "STORE_BACKEND")
	_ = viper.BindEnv("store.root", "STORE_ROOT")
	_ = viper.BindEnv("s3.account_id", "S3_ACCOUNT_ID")
	_ = viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("s3.bucket_name", "S3_BUCKET_NAME")
	_ = viper.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("sam.service_url", "SAM_SERVICE_URL")
	_ = viper.BindEnv("sam.timeout", "SAM_SERVICE_TIMEOUT")
	_ = viper.BindEnv("sam.model", "SAM_MODEL")
	_ = viper.BindEnv("sam.default_preset", "SAM_DEFAULT_PRESET")
	_ = viper.BindEnv("queue.workers", "QUEUE_WORKERS")
	_ = viper.BindEnv("queue.max_depth", "QUEUE_MAX_DEPTH")
	_ = viper.BindEnv("queue.job_timeout", "QUEUE_JOB_TIMEOUT")
	_ = viper.BindEnv("queue.retention", "QUEUE_RETENTION")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("store.backend", "fs")
	viper.SetDefault("store.root", "./data")
	viper.SetDefault("sam.timeout", 300)
	viper.SetDefault("sam.model", "builtin")
	viper.SetDefault("sam.default_preset", "default")
	viper.SetDefault("queue.workers", 2)
	viper.SetDefault("queue.max_depth", 64)
	viper.SetDefault("queue.job_timeout", 300)
	viper.SetDefault("queue.retention", 24)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.upload_per_hour", 200)
	viper.SetDefault("ratelimit.jobs_per_hour", 100)
	viper.SetDefault("segment.confidence_threshold", 0.5)
	viper.SetDefault("segment.max_masks", 32)
	viper.SetDefault("segment.max_dimension", 2048)
	viper.SetDefault("segment.max_pixels", 16_777_216) // 4096x4096

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	presets := map[string]model.PresetParams{}
	if err := viper.UnmarshalKey("segment.presets", &presets); err != nil {
		return nil, err
	}
	if len(presets) == 0 {
		presets = defaultPresets()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Store: StoreConfig{
			Backend: viper.GetString("store.backend"),
			Root:    viper.GetString("store.root"),
		},
		S3: S3Config{
			AccountID:       viper.GetString("s3.account_id"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			BucketName:      viper.GetString("s3.bucket_name"),
			Endpoint:        viper.GetString("s3.endpoint"),
		},
		SAM: SAMConfig{
			ServiceURL:    viper.GetString("sam.service_url"),
			Timeout:       viper.GetInt("sam.timeout"),
			Model:         viper.GetString("sam.model"),
			DefaultPreset: viper.GetString("sam.default_preset"),
		},
		Queue: QueueConfig{
			Workers:    viper.GetInt("queue.workers"),
			MaxDepth:   viper.GetInt("queue.max_depth"),
			JobTimeout: viper.GetInt("queue.job_timeout"),
			Retention:  viper.GetInt("queue.retention"),
		},
		Segment: SegmentConfig{
			ConfidenceThreshold: viper.GetFloat64("segment.confidence_threshold"),
			MaxMasks:            viper.GetInt("segment.max_masks"),
			MaxDimension:        viper.GetInt("segment.max_dimension"),
			MaxPixels:           viper.GetInt("segment.max_pixels"),
			Presets:             presets,
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
			JobsPerHour:   viper.GetInt("ratelimit.jobs_per_hour"),
		},
	}

	if cfg.Queue.Workers < 1 {
		cfg.Queue.Workers = 1
	}
	if cfg.Queue.MaxDepth < 1 {
		cfg.Queue.MaxDepth = 1
	}

	return cfg, nil
}

// defaultPresets mirrors the built-in preset table shipped with the model
// service so the catalog endpoint is useful without a config file.
func defaultPresets() map[string]model.PresetParams {
	return map[string]model.PresetParams{
		"default": {
			ConfidenceThreshold: 0.5,
			MaxMasks:            32,
			MaxDimension:        2048,
			PointsPerSide:       32,
		},
		"fine": {
			ConfidenceThreshold: 0.8,
			MaxMasks:            64,
			MaxDimension:        4096,
			PointsPerSide:       64,
		},
		"fast": {
			ConfidenceThreshold: 0.5,
			MaxMasks:            16,
			MaxDimension:        1024,
			PointsPerSide:       16,
		},
	}
}
