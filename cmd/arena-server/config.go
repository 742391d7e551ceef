package main

import (
	"fmt"
	"os"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/judge/sandbox"
	"arenaoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	VerdictTopic string        `yaml:"verdictTopic"`
}

// SubmitConfig holds submission intake settings.
type SubmitConfig struct {
	SourceBucket    string        `yaml:"sourceBucket"`
	SourceKeyPrefix string        `yaml:"sourceKeyPrefix"`
	Languages       []string      `yaml:"languages"`
	MaxCodeBytes    int           `yaml:"maxCodeBytes"`
	DBTimeout       time.Duration `yaml:"dbTimeout"`
	StorageTimeout  time.Duration `yaml:"storageTimeout"`
}

// JudgeConfig holds judge pipeline settings.
type JudgeConfig struct {
	TestCaseBucket string                   `yaml:"testCaseBucket"`
	QueueSize      int                      `yaml:"queueSize"`
	Workers        int                      `yaml:"workers"`
	MaxAttempts    int                      `yaml:"maxAttempts"`
	RetryBase      time.Duration            `yaml:"retryBaseDelay"`
	CaseTimeout    time.Duration            `yaml:"caseTimeout"`
	Runner         sandbox.HTTPRunnerConfig `yaml:"runner"`
}

// AppConfig holds arena-server config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Auth     AuthConfig          `yaml:"auth"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Submit   SubmitConfig        `yaml:"submit"`
	Judge    JudgeConfig         `yaml:"judge"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Judge.TestCaseBucket == "" {
		cfg.Judge.TestCaseBucket = cfg.MinIO.Bucket
	}
	if cfg.Kafka.VerdictTopic == "" {
		cfg.Kafka.VerdictTopic = "contest.verdict.final"
	}
	if len(cfg.Submit.Languages) == 0 {
		cfg.Submit.Languages = []string{"c", "cpp", "go", "java", "python"}
	}
	return &cfg, nil
}

func (c KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      c.Brokers,
		ClientID:     c.ClientID,
		BatchSize:    c.BatchSize,
		BatchTimeout: c.BatchTimeout,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}
