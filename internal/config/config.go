// Package config loads runtime configuration from defaults, an
// optional YAML file, and TRAFFIC_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Evidence EvidenceConfig `mapstructure:"evidence"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Challan  ChallanConfig  `mapstructure:"challan"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	// DSN empty means the in-memory store.
	DSN string `mapstructure:"dsn"`
}

type EvidenceConfig struct {
	Dir string `mapstructure:"dir"`
}

type AuthConfig struct {
	// JWTSecret empty disables dashboard auth.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type CameraConfig struct {
	ID  string `mapstructure:"id"`
	GPS string `mapstructure:"gps"`
}

type PipelineConfig struct {
	FrameStride        int     `mapstructure:"frame_stride"`
	EvictionGap        int     `mapstructure:"eviction_gap"`
	PlateMinConfidence float64 `mapstructure:"plate_min_confidence"`
	PlateMinCropPx     int     `mapstructure:"plate_min_crop_px"`
	EvidencePaddingPx  int     `mapstructure:"evidence_padding_px"`
	MaxEvidenceWidth   int     `mapstructure:"max_evidence_width"`
	JPEGQuality        int     `mapstructure:"jpeg_quality"`
	ObservationLog     string  `mapstructure:"observation_log"`
}

type IngestConfig struct {
	BackendURL      string        `mapstructure:"backend_url"`
	QueueSize       int           `mapstructure:"queue_size"`
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ChallanConfig struct {
	// WebhookURL empty means the noop trigger.
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Load reads configuration. path may be empty; the file is optional.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.dsn", "")
	v.SetDefault("evidence.dir", "uploads")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("camera.id", "local_cam_01")
	v.SetDefault("camera.gps", "12.9716,77.5946")
	v.SetDefault("pipeline.frame_stride", 3)
	v.SetDefault("pipeline.eviction_gap", 30)
	v.SetDefault("pipeline.plate_min_confidence", 0.4)
	v.SetDefault("pipeline.plate_min_crop_px", 16)
	v.SetDefault("pipeline.evidence_padding_px", 20)
	v.SetDefault("pipeline.max_evidence_width", 1280)
	v.SetDefault("pipeline.jpeg_quality", 85)
	v.SetDefault("pipeline.observation_log", "violations_log.csv")
	v.SetDefault("ingest.backend_url", "http://127.0.0.1:8000/api/v1/violations")
	v.SetDefault("ingest.queue_size", 64)
	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.max_attempts", 4)
	v.SetDefault("ingest.backoff_base", 200*time.Millisecond)
	v.SetDefault("ingest.backoff_max", 5*time.Second)
	v.SetDefault("ingest.request_timeout", 10*time.Second)
	v.SetDefault("ingest.shutdown_timeout", 5*time.Second)
	v.SetDefault("challan.webhook_url", "")
	v.SetDefault("challan.timeout", 5*time.Second)

	v.SetEnvPrefix("TRAFFIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
