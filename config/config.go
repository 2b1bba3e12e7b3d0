package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | console
	} `yaml:"log"`
	Auth struct {
		JWTSecret    string `yaml:"jwt_secret"`
		Issuer       string `yaml:"issuer"`
		RequiredRole string `yaml:"required_role"`
	} `yaml:"auth"`
	Gemini struct {
		APIKey            string        `yaml:"api_key"`
		BaseURL           string        `yaml:"base_url"`
		TextModel         string        `yaml:"text_model"`
		ImageModel        string        `yaml:"image_model"`
		VideoModel        string        `yaml:"video_model"`
		Timeout           time.Duration `yaml:"timeout"`
		VideoTimeout      time.Duration `yaml:"video_timeout"`
		VideoPollInterval time.Duration `yaml:"video_poll_interval"`
	} `yaml:"gemini"`
	Pipeline struct {
		DefaultShotCount    int     `yaml:"default_shot_count"`
		MoodBoardSize       int     `yaml:"mood_board_size"`
		ContinuityThreshold int     `yaml:"continuity_threshold"`
		SpeakingRate        float64 `yaml:"speaking_rate"`
		AspectRatio         string  `yaml:"aspect_ratio"`
		RenderConcurrency   int     `yaml:"render_concurrency"`
		EventBuffer         int     `yaml:"event_buffer"`
	} `yaml:"pipeline"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
}

var AppConfig *Config

// InitConfig loads config/config.yaml (plus an optional .env) into AppConfig.
func InitConfig() error {
	_ = godotenv.Load()
	cfg, err := Load("config/config.yaml")
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads a YAML config file, applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a config with only defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Gemini.APIKey, "GEMINI_API_KEY")
	override(&c.Auth.JWTSecret, "JWT_SECRET")
	override(&c.MySQL.DSN, "MYSQL_DSN")
	override(&c.Redis.Addr, "REDIS_ADDR")
	override(&c.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	override(&c.MinIO.SecretKey, "MINIO_SECRET_KEY")
	override(&c.Log.Level, "LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Gemini.TextModel == "" {
		c.Gemini.TextModel = "gemini-2.5-flash"
	}
	if c.Gemini.ImageModel == "" {
		c.Gemini.ImageModel = "gemini-2.5-flash-image"
	}
	if c.Gemini.VideoModel == "" {
		c.Gemini.VideoModel = "veo-3.1-generate-preview"
	}
	if c.Gemini.Timeout == 0 {
		c.Gemini.Timeout = 120 * time.Second
	}
	if c.Gemini.VideoTimeout == 0 {
		c.Gemini.VideoTimeout = 10 * time.Minute
	}
	if c.Gemini.VideoPollInterval == 0 {
		c.Gemini.VideoPollInterval = 5 * time.Second
	}
	if c.Pipeline.DefaultShotCount <= 0 {
		c.Pipeline.DefaultShotCount = 3
	}
	if c.Pipeline.MoodBoardSize <= 0 {
		c.Pipeline.MoodBoardSize = 3
	}
	if c.Pipeline.ContinuityThreshold <= 0 {
		c.Pipeline.ContinuityThreshold = 7
	}
	if c.Pipeline.SpeakingRate <= 0 {
		c.Pipeline.SpeakingRate = 2.5
	}
	if c.Pipeline.AspectRatio == "" {
		c.Pipeline.AspectRatio = "16:9"
	}
	if c.Pipeline.RenderConcurrency <= 0 {
		c.Pipeline.RenderConcurrency = 3
	}
	if c.Pipeline.EventBuffer <= 0 {
		c.Pipeline.EventBuffer = 64
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = "prompt-to-video"
	}
}
