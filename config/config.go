// Package config 加载配置：默认值、YAML 文件、.env 和 PHOTOBOOTH_* 环境变量，依次覆盖
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/present"
	"github.com/chaos-io/photobooth/rembg"
	"github.com/chaos-io/photobooth/util"
)

const EnvPrefix = "PHOTOBOOTH_"

type Config struct {
	Addr string `yaml:"addr" validate:"required"`

	// 远程背景替换服务
	Endpoint       string        `yaml:"endpoint" validate:"required,url"`
	UploadTimeout  time.Duration `yaml:"upload_timeout" validate:"gt=0"`
	RatePerMinute  int           `yaml:"rate_per_minute" validate:"gte=0"`
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
	FieldName      string        `yaml:"field_name" validate:"required"`
	UploadFileName string        `yaml:"upload_file_name" validate:"required"`

	// 编码
	Quality          int  `yaml:"quality" validate:"gte=1,lte=100"`
	MaxEdge          int  `yaml:"max_edge" validate:"gte=0"`
	MirrorUserFacing bool `yaml:"mirror_user_facing"`

	// 会话
	SessionTTL time.Duration `yaml:"session_ttl" validate:"gt=0"`
	SweepSpec  string        `yaml:"sweep_spec" validate:"required"`

	// 结果展示
	DownloadName string `yaml:"download_name" validate:"required"`
	QRSize       int    `yaml:"qr_size" validate:"gte=64,lte=2048"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

func Defaults() Config {
	return Config{
		Addr:           ":8080",
		Endpoint:       rembg.DefaultEndpoint,
		UploadTimeout:  60 * time.Second,
		RatePerMinute:  30,
		RateBurst:      5,
		FieldName:      capture.FieldInputImage,
		UploadFileName: capture.UploadFileName,
		Quality:        capture.DefaultQuality,
		SessionTTL:     15 * time.Minute,
		SweepSpec:      "@every 1m",
		DownloadName:   present.DefaultDownloadName,
		QRSize:         present.DefaultQRSize,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load 读取配置。path 为空时只用默认值和环境变量
func Load(path string) (Config, error) {
	// .env 不存在不算错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv 用 PHOTOBOOTH_ 前缀的环境变量覆盖配置，例如 PHOTOBOOTH_ENDPOINT
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("ADDR", &c.Addr)
	str("ENDPOINT", &c.Endpoint)
	str("FIELD_NAME", &c.FieldName)
	str("UPLOAD_FILE_NAME", &c.UploadFileName)
	str("SWEEP_SPEC", &c.SweepSpec)
	str("DOWNLOAD_NAME", &c.DownloadName)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(
		dur("UPLOAD_TIMEOUT", &c.UploadTimeout),
		dur("SESSION_TTL", &c.SessionTTL),
		num("RATE_PER_MINUTE", &c.RatePerMinute),
		num("RATE_BURST", &c.RateBurst),
		num("QUALITY", &c.Quality),
		num("MAX_EDGE", &c.MaxEdge),
		num("QR_SIZE", &c.QRSize),
		flag("MIRROR_USER_FACING", &c.MirrorUserFacing),
	)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (l LogConfig) Options() util.LogOptions {
	return util.LogOptions{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}
