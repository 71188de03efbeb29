package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/rembg"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, rembg.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, capture.DefaultQuality, cfg.Quality)
	assert.Equal(t, "input_image", cfg.FieldName)
	assert.Equal(t, "image.jpeg", cfg.UploadFileName)
	assert.Equal(t, 60*time.Second, cfg.UploadTimeout)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "photobooth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
endpoint: "http://127.0.0.1:7000/bg-changer"
upload_timeout: 15s
quality: 80
max_edge: 1280
log:
  level: debug
  file: /tmp/photobooth.log
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "http://127.0.0.1:7000/bg-changer", cfg.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 80, cfg.Quality)
	assert.Equal(t, 1280, cfg.MaxEdge)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 文件里没写的字段保留默认值
	assert.Equal(t, "@every 1m", cfg.SweepSpec)
	assert.Equal(t, "auto", cfg.Log.Format)
	require.NoError(t, cfg.Validate())

	opts := cfg.Log.Options()
	assert.Equal(t, "/tmp/photobooth.log", opts.File)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("quality: [1, 2"), 0o644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name: "覆盖字符串和数字",
			env: map[string]string{
				"PHOTOBOOTH_ENDPOINT":           "https://rembg.internal/bg",
				"PHOTOBOOTH_QUALITY":            "75",
				"PHOTOBOOTH_LOG_LEVEL":          "warn",
				"PHOTOBOOTH_MIRROR_USER_FACING": "true",
			},
			check: func(t *testing.T, cfg Config) {
				assert.True(t, cfg.MirrorUserFacing)
				assert.Equal(t, "https://rembg.internal/bg", cfg.Endpoint)
				assert.Equal(t, 75, cfg.Quality)
				assert.Equal(t, "warn", cfg.Log.Level)
			},
		},
		{
			name: "覆盖时长",
			env: map[string]string{
				"PHOTOBOOTH_UPLOAD_TIMEOUT": "2m",
				"PHOTOBOOTH_SESSION_TTL":    "30s",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 2*time.Minute, cfg.UploadTimeout)
				assert.Equal(t, 30*time.Second, cfg.SessionTTL)
			},
		},
		{
			name:    "数字格式错误",
			env:     map[string]string{"PHOTOBOOTH_QR_SIZE": "big"},
			wantErr: true,
		},
		{
			name:    "布尔格式错误",
			env:     map[string]string{"PHOTOBOOTH_MIRROR_USER_FACING": "sometimes"},
			wantErr: true,
		},
		{
			name:    "时长格式错误",
			env:     map[string]string{"PHOTOBOOTH_SESSION_TTL": "forever"},
			wantErr: true,
		},
		{
			name: "无前缀的变量被忽略",
			env:  map[string]string{"ENDPOINT": "http://ignored"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, rembg.DefaultEndpoint, cfg.Endpoint)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Defaults()
			err := cfg.ApplyEnv(func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{name: "地址为空", mutate: func(cfg *Config) { cfg.Addr = "" }, field: "Addr"},
		{name: "服务地址不是 URL", mutate: func(cfg *Config) { cfg.Endpoint = "not a url" }, field: "Endpoint"},
		{name: "质量越界", mutate: func(cfg *Config) { cfg.Quality = 101 }, field: "Quality"},
		{name: "超时为零", mutate: func(cfg *Config) { cfg.UploadTimeout = 0 }, field: "UploadTimeout"},
		{name: "日志级别未知", mutate: func(cfg *Config) { cfg.Log.Level = "verbose" }, field: "Level"},
		{name: "二维码过小", mutate: func(cfg *Config) { cfg.QRSize = 10 }, field: "QRSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
