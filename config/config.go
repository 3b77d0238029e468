// vidcutapi/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// PlatformCredential seeds the credential store at startup.
type PlatformCredential struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Config struct {
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	DownloadsDir string `mapstructure:"DOWNLOADS_DIR"`
	CutsDir      string `mapstructure:"CUTS_DIR"`
	TempDir      string `mapstructure:"TEMP_DIR"`
	CookiesDir   string `mapstructure:"COOKIES_DIR"`

	// Command templates are split with shlex into an argv prefix; no shell is involved.
	DownloadCmd      string `mapstructure:"DOWNLOAD_CMD"`
	CutCmd           string `mapstructure:"CUT_CMD"`
	LoginCmd         string `mapstructure:"LOGIN_CMD"`
	CookieExtractCmd string `mapstructure:"COOKIE_EXTRACT_CMD"`
	BrowserBin       string `mapstructure:"BROWSER_BIN"`

	ProcessTimeout     time.Duration `mapstructure:"PROCESS_TIMEOUT"`
	LoginTimeout       time.Duration `mapstructure:"LOGIN_TIMEOUT"`
	OutputCaptureLimit int64         `mapstructure:"OUTPUT_CAPTURE_LIMIT"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	RefreshAt      string        `mapstructure:"REFRESH_AT"`
	RefreshPoll    time.Duration `mapstructure:"REFRESH_POLL"`
	RefreshOnStart bool          `mapstructure:"REFRESH_ON_START"`

	// OutputLocalLifetime enables periodic removal of old download/cut files when > 0.
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`

	DBType     string `mapstructure:"DB_TYPE"`
	DBName     string `mapstructure:"DB_NAME"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     int    `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	PlatformCredentials map[string]PlatformCredential `mapstructure:"PLATFORM_CREDENTIALS"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")

	vp.SetDefault("DOWNLOADS_DIR", "./downloads")
	vp.SetDefault("CUTS_DIR", "./cuts")
	vp.SetDefault("TEMP_DIR", "./temp")
	vp.SetDefault("COOKIES_DIR", "")

	vp.SetDefault("DOWNLOAD_CMD", "python download.py")
	vp.SetDefault("CUT_CMD", "python cut.py")
	vp.SetDefault("LOGIN_CMD", "python login.py")
	vp.SetDefault("COOKIE_EXTRACT_CMD", "yt-dlp")
	vp.SetDefault("BROWSER_BIN", "google-chrome")

	vp.SetDefault("PROCESS_TIMEOUT", "1h")
	vp.SetDefault("LOGIN_TIMEOUT", "2m")
	vp.SetDefault("OUTPUT_CAPTURE_LIMIT", "4MB")

	// Resource throttling is disabled unless configured.
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0B")
	vp.SetDefault("THROTTLE_FREEDISK", "0B")

	vp.SetDefault("REFRESH_AT", "03:00")
	vp.SetDefault("REFRESH_POLL", "60s")
	vp.SetDefault("REFRESH_ON_START", true)
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "0s")

	vp.SetDefault("DB_TYPE", "sqlite")
	vp.SetDefault("DB_NAME", "vidcut.db")
	vp.SetDefault("DB_HOST", "localhost")
	vp.SetDefault("DB_PORT", 5432)
	vp.SetDefault("DB_USER", "vidcut")
	vp.SetDefault("DB_PASSWORD", "")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "console")

	// Load from config file
	vp.SetConfigName("vidcut_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/vidcut/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("VIDCUT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if cfg.CookiesDir == "" {
		cfg.CookiesDir = filepath.Join(cfg.TempDir, "cookies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.ProcessTimeout <= 0 {
		return fmt.Errorf("PROCESS_TIMEOUT must be positive, got %s", c.ProcessTimeout)
	}
	if c.RefreshPoll <= 0 {
		return fmt.Errorf("REFRESH_POLL must be positive, got %s", c.RefreshPoll)
	}
	switch c.DBType {
	case "sqlite", "pgsql":
	default:
		return fmt.Errorf("DB_TYPE must be sqlite or pgsql, got %q", c.DBType)
	}
	return nil
}

// EnsureDirectories creates the working directories used by jobs and credentials.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DownloadsDir, c.CutsDir, c.TempDir, c.CookiesDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
