package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/backend"
)

// Config is the terminal configuration, config.yaml plus APP_* overrides.
type Config struct {
	App struct {
		Env        string
		TerminalID string `mapstructure:"terminal_id"`
		Operator   string
		NodeID     int64 `mapstructure:"node_id"`
	} `mapstructure:"app"`

	Server struct {
		BaseURL   string `mapstructure:"base_url"`
		IPAddress string `mapstructure:"ip_address"`
		Port      string
	} `mapstructure:"server"`

	Auth struct {
		Token string
	} `mapstructure:"auth"`

	Scan struct {
		Prefix     string
		Suffix     string
		DebounceMS int `mapstructure:"debounce_ms"`
	} `mapstructure:"scan"`

	Session struct {
		QueueSize    int           `mapstructure:"queue_size"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		RejudgeLimit int           `mapstructure:"rejudge_limit"`
	} `mapstructure:"session"`

	Backend struct {
		Timeout   time.Duration
		RateLimit float64 `mapstructure:"rate_limit"`
		Burst     int
		Paths     struct {
			LocationTree string `mapstructure:"location_tree"`
			LocationBins string `mapstructure:"location_bins"`
			Dict         string
		}
	} `mapstructure:"backend"`

	// Endpoints overrides per order kind, e.g. endpoints.material_in.confirm.
	Endpoints map[string]map[string]string `mapstructure:"endpoints"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
	} `mapstructure:"telegram"`

	Export struct {
		Dir string
	} `mapstructure:"export"`
}

// defaults keep every key known to viper so AutomaticEnv can override it.
func defaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.terminal_id", "")
	v.SetDefault("app.operator", "")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.ip_address", "")
	v.SetDefault("server.port", "")
	v.SetDefault("auth.token", "")
	v.SetDefault("scan.prefix", "")
	v.SetDefault("scan.suffix", "")
	v.SetDefault("scan.debounce_ms", 300)
	v.SetDefault("session.queue_size", 16)
	v.SetDefault("session.write_timeout", "15s")
	v.SetDefault("session.rejudge_limit", 1)
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("backend.rate_limit", 0)
	v.SetDefault("backend.burst", 1)
	v.SetDefault("backend.paths.location_tree", "")
	v.SetDefault("backend.paths.location_bins", "")
	v.SetDefault("backend.paths.dict", "")
	v.SetDefault("http.addr", ":8081")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("export.dir", "exports")
}

// Load reads the YAML file at path. Values can be overridden by APP_* variables
// (APP_AUTH_TOKEN, APP_POSTGRES_DSN...), which are also read from a .env file
// next to the working directory when present.
func Load(path string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := gotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	// env wins over the file: auth.token <- APP_AUTH_TOKEN
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.App.TerminalID) == "" {
		return errors.New("app.terminal_id is required")
	}
	for kind := range c.Endpoints {
		if !order.Kind(kind).Valid() {
			return fmt.Errorf("endpoints: unknown order kind %q", kind)
		}
	}
	if c.Session.QueueSize < 1 {
		return fmt.Errorf("session.queue_size must be positive, got %d", c.Session.QueueSize)
	}
	if c.Session.RejudgeLimit < 0 {
		return fmt.Errorf("session.rejudge_limit must not be negative, got %d", c.Session.RejudgeLimit)
	}
	return nil
}

// BaseURL is server.base_url, or ip_address and port when no base URL is set.
func (c Config) BaseURL() (string, error) {
	return backend.BaseURL(c.Server.BaseURL, c.Server.IPAddress, c.Server.Port)
}

// Debounce is the double-trigger window of the reader.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Scan.DebounceMS) * time.Millisecond
}

// EndpointsFor returns the backend paths for kind with overrides applied.
func (c Config) EndpointsFor(kind order.Kind) backend.Endpoints {
	return backend.DefaultEndpoints(kind).With(c.Endpoints[string(kind)])
}

func (c Config) Paths() backend.Paths {
	return backend.Paths{
		LocationTree: c.Backend.Paths.LocationTree,
		LocationBins: c.Backend.Paths.LocationBins,
		Dict:         c.Backend.Paths.Dict,
	}
}
