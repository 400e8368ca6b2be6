package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr      string `mapstructure:"addr"`
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"` // console or json
	} `mapstructure:"server"`

	Runner struct {
		MaxParallel int    `mapstructure:"max_parallel"`
		WorkDir     string `mapstructure:"work_dir"`
		LogsDir     string `mapstructure:"logs_dir"`
		AgentURL    string `mapstructure:"agent_url"` // empty = run steps locally
		AgentID     string `mapstructure:"agent_id"`
		Python      string `mapstructure:"python"`
	} `mapstructure:"runner"`

	Agent struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"agent"`

	Ledger struct {
		Path   string `mapstructure:"path"`
		KeyDir string `mapstructure:"key_dir"`
	} `mapstructure:"ledger"`

	Store struct {
		Backend string `mapstructure:"backend"` // memory, redis or postgres
	} `mapstructure:"store"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Notify struct {
		WebhookURL string `mapstructure:"webhook_url"` // empty = log only
		Channel    string `mapstructure:"channel"`
		Token      string `mapstructure:"token"`
	} `mapstructure:"notify"`
}

var keys = []string{
	"server.addr", "server.log_level", "server.log_format",
	"runner.max_parallel", "runner.work_dir", "runner.logs_dir", "runner.agent_url", "runner.agent_id", "runner.python",
	"agent.addr",
	"ledger.path", "ledger.key_dir",
	"store.backend",
	"redis.addr", "redis.password", "redis.db",
	"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name",
	"postgres.ssl_mode", "postgres.max_open_conns", "postgres.max_idle_conns",
	"notify.webhook_url", "notify.channel", "notify.token",
}

// Load reads configs/matrixci.yaml (optional) and MATRIXCI_* env overrides,
// e.g. MATRIXCI_STORE_BACKEND=redis.
func Load() (Config, error) {
	return LoadFrom("configs")
}

// LoadFrom is Load with an explicit config directory.
func LoadFrom(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("matrixci")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MATRIXCI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(c *Config) error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "console"
	}
	if c.Runner.MaxParallel < 0 {
		return fmt.Errorf("runner.max_parallel must not be negative")
	}
	if c.Runner.WorkDir == "" {
		c.Runner.WorkDir = "./work"
	}
	if c.Runner.LogsDir == "" {
		c.Runner.LogsDir = "./logs"
	}
	if c.Runner.AgentID == "" {
		c.Runner.AgentID = "local-agent"
	}
	if c.Runner.Python == "" {
		c.Runner.Python = "python"
	}
	if c.Agent.Addr == "" {
		c.Agent.Addr = ":9090"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "./ledger.jsonl"
	}
	if c.Ledger.KeyDir == "" {
		c.Ledger.KeyDir = "./keys"
	}
	switch c.Store.Backend {
	case "":
		c.Store.Backend = "memory"
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 2
	}
	return nil
}

// DSN renders the Postgres settings as a URL; credentials are escaped.
func (c Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: url.Values{"sslmode": {c.Postgres.SSLMode}}.Encode(),
	}
	return u.String()
}
