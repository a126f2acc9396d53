package ops

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/yanun0323/logs"

	"marketdesk/internal/errors"
	"marketdesk/internal/trade"
	"marketdesk/pkg/exception"
)

const envPrefix = "MARKETDESK"

// FileConfig mirrors the config file layout. Every key can be overridden by
// an environment variable such as MARKETDESK_SERVER_ADDR.
type FileConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WSPath         string        `mapstructure:"ws_path"`
	QueueSize      int           `mapstructure:"queue_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type UpstreamConfig struct {
	URL              string        `mapstructure:"url"`
	Token            string        `mapstructure:"token"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

type QuoteConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// RedisConfig enables the shared quote mirror when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig enables trade events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	ConnString   string `mapstructure:"conn_string"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RiskConfig struct {
	KillSwitch       bool          `mapstructure:"kill_switch"`
	MaxOrderQty      int64         `mapstructure:"max_order_qty"`
	MaxOrderNotional string        `mapstructure:"max_order_notional"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
}

type PortfolioConfig struct {
	StartingCash string `mapstructure:"starting_cash"`
}

// ProfilingConfig enables continuous profiling when ServerAddress is set.
type ProfilingConfig struct {
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

type MetricsConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	FileConfig
	Risk         trade.RiskConfig
	StartingCash decimal.Decimal
}

var defaults = map[string]any{
	"server.addr":                ":8080",
	"server.ws_path":             "/ws",
	"server.queue_size":          256,
	"server.write_timeout":       "5s",
	"server.read_timeout":        "60s",
	"server.ping_interval":       "50s",
	"server.max_message_size":    4096,
	"auth.jwt_secret":            "",
	"upstream.url":               "wss://ws.finnhub.io",
	"upstream.token":             "",
	"upstream.handshake_timeout": "10s",
	"upstream.write_timeout":     "5s",
	"upstream.ping_interval":     "30s",
	"upstream.backoff_initial":   "500ms",
	"upstream.backoff_max":       "30s",
	"quote.base_url":             "https://finnhub.io/api/v1",
	"quote.token":                "",
	"quote.refresh_interval":     "30s",
	"quote.fetch_timeout":        "10s",
	"redis.addr":                 "",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.ttl":                  "1m",
	"kafka.brokers":              []string{},
	"kafka.topic":                "marketdesk.trades",
	"postgres.host":              "localhost",
	"postgres.port":              5432,
	"postgres.user":              "",
	"postgres.password":          "",
	"postgres.database":          "marketdesk",
	"postgres.sslmode":           "disable",
	"postgres.conn_string":       "",
	"postgres.max_open_conns":    20,
	"risk.kill_switch":           false,
	"risk.max_order_qty":         0,
	"risk.max_order_notional":    "0",
	"risk.rate_limit":            0,
	"risk.rate_window":           "1s",
	"portfolio.starting_cash":    "100000",
	"profiling.server_address":   "",
	"profiling.app_name":         "marketdesk",
	"metrics.report_interval":    "1m",
}

// Load reads .env, the optional config file at path and the environment.
func Load(path string) (Loaded, error) {
	if err := godotenv.Load(); err != nil {
		logs.Debugf("no .env file loaded, err: %+v", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, errors.Wrapf(exception.ErrBadConfig, "read %s: %v", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		if err := v.BindEnv(key); err != nil {
			return Loaded{}, errors.Wrapf(exception.ErrBadConfig, "bind env %s: %v", key, err)
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrBadConfig, "decode: %v", err)
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Auth.JWTSecret == "" {
		return Loaded{}, errors.Wrap(exception.ErrBadConfig, "auth.jwt_secret is empty")
	}
	if cfg.Upstream.URL == "" {
		return Loaded{}, errors.Wrap(exception.ErrBadConfig, "upstream.url is empty")
	}
	if cfg.Quote.Token == "" {
		cfg.Quote.Token = cfg.Upstream.Token
	}
	if cfg.Server.WSPath == "" || cfg.Server.WSPath[0] != '/' {
		return Loaded{}, errors.Wrapf(exception.ErrBadConfig, "server.ws_path %q must start with /", cfg.Server.WSPath)
	}

	notional, err := parseAmount("risk.max_order_notional", cfg.Risk.MaxOrderNotional)
	if err != nil {
		return Loaded{}, err
	}
	cash, err := parseAmount("portfolio.starting_cash", cfg.Portfolio.StartingCash)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		FileConfig: cfg,
		Risk: trade.RiskConfig{
			KillSwitch:       cfg.Risk.KillSwitch,
			MaxOrderQty:      cfg.Risk.MaxOrderQty,
			MaxOrderNotional: notional,
			RateLimit:        cfg.Risk.RateLimit,
			RateWindow:       cfg.Risk.RateWindow,
		},
		StartingCash: cash,
	}, nil
}

func parseAmount(key, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(exception.ErrBadConfig, "%s: %v", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Wrapf(exception.ErrBadConfig, "%s must be >= 0", key)
	}
	return d, nil
}
