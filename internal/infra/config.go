package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spider_go/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOKXWSURL        = "wss://ws.okx.com:8443"
	DefaultOKXTestnetWSURL = "wss://wspap.okx.com:8443"
	DefaultOKXRestURL      = "https://www.okx.com"
)

// Config는 스파이더의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		Name       string `yaml:"name"`
		WSURL      string `yaml:"ws_url"`
		RestURL    string `yaml:"rest_url"`
		Testnet    bool   `yaml:"testnet"`
		AccessKey  string `yaml:"access_key"`
		SecretKey  string `yaml:"secret_key"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"exchange"`

	Spider struct {
		Currencies   []string `yaml:"currencies"`
		Kinds        []string `yaml:"kinds"`
		BookDepth    int      `yaml:"book_depth"`
		PublishDepth int      `yaml:"publish_depth"`
		BookChannel  string   `yaml:"book_channel"`
		MarkPrice    bool     `yaml:"mark_price"`
		FundingRate  bool     `yaml:"funding_rate"`
		IndexTickers bool     `yaml:"index_tickers"`
	} `yaml:"spider"`

	Stream struct {
		StaleThreshold   time.Duration `yaml:"stale_threshold"`
		WatchdogPeriod   time.Duration `yaml:"watchdog_period"`
		WatchdogCooldown time.Duration `yaml:"watchdog_cooldown"`
		ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		LoginTimeout     time.Duration `yaml:"login_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		ReadLimit        int64         `yaml:"read_limit"`
	} `yaml:"stream"`

	Dispatch struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"dispatch"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		URL      string `yaml:"url"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Metrics struct {
		Addr          string        `yaml:"addr"`
		StatsInterval time.Duration `yaml:"stats_interval"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies env overrides and defaults, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "spider"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "OKEX"
	}
	if c.Exchange.WSURL == "" {
		c.Exchange.WSURL = DefaultOKXWSURL
		if c.Exchange.Testnet {
			c.Exchange.WSURL = DefaultOKXTestnetWSURL
		}
	}
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultOKXRestURL
	}
	if c.Spider.BookDepth == 0 {
		c.Spider.BookDepth = 5
	}
	if c.Spider.BookChannel == "" {
		c.Spider.BookChannel = "books5"
	}

	s := &c.Stream
	setDuration(&s.StaleThreshold, 50*time.Second)
	setDuration(&s.WatchdogPeriod, 50*time.Second)
	setDuration(&s.WatchdogCooldown, 250*time.Second)
	setDuration(&s.ReconnectBackoff, time.Second)
	setDuration(&s.HandshakeTimeout, 10*time.Second)
	setDuration(&s.WriteTimeout, 5*time.Second)
	setDuration(&s.LoginTimeout, 10*time.Second)
	setDuration(&s.PingInterval, 25*time.Second)
	if s.ReadLimit == 0 {
		s.ReadLimit = 1 << 24
	}

	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 100
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 10000
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "spider.market"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/spider.db"
	}
	setDuration(&c.Metrics.StatsInterval, time.Minute)
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if u := c.Exchange.WSURL; !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return &domain.ConfigError{Field: "exchange.ws_url", Err: fmt.Errorf("invalid websocket url %q", u)}
	}
	if len(c.Spider.Currencies) == 0 {
		return &domain.ConfigError{Field: "spider.currencies", Err: errors.New("at least one currency is required")}
	}
	if len(c.Spider.Kinds) == 0 {
		return &domain.ConfigError{Field: "spider.kinds", Err: errors.New("at least one instrument kind is required")}
	}
	if c.Spider.BookDepth < 0 || c.Spider.PublishDepth < 0 {
		return &domain.ConfigError{Field: "spider.book_depth", Err: errors.New("depth must not be negative")}
	}
	if c.Stream.StaleThreshold < 0 || c.Stream.WatchdogPeriod < 0 || c.Stream.ReconnectBackoff < 0 {
		return &domain.ConfigError{Field: "stream", Err: errors.New("durations must be positive")}
	}
	if c.Dispatch.Workers < 1 {
		return &domain.ConfigError{Field: "dispatch.workers", Err: errors.New("at least one worker is required")}
	}
	if c.Dispatch.QueueSize < 1 {
		return &domain.ConfigError{Field: "dispatch.queue_size", Err: errors.New("queue size must be positive")}
	}
	if (c.Exchange.AccessKey == "") != (c.Exchange.SecretKey == "") {
		return &domain.ConfigError{Field: "exchange.secret_key", Err: errors.New("access key and secret key must be set together")}
	}
	return nil
}

// HasCredentials reports whether the stream must log in before subscribing.
func (c *Config) HasCredentials() bool {
	return c.Exchange.AccessKey != "" && c.Exchange.SecretKey != ""
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("OKEX_WS_URL"); url != "" {
		cfg.Exchange.WSURL = url
	}
	if testnet := os.Getenv("SPIDER_TESTNET"); testnet != "" {
		cfg.Exchange.Testnet, _ = strconv.ParseBool(testnet)
	}
	if key := os.Getenv("SPIDER_OKX_KEY"); key != "" {
		cfg.Exchange.AccessKey = key
	}
	if secret := os.Getenv("SPIDER_OKX_SECRET"); secret != "" {
		cfg.Exchange.SecretKey = secret
	}
	if pass := os.Getenv("SPIDER_OKX_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if n, err := strconv.Atoi(os.Getenv("SPIDER_CONSUMER_WORKERS")); err == nil {
		cfg.Dispatch.Workers = n
	}
	if n, err := strconv.Atoi(os.Getenv("SPIDER_WEBSOCKET_MESSAGE_QUEUE_MAX_SIZE")); err == nil {
		cfg.Dispatch.QueueSize = n
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
}
