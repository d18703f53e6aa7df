package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"required"`
	Symbols     []string `yaml:"symbols" validate:"required,min=1,dive,required"`

	Log struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output  string `yaml:"output" default:"stdout"`
		Collect bool   `yaml:"collect"`
	} `yaml:"log"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s" validate:"gt=0"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	API struct {
		CacheTTL time.Duration `yaml:"cache_ttl" default:"60s"`
	} `yaml:"api"`

	Storage struct {
		Driver string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
	} `yaml:"storage"`

	Postgres struct {
		DSN      string        `yaml:"dsn"`
		MaxConns int32         `yaml:"max_conns" default:"10" validate:"min=1"`
		Timeout  time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
	} `yaml:"postgres"`

	Redis struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
		Prefix       string        `yaml:"prefix" default:"signalflow"`
		Timeout      time.Duration `yaml:"timeout" default:"2s" validate:"gt=0"`
	} `yaml:"redis"`

	EventLog struct {
		Backend      string        `yaml:"backend" default:"memory" validate:"oneof=kafka clickhouse memory"`
		BatchSize    int           `yaml:"batch_size" default:"200" validate:"min=1"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"2s" validate:"gt=0"`
		BufferSize   int           `yaml:"buffer_size" default:"5000" validate:"min=1"`
		MemoryLimit  int           `yaml:"memory_limit" default:"5000" validate:"min=1"`
	} `yaml:"event_log"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			Events string `yaml:"events" default:"signalflow.events"`
			Logs   string `yaml:"logs" default:"signalflow.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"signalflow-events"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"signalflow.events.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalflow"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		MaxConns         int           `yaml:"max_conns" default:"8"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Features struct {
		PrimaryTimeframe string `yaml:"primary_timeframe" default:"5m"`
	} `yaml:"features"`

	Price struct {
		RESTBaseURL string        `yaml:"rest_base_url" default:"https://fapi.binance.com"`
		RESTEnabled bool          `yaml:"rest_enabled" default:"true"`
		Timeout     time.Duration `yaml:"timeout" default:"3s" validate:"gt=0"`
		Stream      struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url" default:"wss://fstream.binance.com"`
			MaxAge         time.Duration `yaml:"max_age" default:"5s" validate:"gt=0"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"1s" validate:"gt=0"`
			MaxReconnect   time.Duration `yaml:"max_reconnect" default:"30s" validate:"gt=0"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s" validate:"gt=0"`
		} `yaml:"stream"`
	} `yaml:"price"`

	Detector struct {
		Interval                time.Duration `yaml:"interval" default:"2s" validate:"gt=0"`
		QueueCapacity           int           `yaml:"queue_capacity" default:"10000" validate:"min=1"`
		MinReemitInterval       time.Duration `yaml:"min_reemit_interval"`
		LiqSpikeThreshold       float64       `yaml:"liq_spike_threshold" default:"2.0" validate:"gt=0"`
		LiqWindow               int           `yaml:"liq_window" default:"20" validate:"min=2"`
		OIExpansionThreshold    float64       `yaml:"oi_expansion_threshold" default:"1.5" validate:"gt=0"`
		ATRExpansionThreshold   float64       `yaml:"atr_expansion_threshold" default:"1.5" validate:"gt=0"`
		ImbalanceFlipThreshold  float64       `yaml:"imbalance_flip_threshold" default:"0.2" validate:"gt=0"`
		FundingExtremeThreshold float64       `yaml:"funding_extreme_threshold" default:"2.5" validate:"gt=0"`
		FundingWindow           int           `yaml:"funding_window" default:"50" validate:"min=2"`
		ReadTimeout             time.Duration `yaml:"read_timeout" default:"1s" validate:"gt=0"`
	} `yaml:"detector"`

	Scorer struct {
		Threshold          float64       `yaml:"threshold" default:"0.60" validate:"gt=0,lte=1"`
		Cooldown           time.Duration `yaml:"cooldown" default:"300s" validate:"gte=0"`
		BufferTTL          time.Duration `yaml:"buffer_ttl" default:"30s" validate:"gt=0"`
		ReevaluateInterval time.Duration `yaml:"reevaluate_interval" default:"5s" validate:"gt=0"`
		TPMultiplier       float64       `yaml:"tp_multiplier" default:"2.0" validate:"gt=0"`
		SLMultiplier       float64       `yaml:"sl_multiplier" default:"1.0" validate:"gt=0"`
		PersistTimeout     time.Duration `yaml:"persist_timeout" default:"5s" validate:"gt=0"`
		ReadTimeout        time.Duration `yaml:"read_timeout" default:"2s" validate:"gt=0"`
		MTF                struct {
			Enabled    bool     `yaml:"enabled" default:"true"`
			MinAligned int      `yaml:"min_aligned" default:"2" validate:"min=1"`
			Timeframes []string `yaml:"timeframes" default:"[\"1m\",\"5m\",\"15m\",\"1h\"]" validate:"min=1,dive,oneof=1m 5m 15m 1h 4h 1d"`
		} `yaml:"mtf"`
	} `yaml:"scorer"`

	Tracker struct {
		PollInterval time.Duration `yaml:"poll_interval" default:"1s" validate:"gt=0"`
		TTL          time.Duration `yaml:"ttl" default:"1h" validate:"gt=0"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s" validate:"gt=0"`
	} `yaml:"tracker"`

	Notifier struct {
		QueueCapacity int           `yaml:"queue_capacity" default:"10000" validate:"min=1"`
		RatePerSecond float64       `yaml:"rate_per_second" default:"1" validate:"gt=0"`
		MaxAttempts   int           `yaml:"max_attempts" default:"5" validate:"min=1"`
		BackoffBase   time.Duration `yaml:"backoff_base" default:"2s" validate:"gt=0"`
		BackoffMax    time.Duration `yaml:"backoff_max" default:"60s" validate:"gt=0"`
		SendTimeout   time.Duration `yaml:"send_timeout" default:"10s" validate:"gt=0"`
		DedupTTL      time.Duration `yaml:"dedup_ttl" default:"24h" validate:"gt=0"`
		RetryBackend  string        `yaml:"retry_backend" default:"memory" validate:"oneof=memory redis"`
		DedupBackend  string        `yaml:"dedup_backend" default:"memory" validate:"oneof=memory redis"`
	} `yaml:"notifier"`

	Telegram struct {
		BotToken string        `yaml:"bot_token"`
		ChatID   string        `yaml:"chat_id"`
		BaseURL  string        `yaml:"base_url" default:"https://api.telegram.org"`
		Timeout  time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"telegram"`

	Broadcast struct {
		StatusInterval    time.Duration `yaml:"status_interval" default:"10s" validate:"gt=0"`
		KeepaliveInterval time.Duration `yaml:"keepalive_interval" default:"30s" validate:"gt=0"`
		WriteTimeout      time.Duration `yaml:"write_timeout" default:"5s" validate:"gt=0"`
		SendBuffer        int           `yaml:"send_buffer" default:"64" validate:"min=1"`
	} `yaml:"broadcast"`
}

var validate = validator.New()

// Default returns a config populated only from default tags.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v, false)
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v, true)
	}
	if v := os.Getenv("EVENT_LOG_BACKEND"); v != "" {
		c.EventLog.Backend = v
	}
	if v := os.Getenv("SCORE_THRESHOLD"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SCORE_THRESHOLD: %w", err)
		}
		c.Scorer.Threshold = th
	}
	return nil
}

func splitList(v string, upper bool) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if upper {
			p = strings.ToUpper(p)
		}
		out = append(out, p)
	}
	return out
}

// Validate checks tags first, then the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Storage.Driver == "postgres" && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required when storage.driver is postgres")
	}
	if c.EventLog.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when event_log.backend is kafka")
	}
	if c.Kafka.Consumer.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka.consumer.enabled")
	}
	if c.Log.Collect && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when log.collect is set")
	}
	if c.Scorer.MTF.Enabled && c.Scorer.MTF.MinAligned > len(c.Scorer.MTF.Timeframes) {
		return fmt.Errorf("scorer.mtf.min_aligned (%d) exceeds the number of timeframes (%d)",
			c.Scorer.MTF.MinAligned, len(c.Scorer.MTF.Timeframes))
	}
	if c.Notifier.BackoffMax < c.Notifier.BackoffBase {
		return errors.New("notifier.backoff_max must be >= notifier.backoff_base")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return errors.New("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}
