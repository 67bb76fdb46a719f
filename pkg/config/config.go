package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Platform struct {
		Name     string `mapstructure:"NAME"`
		Timezone string `mapstructure:"TIMEZONE"`
	} `mapstructure:"PLATFORM"`
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string  `mapstructure:"ADDR"`
		Protocol string  `mapstructure:"PROTOCOL"`
		Insecure bool    `mapstructure:"INSECURE"`
		Ratio    float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Log struct {
		Level      string `mapstructure:"LEVEL"`
		File       string `mapstructure:"FILE"`
		MaxSizeMB  int    `mapstructure:"MAX_SIZE_MB"`
		MaxBackups int    `mapstructure:"MAX_BACKUPS"`
		MaxAgeDays int    `mapstructure:"MAX_AGE_DAYS"`
	} `mapstructure:"LOG"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
		CorsOrigins  []string      `mapstructure:"CORS_ORIGINS"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	JWT struct {
		Secret string `mapstructure:"SECRET"`
		Issuer string `mapstructure:"ISSUER"`
	} `mapstructure:"JWT"`
	RateLimit struct {
		RPS   float64 `mapstructure:"RPS"`
		Burst int     `mapstructure:"BURST"`
	} `mapstructure:"RATE_LIMIT"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Addrs   string `mapstructure:"ADDR"`
		GroupID string `mapstructure:"GROUP_ID"`
		Topic   string `mapstructure:"CDC_TOPIC"`
	} `mapstructure:"KAFKA"`
	RabbitMQ struct {
		URL      string `mapstructure:"URL"`
		Exchange string `mapstructure:"EXCHANGE"`
	} `mapstructure:"RABBITMQ"`
	Realtime struct {
		Feed                 string        `mapstructure:"FEED"`
		Schema               string        `mapstructure:"SCHEMA"`
		HeartbeatInterval    time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
		HealthCheckInterval  time.Duration `mapstructure:"HEALTH_CHECK_INTERVAL"`
		StaleTimeout         time.Duration `mapstructure:"STALE_TIMEOUT"`
		MaxReconnectAttempts int           `mapstructure:"MAX_RECONNECT_ATTEMPTS"`
		ReconnectBackoff     time.Duration `mapstructure:"RECONNECT_BACKOFF"`
		RouletteRevealDelay  time.Duration `mapstructure:"ROULETTE_REVEAL_DELAY"`
	} `mapstructure:"REALTIME"`
	ReadModel struct {
		TTL time.Duration `mapstructure:"TTL"`
	} `mapstructure:"READ_MODEL"`
	Settings struct {
		CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
	} `mapstructure:"SETTINGS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		zap.L().Warn("config.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "loyalty")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PLATFORM.TIMEZONE", "UTC")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("OTEL.SAMPLE_RATIO", 1.0)
	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", ":9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("RATE_LIMIT.RPS", 5)
	v.SetDefault("RATE_LIMIT.BURST", 10)
	v.SetDefault("RABBITMQ.EXCHANGE", "loyalty.notifications")
	v.SetDefault("KAFKA.GROUP_ID", "loyalty-realtime")
	v.SetDefault("REALTIME.FEED", "memory")
	v.SetDefault("REALTIME.SCHEMA", "public")
	v.SetDefault("REALTIME.HEARTBEAT_INTERVAL", 15*time.Second)
	v.SetDefault("REALTIME.HEALTH_CHECK_INTERVAL", 10*time.Second)
	v.SetDefault("REALTIME.STALE_TIMEOUT", 45*time.Second)
	v.SetDefault("REALTIME.MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("REALTIME.RECONNECT_BACKOFF", time.Second)
	v.SetDefault("REALTIME.ROULETTE_REVEAL_DELAY", 4*time.Second)
	v.SetDefault("READ_MODEL.TTL", 5*time.Minute)
	v.SetDefault("SETTINGS.CACHE_TTL", 30*time.Second)
}

// Location resolves the platform timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Platform.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Platform.Timezone)
	if err != nil {
		zap.L().Warn("invalid platform timezone, falling back to UTC", zap.String("timezone", c.Platform.Timezone), zap.Error(err))
		return time.UTC
	}
	return loc
}
