package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	RabbitMQ RabbitMQConfig
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Store    StoreConfig
	Dispatch DispatchConfig
	Delivery DeliveryConfig
	Client   ClientConfig
	Log      LogConfig
}

// RabbitMQConfig is optional: an empty URL disables publishing and consuming.
type RabbitMQConfig struct {
	URL           string
	ExchangeName  string
	DeliveryQueue string `validate:"required_with=URL"`
	UpdatesQueue  string `validate:"required_with=URL"`
}

type ServerConfig struct {
	Port           string        `validate:"required,numeric"`
	ReadTimeout    time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	MaxConnections int           `validate:"gt=0"`
	SendBuffer     int           `validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int `validate:"gte=0"`
}

// KafkaConfig is optional: no brokers means the event log is a no-op.
type KafkaConfig struct {
	Brokers []string `validate:"dive,hostname_port"`
	Topic   string   `validate:"required"`
}

type JWTConfig struct {
	SecretKey string        `validate:"required,min=8"`
	TTL       time.Duration `validate:"gt=0"`
}

type StoreConfig struct {
	Backend string `validate:"oneof=memory redis"`
}

type DispatchConfig struct {
	RadiusKm      float64       `validate:"gt=0"`
	OfferTTL      time.Duration `validate:"gt=0"`
	MaxRounds     int           `validate:"gte=1"`
	SweepInterval time.Duration `validate:"gt=0"`
}

type DeliveryConfig struct {
	CodeTTL    time.Duration `validate:"gt=0"`
	ExposeCode bool
	Fee        float64 `validate:"gte=0"`
}

// ClientConfig drives the simulator binaries.
type ClientConfig struct {
	ServerURL           string        `validate:"required,url"`
	AssignmentsInterval time.Duration `validate:"gt=0"`
	OrdersInterval      time.Duration `validate:"gt=0"`
	ReconnectDelay      time.Duration `validate:"gt=0"`
	MaxReconnectDelay   time.Duration `validate:"gtefield=ReconnectDelay"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

// LoadConfig reads configuration in order: .env (if present) → environment → command line flags.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadConfig with explicit flag arguments.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RabbitMQ: RabbitMQConfig{
			URL:           getEnv("RABBITMQ_URL", ""),
			ExchangeName:  getEnv("RABBITMQ_EXCHANGE", ""),
			DeliveryQueue: getEnv("RABBITMQ_DELIVERY_QUEUE", "delivery_orders"),
			UpdatesQueue:  getEnv("RABBITMQ_UPDATES_QUEUE", "delivery_updates"),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    time.Second * 10,
			WriteTimeout:   time.Second * 10,
			MaxConnections: 1000,
			SendBuffer:     64,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKER", "")),
			Topic:   getEnv("KAFKA_TOPIC", "food_orders"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", "my-secret-key"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "memory"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	var err error
	if cfg.Server.MaxConnections, err = getInt("SERVER_MAX_CONNECTIONS", cfg.Server.MaxConnections); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", cfg.Redis.DB); err != nil {
		return nil, err
	}
	if cfg.JWT.TTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Dispatch.RadiusKm, err = getFloat("DISPATCH_RADIUS_KM", 5); err != nil {
		return nil, err
	}
	if cfg.Dispatch.OfferTTL, err = getDuration("DISPATCH_OFFER_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Dispatch.MaxRounds, err = getInt("DISPATCH_MAX_ROUNDS", 3); err != nil {
		return nil, err
	}
	if cfg.Dispatch.SweepInterval, err = getDuration("DISPATCH_SWEEP_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Delivery.CodeTTL, err = getDuration("DELIVERY_CODE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Delivery.ExposeCode, err = getBool("DELIVERY_EXPOSE_CODE", false); err != nil {
		return nil, err
	}
	if cfg.Delivery.Fee, err = getFloat("DELIVERY_FEE", 40); err != nil {
		return nil, err
	}

	cfg.Client.ServerURL = getEnv("CLIENT_SERVER_URL", "http://localhost:"+cfg.Server.Port)
	if cfg.Client.AssignmentsInterval, err = getDuration("CLIENT_ASSIGNMENTS_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Client.OrdersInterval, err = getDuration("CLIENT_ORDERS_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Client.ReconnectDelay, err = getDuration("CLIENT_RECONNECT_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Client.MaxReconnectDelay, err = getDuration("CLIENT_MAX_RECONNECT_DELAY", 10*time.Second); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("dispatch", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringVarP(&cfg.Server.Port, "port", "p", cfg.Server.Port, "port to listen on")
	fs.StringVar(&cfg.Store.Backend, "store", cfg.Store.Backend, "state backend: memory or redis")
	fs.StringVar(&cfg.Client.ServerURL, "server", cfg.Client.ServerURL, "server base URL for simulators")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
