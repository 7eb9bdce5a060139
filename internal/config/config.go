package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultAllowedOrigins are the sites that embed the widget or host the CRM.
var DefaultAllowedOrigins = []string{
	"https://grupoalade.com",
	"https://www.grupoalade.com",
	"https://solar-calculator.cingulado.org",
	"https://aladeapp.cingulado.org",
	"http://localhost:5173",
	"http://localhost:3000",
}

// Config aggregates every setting of the service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Socket   SocketConfig
	Hub      HubConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	socket, err := loadSocketConfig()
	if err != nil {
		return nil, err
	}

	hub, err := loadHubConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Database: database, Redis: redis, Socket: socket, Hub: hub}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "4000"
	}

	origins := parseListEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = append([]string(nil), DefaultAllowedOrigins...)
	}

	if strings.Contains(port, ":") {
		// accepts ":4000" or "127.0.0.1:4000"
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// DatabaseConfig selects and locates the chat store.
type DatabaseConfig struct {
	Driver string
	Path   string
	URL    string
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", "memory"))
	switch driver {
	case "memory", "sqlite", "postgres":
	default:
		return DatabaseConfig{}, fmt.Errorf("invalid DATABASE_DRIVER value: %q", driver)
	}

	cfg := DatabaseConfig{
		Driver: driver,
		Path:   getEnvOrDefault("DATABASE_PATH", "data/chat.db"),
		URL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	if driver == "postgres" && cfg.URL == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
	}
	return cfg, nil
}

// RedisConfig describes the optional presence mirror.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return RedisConfig{}, err
	} else if override != nil {
		db = *override
	}

	ttl, err := parseDurationEnv("PRESENCE_TTL", 2*time.Minute)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Addr:        strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          db,
		PresenceTTL: ttl,
	}, nil
}

// SocketConfig tunes the websocket transport.
type SocketConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int
}

func loadSocketConfig() (SocketConfig, error) {
	ping, err := parseDurationEnv("WS_PING_INTERVAL", 54*time.Second)
	if err != nil {
		return SocketConfig{}, err
	}

	read, err := parseDurationEnv("WS_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return SocketConfig{}, err
	}
	if ping >= read {
		return SocketConfig{}, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_READ_TIMEOUT (%s)", ping, read)
	}

	buffer := 64
	if override, err := parseOptionalIntEnv("WS_SEND_BUFFER"); err != nil {
		return SocketConfig{}, err
	} else if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	return SocketConfig{PingInterval: ping, ReadTimeout: read, SendBuffer: buffer}, nil
}

// HubConfig toggles optional hub behavior.
type HubConfig struct {
	PersistSocketMessages bool
}

func loadHubConfig() (HubConfig, error) {
	persist, err := parseBoolEnv("HUB_PERSIST_SOCKET_MESSAGES", false)
	if err != nil {
		return HubConfig{}, err
	}
	return HubConfig{PersistSocketMessages: persist}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
