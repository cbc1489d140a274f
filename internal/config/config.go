package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"boxchat/internal/utils/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const devJWTSecret = "boxchat-dev-secret"

type (
	Server struct {
		Addr      string
		Storage   string
		MongoURI  string
		MongoDB   string
		RedisAddr string
		RedisPass string
		RedisDB   int
		JWTSecret string
		TokenTTL  time.Duration
		LogLevel  string
		LogFile   string
	}

	Client struct {
		ServerURL    string
		KeyringPath  string
		KeyringRedis string
		LogLevel     string
		LogFile      string
	}
)

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("config: cannot read .env", zap.Error(err))
	}
}

func LoadServer() Server {
	loadDotEnv()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Warn("config: JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}

	return Server{
		Addr:      envOr("CHAT_ADDR", "localhost:9090"),
		Storage:   envOr("CHAT_STORAGE", "mongo"),
		MongoURI:  envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   envOr("MONGO_DB", "mydb"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisPass: os.Getenv("REDIS_PASSWORD"),
		RedisDB:   envInt("REDIS_DB", 0),
		JWTSecret: secret,
		TokenTTL:  envDuration("TOKEN_TTL", 7*24*time.Hour),
		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogFile:   os.Getenv("LOG_FILE"),
	}
}

func LoadClient() Client {
	loadDotEnv()

	dir := defaultClientDir()
	return Client{
		ServerURL:    envOr("CHAT_SERVER", "http://localhost:9090"),
		KeyringPath:  envOr("CHAT_KEYRING", filepath.Join(dir, "keyring.json")),
		KeyringRedis: os.Getenv("CHAT_KEYRING_REDIS"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		LogFile:      envOr("LOG_FILE", filepath.Join(dir, "client.log")),
	}
}

func defaultClientDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".boxchat"
	}
	return filepath.Join(home, ".boxchat")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		log.Warn("config: invalid int, using default", zap.String("key", key), zap.String("value", v))
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
		log.Warn("config: invalid duration, using default", zap.String("key", key), zap.String("value", v))
	}
	return fallback
}
