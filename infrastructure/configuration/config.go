package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"crosspost/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	Database    Database    `json:"database"`
	App         App         `json:"app"`
	RedisClient RedisClient `json:"redisClient"`
	Queue       Queue       `json:"queue"`
	Scheduler   Scheduler   `json:"scheduler"`
	Dispatch    Dispatch    `json:"dispatch"`
	Finalize    Finalize    `json:"finalize"`
	Staging     Staging     `json:"staging"`
	Platforms   Platforms   `json:"platforms"`
	Logger      Logger      `json:"logger"`
}

type App struct {
	Port        int    `json:"port"`
	SecretKey   string `json:"secretKey"`
	TLSEnabled  bool   `json:"tlsEnabled"`
	TLSCertFile string `json:"tlsCertFile"`
	TLSKeyFile  string `json:"tlsKeyFile"`
}

type Database struct {
	Psql  Db `json:"psql"`
	Mongo Db `json:"mongo"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

type RedisClient struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	Username string `json:"username"`
	DB       int    `json:"db"`
}

// Queue selects the work queue driver carrying dispatch and finalize requests.
type Queue struct {
	Driver        string     `json:"driver"` // memory | redis | pubsub | servicebus | kafka
	DispatchTopic string     `json:"dispatchTopic"`
	FinalizeTopic string     `json:"finalizeTopic"`
	BufferSize    int        `json:"bufferSize"`
	Pubsub        Pubsub     `json:"pubsub"`
	ServiceBus    ServiceBus `json:"serviceBus"`
	Kafka         Kafka      `json:"kafka"`
}

type Pubsub struct {
	ProjectID string `json:"projectID"`
}

type ServiceBus struct {
	Namespace string `json:"namespace"`
}

type Kafka struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"groupID"`
}

type Scheduler struct {
	Enabled                   bool `json:"enabled"`
	IntervalSeconds           int  `json:"intervalSeconds"`
	ToleranceSeconds          int  `json:"toleranceSeconds"`
	ImmediateToleranceSeconds int  `json:"immediateToleranceSeconds"`
	StaleAfterSeconds         int  `json:"staleAfterSeconds"`
}

type Dispatch struct {
	Workers            int `json:"workers"`
	CallTimeoutSeconds int `json:"callTimeoutSeconds"`
}

type Finalize struct {
	Workers             int `json:"workers"`
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
	MaxAttempts         int `json:"maxAttempts"`
}

type Staging struct {
	VerifyMedia            bool `json:"verifyMedia"`
	UploadRetryDelayMillis int  `json:"uploadRetryDelayMillis"`
}

type Logger struct {
	Format string `json:"format"`
	Level  string `json:"level"`
}

var C Config

func init() {
	LoadConfig()
	initDatabase(&C)
	initRedis(&C)
	initApp(&C)
	initPlatforms(&C)
}

func setDefaults() {
	viper.SetDefault("queue.driver", "memory")
	viper.SetDefault("queue.dispatchTopic", "publish.dispatch")
	viper.SetDefault("queue.finalizeTopic", "publish.finalize")
	viper.SetDefault("queue.bufferSize", 1024)
	viper.SetDefault("queue.kafka.groupID", "crosspost")
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.intervalSeconds", 60)
	viper.SetDefault("scheduler.toleranceSeconds", 30)
	viper.SetDefault("scheduler.immediateToleranceSeconds", 30)
	viper.SetDefault("scheduler.staleAfterSeconds", 1800)
	viper.SetDefault("dispatch.workers", 4)
	viper.SetDefault("dispatch.callTimeoutSeconds", 60)
	viper.SetDefault("finalize.workers", 2)
	viper.SetDefault("finalize.pollIntervalSeconds", 15)
	viper.SetDefault("finalize.maxAttempts", 5)
	viper.SetDefault("staging.uploadRetryDelayMillis", 500)
	viper.SetDefault("platforms.facebook.enabled", true)
	viper.SetDefault("platforms.instagram.enabled", true)
	viper.SetDefault("platforms.youtube.enabled", true)
	viper.SetDefault("redisClient.host", "localhost")
	viper.SetDefault("redisClient.port", "6379")
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found, using defaults and environment")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	if C.Database.Psql.Name == "" {
		C.Database.Psql.Name = os.Getenv("DB_NAME")
	}
	if C.Database.Psql.Host == "" {
		C.Database.Psql.Host = os.Getenv("DB_HOST")
	}
	if C.Database.Psql.User == "" {
		C.Database.Psql.User = os.Getenv("DB_USER")
	}
	if C.Database.Psql.Password == "" {
		C.Database.Psql.Password = os.Getenv("DB_PASSWORD")
	}
	if C.Database.Psql.Port == "" {
		C.Database.Psql.Port = getEnv("DB_PORT", "5432")
	}
	if C.Database.Psql.SSLMode == "" {
		C.Database.Psql.SSLMode = getEnv("DB_SSLMODE", "disable")
	}

	if C.Database.Mongo.Host == "" {
		C.Database.Mongo.Host = os.Getenv("MONGO_HOST")
	}
	if C.Database.Mongo.Port == "" {
		C.Database.Mongo.Port = getEnv("MONGO_PORT", "27017")
	}
	if C.Database.Mongo.Name == "" {
		C.Database.Mongo.Name = getEnv("MONGO_DB_NAME", "crosspost")
	}
	if C.Database.Mongo.User == "" {
		C.Database.Mongo.User = os.Getenv("MONGO_USER")
	}
	if C.Database.Mongo.Password == "" {
		C.Database.Mongo.Password = os.Getenv("MONGO_PASSWORD")
	}
	logger.GetLogger().
		WithField("psqlHost", C.Database.Psql.Host).
		WithField("mongoHost", C.Database.Mongo.Host).
		Info("Database configuration")
}

func initRedis(C *Config) {
	C.RedisClient.Host = getConfigValue(C.RedisClient.Host, "REDIS_HOST", "localhost")
	C.RedisClient.Port = getConfigValue(C.RedisClient.Port, "REDIS_PORT", "6379")
	C.RedisClient.Password = getConfigValue(C.RedisClient.Password, "REDIS_PASSWORD", "")
	C.RedisClient.Username = getConfigValue(C.RedisClient.Username, "REDIS_USERNAME", "")
}

func initApp(C *Config) {
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order (env overrides config): APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true":
			C.App.TLSEnabled = true
		case "0", "false":
			C.App.TLSEnabled = false
		}
	}
	if C.App.TLSCertFile == "" {
		C.App.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	}
	if C.App.TLSKeyFile == "" {
		C.App.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		C.Queue.Driver = v
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

// getConfigValue prefers the environment, then a non-placeholder config value, then the default.
func getConfigValue(configValue, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" && !strings.HasPrefix(configValue, "YOUR_") {
		return configValue
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
