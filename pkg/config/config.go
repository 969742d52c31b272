package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Transport TransportConfig `yaml:"transport"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	JWTSecret string `yaml:"jwt_secret"`
	MachineID int    `yaml:"machine_id"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Network string `yaml:"network"`
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// MongoDBConfig MongoDB配置
type MongoDBConfig struct {
	URI    string `yaml:"uri"`
	DBName string `yaml:"db_name"`
}

// PostgreSQLConfig PostgreSQL配置
type PostgreSQLConfig struct {
	DSN    string `yaml:"dsn"`
	DBName string `yaml:"db_name"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// TransportConfig 实时通道配置
// Enabled为false或AppKey/Cluster缺失时，消息推送降级为仅REST模式，不影响其他功能
type TransportConfig struct {
	Enabled bool   `yaml:"enabled"`
	AppKey  string `yaml:"app_key"`
	Cluster string `yaml:"cluster"`
	WSURL   string `yaml:"ws_url"`
	APIURL  string `yaml:"api_url"`
}

// Complete 实时通道配置是否完整可用
func (t TransportConfig) Complete() bool {
	return t.Enabled && t.AppKey != "" && t.Cluster != ""
}

// LoadConfig 从环境变量加载配置
func LoadConfig(serviceName string) *Config {
	var defaultHTTPPort string

	// 根据服务名称设置默认端口
	switch serviceName {
	case "messenger-service":
		defaultHTTPPort = "21010"
	case "im-gateway-service":
		defaultHTTPPort = "21011"
	default:
		panic(fmt.Sprintf("未知的服务名称: %s，支持的服务名称: messenger-service, im-gateway-service", serviceName))
	}

	httpPort := getEnvOrDefault("HTTP_PORT", defaultHTTPPort)

	return &Config{
		App: AppConfig{
			Name:      serviceName,
			Version:   getEnvOrDefault("APP_VERSION", "1.0.0"),
			JWTSecret: getEnvOrDefault("JWT_SECRET", "hr-messenger"),
			MachineID: getEnvIntOrDefault("MACHINE_ID", 1),
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Network: "tcp",
				Addr:    ":" + httpPort,
				Timeout: "30s",
			},
		},
		Database: DatabaseConfig{
			MongoDB: MongoDBConfig{
				URI:    getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
				DBName: getEnvOrDefault("MONGODB_DB", "messengerDB"),
			},
			PostgreSQL: PostgreSQLConfig{
				DSN:    getEnvOrDefault("POSTGRESQL_DSN", "host=localhost user=postgres password=postgres dbname=messengerDB port=5432 sslmode=disable"),
				DBName: getEnvOrDefault("POSTGRESQL_DB", "messengerDB"),
			},
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnvOrDefault("KAFKA_GROUP_ID", serviceName+"-group"),
		},
		Transport: LoadTransportConfig(),
	}
}

// LoadTransportConfig 加载实时通道配置（客户端与网关共用）
func LoadTransportConfig() TransportConfig {
	return TransportConfig{
		Enabled: getEnvBoolOrDefault("TRANSPORT_ENABLED", true),
		AppKey:  getEnvOrDefault("TRANSPORT_APP_KEY", ""),
		Cluster: getEnvOrDefault("TRANSPORT_CLUSTER", ""),
		WSURL:   getEnvOrDefault("TRANSPORT_WS_URL", "ws://localhost:21011/messenger/ws"),
		APIURL:  getEnvOrDefault("TRANSPORT_API_URL", "http://localhost:21010"),
	}
}

// getEnvOrDefault 获取环境变量或默认值
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault 获取整型环境变量或默认值
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault 获取布尔型环境变量或默认值
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
