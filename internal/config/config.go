package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"polywallet/internal/models"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel   string
	ListenAddr string
	MaxRetries int
	RetryDelay time.Duration
	HTTP       HTTPConfig
	Kafka      KafkaConfig
	Store      StoreConfig
	Nano       NanoConfig
	Alchemy    AlchemyConfig
	Chains     map[models.Network]ChainConfig
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	Timeout time.Duration
}

// KafkaConfig holds Kafka configuration. An empty BrokerAddress disables the
// emitter.
type KafkaConfig struct {
	BrokerAddress string
	Topic         string
	BatchSize     int
	BatchTimeout  time.Duration
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Driver     string
	BadgerPath string
	Database   DatabaseConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NanoConfig holds the node endpoints used by the account-chain engine and
// its confirmation watcher.
type NanoConfig struct {
	RpcEndpoint    string
	ApiKey         string
	WebsocketURL   string
	Representative string
	RateLimit      float64
}

// AlchemyConfig holds the address-activity webhook settings.
type AlchemyConfig struct {
	NotifyToken string
	SigningKey  string
	WebhookIDs  map[models.Network]string
}

// ChainConfig holds configuration for each EVM network
type ChainConfig struct {
	RpcEndpoint     string
	ApiKey          string
	RateLimit       float64
	ExplorerBaseURL string
}

// DefaultRepresentative is the representative set on every Nano state block
// unless overridden.
const DefaultRepresentative = "nano_1banexkcfuieufzxksfrxqf6xy8e57ry1zdtq9yn7jntzhpwu4pg4hajojmq"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// A missing .env is fine, variables may be set externally.
	_ = godotenv.Load()

	config := &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0:3001"),
		MaxRetries: getEnvAsInt("MAX_RETRIES", 3),
		RetryDelay: time.Duration(getEnvAsInt("RETRY_DELAY", 1)) * time.Second,
		HTTP: HTTPConfig{
			Timeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			BrokerAddress: getEnv("KAFKA_BROKER_ADDRESS", ""),
			Topic:         getEnv("KAFKA_TOPIC", "wallet-transfers"),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 10),
			BatchTimeout:  time.Duration(getEnvAsInt("KAFKA_BATCH_TIMEOUT", 5)) * time.Second,
		},
		Store: StoreConfig{
			Driver:     getEnv("STORE_DRIVER", "postgres"),
			BadgerPath: getEnv("BADGER_PATH", "./data"),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvAsInt("DB_PORT", 5432),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				DBName:   getEnv("DB_NAME", "polywallet"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
			},
		},
		Nano: NanoConfig{
			RpcEndpoint:    getEnv("NANO_RPC_API_URL", "https://rpc.nano.to"),
			ApiKey:         getEnv("NANO_RPC_API_KEY", ""),
			WebsocketURL:   getEnv("NANO_WEBSOCKET_URL", "wss://www.blocklattice.io/ws"),
			Representative: getEnv("NANO_REPRESENTATIVE", DefaultRepresentative),
			RateLimit:      getEnvAsFloat("NANO_RATE_LIMIT", 4),
		},
		Alchemy: AlchemyConfig{
			NotifyToken: getEnv("ALCHEMY_NOTIFY_AUTH_TOKEN", ""),
			SigningKey:  getEnv("ALCHEMY_SIGNING_KEY", ""),
			WebhookIDs:  make(map[models.Network]string),
		},
		Chains: make(map[models.Network]ChainConfig),
	}

	config.Chains[models.EthMainnet] = ChainConfig{
		RpcEndpoint:     getEnv("ETH_MAINNET_RPC_ENDPOINT", ""),
		ApiKey:          getEnv("ETH_MAINNET_API_KEY", ""),
		RateLimit:       getEnvAsFloat("ETH_MAINNET_RATE_LIMIT", 4),
		ExplorerBaseURL: "https://etherscan.io/tx/",
	}

	config.Chains[models.EthSepolia] = ChainConfig{
		RpcEndpoint:     getEnv("ETH_SEPOLIA_RPC_ENDPOINT", ""),
		ApiKey:          getEnv("ETH_SEPOLIA_API_KEY", ""),
		RateLimit:       getEnvAsFloat("ETH_SEPOLIA_RATE_LIMIT", 4),
		ExplorerBaseURL: "https://sepolia.etherscan.io/tx/",
	}

	config.Chains[models.PolygonMainnet] = ChainConfig{
		RpcEndpoint:     getEnv("POLYGON_MAINNET_RPC_ENDPOINT", ""),
		ApiKey:          getEnv("POLYGON_MAINNET_API_KEY", ""),
		RateLimit:       getEnvAsFloat("POLYGON_MAINNET_RATE_LIMIT", 4),
		ExplorerBaseURL: "https://polygonscan.com/tx/",
	}

	config.Chains[models.PolygonAmoy] = ChainConfig{
		RpcEndpoint:     getEnv("POLYGON_AMOY_RPC_ENDPOINT", ""),
		ApiKey:          getEnv("POLYGON_AMOY_API_KEY", ""),
		RateLimit:       getEnvAsFloat("POLYGON_AMOY_RATE_LIMIT", 4),
		ExplorerBaseURL: "https://amoy.polygonscan.com/tx/",
	}

	for network := range config.Chains {
		key := "ALCHEMY_" + envName(network) + "_WEBHOOK_ID"
		if id := getEnv(key, ""); id != "" {
			config.Alchemy.WebhookIDs[network] = id
		}
	}

	return config, nil
}

// EnabledChains returns the EVM networks that have an RPC endpoint configured.
func (c *Config) EnabledChains() map[models.Network]ChainConfig {
	enabled := make(map[models.Network]ChainConfig, len(c.Chains))
	for network, chain := range c.Chains {
		if chain.RpcEndpoint != "" {
			enabled[network] = chain
		}
	}
	return enabled
}

// envName turns "eth-mainnet" into "ETH_MAINNET".
func envName(network models.Network) string {
	return strings.ToUpper(strings.ReplaceAll(network.String(), "-", "_"))
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
