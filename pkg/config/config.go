package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Tokens     []TokenConfig    `mapstructure:"tokens"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Invoice    InvoiceConfig    `mapstructure:"invoice"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
	// ConsumerGroup 非空时在进程内启动通知消费循环 (仅 redis streams)
	ConsumerGroup string `mapstructure:"consumer_group"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// ChainConfig 链/Bundler 接入配置
type ChainConfig struct {
	NetworkName      string `mapstructure:"network_name"`
	ChainID          int64  `mapstructure:"chain_id"`
	RpcUrl           string `mapstructure:"rpc_url"`
	BundlerUrl       string `mapstructure:"bundler_url"`
	PaymasterAddress string `mapstructure:"paymaster_address"`
	// PermitAllowance 是授权给 Paymaster 抵扣 Gas 的固定代币额度 (人类可读单位)
	PermitAllowance string `mapstructure:"permit_allowance"`
}

// TokenConfig 支持的 ERC-20 代币
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
	USDRate  string `mapstructure:"usd_rate"` // 建单时固定 USD 估值用的简化价格表
}

type ConversionConfig struct {
	LocalFiat       string `mapstructure:"local_fiat"` // 例如 NGN
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	CMCApiUrl       string `mapstructure:"cmc_api_url"`
	CMCApiKey       string `mapstructure:"cmc_api_key"`
	CoinGeckoApiUrl string `mapstructure:"coingecko_api_url"`
	P2PApiUrl       string `mapstructure:"p2p_api_url"`
}

type InvoiceConfig struct {
	DefaultPaymentTermsDays int `mapstructure:"default_payment_terms_days"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(".")      // optionally look for config in the working directory
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error if desired
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			// Config file was found but another error was produced
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "payment_user")
	viper.SetDefault("db.password", "payment_password")
	viper.SetDefault("db.name", "payment_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")
	viper.SetDefault("redis.consumer_group", "payment-notify")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("chain.network_name", "arbitrum-sepolia")
	viper.SetDefault("chain.chain_id", 421614)
	viper.SetDefault("chain.permit_allowance", "10") // 固定授权 10 个代币抵扣 Gas

	viper.SetDefault("conversion.local_fiat", "NGN")
	viper.SetDefault("conversion.cache_ttl_seconds", 30)
	viper.SetDefault("conversion.cmc_api_url", "https://pro-api.coinmarketcap.com/v2/tools/price-conversion")
	viper.SetDefault("conversion.coingecko_api_url", "https://api.coingecko.com/api/v3/simple/price")
	viper.SetDefault("conversion.p2p_api_url", "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search")

	viper.SetDefault("invoice.default_payment_terms_days", 7)
}
