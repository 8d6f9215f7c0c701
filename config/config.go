package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port          string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	JWTSecret     string
	RedisAddr     string
	MarketDataURL string
	BrokerFeedURL string
	Environment   string
}

var AppConfig *Config
var DB *gorm.DB

// StockCodes is the default symbol universe for live quote distribution.
var StockCodes = []string{
	"RELIANCE.NS", "TCS.NS", "INFY.NS", "HDFCBANK.NS", "ICICIBANK.NS",
	"HINDUNILVR.NS", "ITC.NS", "SBIN.NS", "BHARTIARTL.NS", "KOTAKBANK.NS",
	"LT.NS", "HCLTECH.NS", "AXISBANK.NS", "ASIANPAINT.NS", "MARUTI.NS",
	"SUNPHARMA.NS", "TITAN.NS", "BAJFINANCE.NS", "WIPRO.NS", "ULTRACEMCO.NS",
	"NESTLEIND.NS", "POWERGRID.NS", "NTPC.NS", "ADANIENT.NS", "TATASTEEL.NS",
	"TECHM.NS", "ONGC.NS", "COALINDIA.NS", "JSWSTEEL.NS",
}

// IndexSymbols are the broad market indices shown in the overview.
var IndexSymbols = []string{
	"^NSEI",  // NIFTY 50
	"^BSESN", // SENSEX
}

// Sectors maps sector names to their member symbols.
var Sectors = map[string][]string{
	"IT":             {"TCS.NS", "INFY.NS", "HCLTECH.NS", "WIPRO.NS", "TECHM.NS"},
	"Banking":        {"HDFCBANK.NS", "ICICIBANK.NS", "SBIN.NS", "KOTAKBANK.NS", "AXISBANK.NS"},
	"Energy":         {"RELIANCE.NS", "ONGC.NS", "NTPC.NS", "POWERGRID.NS", "COALINDIA.NS"},
	"FMCG":           {"HINDUNILVR.NS", "ITC.NS", "NESTLEIND.NS"},
	"Auto":           {"MARUTI.NS"},
	"Pharma":         {"SUNPHARMA.NS"},
	"Metals":         {"TATASTEEL.NS", "JSWSTEEL.NS"},
	"Infrastructure": {"LT.NS", "ULTRACEMCO.NS", "ADANIENT.NS"},
	"Consumer":       {"ASIANPAINT.NS", "TITAN.NS", "BAJFINANCE.NS", "BHARTIARTL.NS"},
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:          getEnv("PORT", "8080"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DBName:        getEnv("DB_NAME", "market_values_db"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-key-change-in-production"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		MarketDataURL: getEnv("MARKET_DATA_URL", "https://api-finfo.vndirect.com.vn/v4/stock_prices"),
		BrokerFeedURL: getEnv("BROKER_FEED_URL", "wss://api.upstox.com/v3/feed/market-data-feed"),
		Environment:   getEnv("ENVIRONMENT", "development"),
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=Asia/Kolkata",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
