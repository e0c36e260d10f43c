package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreName             string
	TaxRatePercent        decimal.Decimal
	ActiveDiscount        string
	BatchDiscounts        bool
	SkipExpired           bool
	ReceiptDir            string
	ReceiptESCPOS         bool
	AuthSecret            string
	AccessTokenTTLMinutes int
	ItemCacheTTLSeconds   int
	NodeID                int64
	LogLevel              string
	CashMaxTender         decimal.Decimal
}

// Load reads configuration from the environment. Values in a .env file in
// the working directory are used for keys the environment leaves unset.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	itemTTL, err := strconv.Atoi(getEnv("ITEM_CACHE_TTL_SECONDS", "60"))
	if err != nil || itemTTL < 1 {
		itemTTL = 60
	}
	nodeID, err := strconv.ParseInt(getEnv("NODE_ID", "1"), 10, 64)
	if err != nil || nodeID < 0 {
		nodeID = 1
	}
	tax, err := decimal.NewFromString(getEnv("TAX_RATE_PERCENT", "0"))
	if err != nil {
		tax = decimal.Zero
	}
	maxTender, err := decimal.NewFromString(getEnv("CASH_MAX_TENDER", "100000"))
	if err != nil || !maxTender.IsPositive() {
		maxTender = decimal.NewFromInt(100000)
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreName:             getEnv("STORE_NAME", "TokoKasir"),
		TaxRatePercent:        tax,
		ActiveDiscount:        strings.TrimSpace(os.Getenv("ACTIVE_DISCOUNT")),
		BatchDiscounts:        getBool("BATCH_DISCOUNTS", true),
		SkipExpired:           getBool("SKIP_EXPIRED_BATCHES", false),
		ReceiptDir:            getEnv("RECEIPT_DIR", "receipts"),
		ReceiptESCPOS:         getBool("RECEIPT_ESCPOS", false),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ItemCacheTTLSeconds:   itemTTL,
		NodeID:                nodeID,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		CashMaxTender:         maxTender,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}
