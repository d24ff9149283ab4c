package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string // empty disables SMS delivery

	RedisAddr     string // empty disables per-email throttling
	RedisPassword string
	RedisDB       int

	Codes     CodeConfig
	Documents DocumentConfig

	RequestTimeout time.Duration
	NotifyTimeout  time.Duration
	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users             string
	RoleAssignments   string
	VerificationCodes string
	Documents         string
}

// CodeConfig controls verification code issuance and throttling.
type CodeConfig struct {
	Pepper       string // HMAC key for stored code hashes
	SignupTTL    time.Duration
	ResetTTL     time.Duration
	ClaimLease   time.Duration
	RequestLimit int // code requests per email per window
	AttemptLimit int // code submissions per email per window
	MaxAttempts  int // wrong submissions before a live code is locked
	Window       time.Duration
}

// DocumentConfig controls KYC object storage and grant lifetimes.
type DocumentConfig struct {
	Bucket         string
	Prefix         string
	MaxUploadBytes int64
	ReadDefaultTTL time.Duration
	ReadMaxTTL     time.Duration
	WriteTTL       time.Duration
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:             getEnv("DYNAMO_TABLE_USERS", "users"),
			RoleAssignments:   getEnv("DYNAMO_TABLE_ROLE_ASSIGNMENTS", "role_assignments"),
			VerificationCodes: getEnv("DYNAMO_TABLE_VERIFICATION_CODES", "verification_codes"),
			Documents:         getEnv("DYNAMO_TABLE_DOCUMENTS", "kyc_documents"),
		},

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		Codes: CodeConfig{
			Pepper:       getEnv("CODE_PEPPER", ""),
			SignupTTL:    getEnvDuration("SIGNUP_CODE_TTL", 30*time.Minute),
			ResetTTL:     getEnvDuration("RESET_CODE_TTL", 15*time.Minute),
			ClaimLease:   getEnvDuration("CODE_CLAIM_LEASE", 30*time.Second),
			RequestLimit: getEnvInt("CODE_REQUEST_LIMIT", 5),
			AttemptLimit: getEnvInt("CODE_ATTEMPT_LIMIT", 10),
			MaxAttempts:  getEnvInt("CODE_MAX_ATTEMPTS", 5),
			Window:       getEnvDuration("THROTTLE_WINDOW", 15*time.Minute),
		},
		Documents: DocumentConfig{
			Bucket:         getEnv("KYC_BUCKET", "kyc-documents"),
			Prefix:         getEnv("KYC_PREFIX", "kyc"),
			MaxUploadBytes: int64(getEnvInt("KYC_MAX_UPLOAD_BYTES", 10<<20)),
			ReadDefaultTTL: getEnvDuration("READ_GRANT_DEFAULT_TTL", 15*time.Minute),
			ReadMaxTTL:     getEnvDuration("READ_GRANT_MAX_TTL", time.Hour),
			WriteTTL:       getEnvDuration("WRITE_GRANT_TTL", 10*time.Minute),
		},

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		NotifyTimeout:  getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// Validate rejects settings that break the code lease: a request that
// outlives its claim could consume a code another caller has since leased.
func (c *Config) Validate() error {
	if c.Codes.ClaimLease <= c.RequestTimeout {
		return fmt.Errorf("CODE_CLAIM_LEASE (%s) must exceed REQUEST_TIMEOUT (%s)", c.Codes.ClaimLease, c.RequestTimeout)
	}
	if c.Codes.MaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be at least 1, got %d", c.Codes.MaxAttempts)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("15m", "1h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
