package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vitalscore/internal/crypto"
	"vitalscore/internal/scoring"
)

type Config struct {
	Env               string
	LogLevel          string
	Port              string
	DatabaseURL       string
	JWTSecret         string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CohortWorkers     int
	CohortTimeout     time.Duration
	ReportCacheTTL    time.Duration
	ScoringPolicyFile string
	// NotesKey is a base64 AES-256 key for check-in notes. Empty stores
	// notes as plaintext.
	NotesKey string
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// Load reads configuration from the environment, after loading a .env file
// if one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{
		Env:               getenv("APP_ENV", "production"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		Port:              getenv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		ScoringPolicyFile: os.Getenv("SCORING_POLICY_FILE"),
		NotesKey:          os.Getenv("NOTES_ENCRYPTION_KEY"),
	}
	var err error
	if c.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return c, err
	}
	if c.CohortWorkers, err = intEnv("COHORT_WORKERS", 8); err != nil {
		return c, err
	}
	if c.CohortTimeout, err = durationEnv("COHORT_TIMEOUT", 10*time.Second); err != nil {
		return c, err
	}
	if c.ReportCacheTTL, err = durationEnv("REPORT_CACHE_TTL", 5*time.Minute); err != nil {
		return c, err
	}
	if c.CohortWorkers <= 0 {
		return c, fmt.Errorf("COHORT_WORKERS must be positive, got %d", c.CohortWorkers)
	}
	return c, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (c Config) IsDevelopment() bool { return c.Env == "development" }

// Policy returns the scoring policy from ScoringPolicyFile, or the default
// policy when no file is configured.
func (c Config) Policy() (scoring.Policy, error) {
	if c.ScoringPolicyFile == "" {
		return scoring.DefaultPolicy(), nil
	}
	return scoring.LoadPolicy(c.ScoringPolicyFile)
}

// NotesSealer returns nil when no key is configured.
func (c Config) NotesSealer() (*crypto.Sealer, error) {
	if c.NotesKey == "" {
		return nil, nil
	}
	s, err := crypto.NewSealerFromBase64(c.NotesKey)
	if err != nil {
		return nil, fmt.Errorf("NOTES_ENCRYPTION_KEY: %w", err)
	}
	return s, nil
}

func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
