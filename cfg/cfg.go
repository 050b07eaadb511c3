package cfg

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port             string
	Environment      string
	LogLevel         string
	StoreDriver      string
	DatabasePath     string
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBQueryTimeout   time.Duration
	RedisURL         string
	RedisUsername    string
	RedisPassword    Secret
	RedisTimeout     time.Duration
	LRUCacheSize     int
	CacheTTL         time.Duration
	RateLimit        RateLimitCfg
	TrustedProxies   []string
	MetricsUser      string
	MetricsPass      Secret
	ContextTimeout   time.Duration
	AllowedOrigins   []string
	ReaperInterval   time.Duration
	FingerprintKey   Secret
	ListLimit        int
	SearchLimit      int
	DeleteMinLatency time.Duration
}

type RateLimitCfg struct {
	RPM               int
	Burst             int
	ConservativeLimit int
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite))
	c.DatabasePath = getEnv("DATABASE_PATH", "binpastes.db")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.FingerprintKey = NewSecret(getEnv("FINGERPRINT_KEY", ""))
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})

	var err error
	ints := []struct {
		key      string
		dst      *int
		fallback int
	}{
		{"DB_MAX_OPEN_CONNS", &c.DBMaxOpenConns, 100},
		{"DB_MAX_IDLE_CONNS", &c.DBMaxIdleConns, 10},
		{"LRU_CACHE_SIZE", &c.LRUCacheSize, 1000},
		{"RATE_LIMIT_RPM", &c.RateLimit.RPM, 600},
		{"RATE_LIMIT_BURST", &c.RateLimit.Burst, 20},
		{"RATE_LIMIT_CONSERVATIVE", &c.RateLimit.ConservativeLimit, 60},
		{"LIST_LIMIT", &c.ListLimit, 100},
		{"SEARCH_LIMIT", &c.SearchLimit, 50},
	}
	for _, v := range ints {
		if *v.dst, err = getInt(v.key, v.fallback); err != nil {
			return nil, err
		}
	}
	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"DB_QUERY_TIMEOUT", &c.DBQueryTimeout, 5 * time.Second},
		{"REDIS_TIMEOUT", &c.RedisTimeout, 2 * time.Second},
		{"CACHE_TTL", &c.CacheTTL, 30 * time.Second},
		{"CONTEXT_TIMEOUT", &c.ContextTimeout, 5 * time.Second},
		{"REAPER_INTERVAL", &c.ReaperInterval, 10 * time.Minute},
		{"DELETE_MIN_LATENCY", &c.DeleteMinLatency, 50 * time.Millisecond},
	}
	for _, v := range durations {
		if *v.dst, err = getDuration(v.key, v.fallback); err != nil {
			return nil, err
		}
	}
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	switch c.StoreDriver {
	case StoreSQLite, StoreBolt:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreSQLite, StoreBolt)
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.DatabasePath != ":memory:" {
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		absWorkDir, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		absDBPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PATH: %w", err)
		}
		if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) {
			return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.CacheTTL <= 0 || c.CacheTTL > time.Hour {
		return errors.New("CACHE_TTL must be positive and at most 1h")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.ConservativeLimit <= 0 {
		return errors.New("RATE_LIMIT_CONSERVATIVE must be positive")
	}
	if c.ListLimit <= 0 || c.SearchLimit <= 0 {
		return errors.New("LIST_LIMIT and SEARCH_LIMIT must be positive")
	}
	if c.ReaperInterval < time.Second {
		return errors.New("REAPER_INTERVAL must be at least 1s")
	}
	if c.DeleteMinLatency < 0 || c.DeleteMinLatency > time.Second {
		return errors.New("DELETE_MIN_LATENCY must be between 0 and 1s")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if n := len(c.FingerprintKey.Value()); n < 16 || n > 64 {
		return errors.New("FINGERPRINT_KEY must be between 16 and 64 bytes")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.FingerprintKey.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
