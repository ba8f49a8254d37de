// Package config provides client configuration loaded from environment
// variables with defaults and validation. It centralizes the settings of the
// lost & found client: API and realtime endpoints, timeouts, local state,
// chat pacing, logging, observability, and the local fake backend.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings of the fake backend.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "lostfound-client")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// FakeAPIConfig configures the in-process backend used for local runs and tests.
type FakeAPIConfig struct {
	Addr       string        // FAKEAPI_ADDR, e.g. ":8000"
	DBPath     string        // FAKEAPI_DB_PATH; empty means in-memory
	AccessTTL  time.Duration // FAKEAPI_ACCESS_TTL
	RefreshTTL time.Duration // FAKEAPI_REFRESH_TTL
	GinMode    string        // debug|release|test
	RateRPS    float64       // tokens per second (>= 0)
	RateBurst  int           // bucket size (>= 1)
	CORS       CORSConfig
}

// Config holds all configuration values for the client.
type Config struct {
	// Endpoints
	APIBaseURL  string // REST base, e.g. http://localhost:8000/api/v1
	WSURL       string // realtime endpoint, e.g. ws://localhost:8000/api/v1/ws
	MediaOrigin string // origin prepended to relative media paths

	// Timeouts
	RequestTimeout time.Duration // per REST call
	RenewTimeout   time.Duration // token renewal
	ConnectTimeout time.Duration // realtime dial + join + history
	WriteTimeout   time.Duration // realtime frame write

	// Local state
	StatePath string // SQLite file holding the credential and cookie jar
	Profile   string // credential row key

	// Chat
	SendRPS      float64 // outgoing messages per second (>= 0, 0 disables pacing)
	SendBurst    int     // bucket size (>= 1)
	HistoryLimit int     // REST history page size

	// Similar items
	SimilarLimit     int     // max matches requested
	SimilarThreshold float64 // score at which a match counts as strong [0,1]

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs

	// Observability
	MetricsAddr string // optional listen address for /metrics
	OTEL        OTELConfig

	FakeAPI FakeAPIConfig
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values that are already set. Missing files
// are ignored. With no arguments it reads ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Endpoints
		APIBaseURL:  trimSlash(getenv("API_BASE_URL", "http://localhost:8000/api/v1")),
		WSURL:       getenv("WS_URL", ""),
		MediaOrigin: trimSlash(getenv("MEDIA_ORIGIN", "")),

		// Timeouts
		RequestTimeout: getdur("REQUEST_TIMEOUT", 15*time.Second),
		RenewTimeout:   getdur("RENEW_TIMEOUT", 10*time.Second),
		ConnectTimeout: getdur("CONNECT_TIMEOUT", 10*time.Second),
		WriteTimeout:   getdur("WRITE_TIMEOUT", 5*time.Second),

		// Local state
		StatePath: getenv("STATE_PATH", "lostfound.db"),
		Profile:   getenv("PROFILE", "default"),

		// Chat
		SendRPS:      getfloat("SEND_RPS", 5.0),
		SendBurst:    getint("SEND_BURST", 10),
		HistoryLimit: getint("HISTORY_LIMIT", 50),

		// Similar items
		SimilarLimit:     getint("SIMILAR_LIMIT", 6),
		SimilarThreshold: getfloat("SIMILAR_THRESHOLD", 0.32),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Observability
		MetricsAddr: getenv("METRICS_ADDR", ""),
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "lostfound-client"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		FakeAPI: FakeAPIConfig{
			Addr:       getenv("FAKEAPI_ADDR", ":8000"),
			DBPath:     getenv("FAKEAPI_DB_PATH", ""),
			AccessTTL:  getdur("FAKEAPI_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: getdur("FAKEAPI_REFRESH_TTL", 7*24*time.Hour),
			GinMode:    strings.ToLower(getenv("GIN_MODE", "release")),
			RateRPS:    getfloat("RATE_RPS", 20.0),
			RateBurst:  getint("RATE_BURST", 40),
			CORS: CORSConfig{
				AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
			},
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.FakeAPI.GinMode {
	case "debug", "release", "test":
	default:
		cfg.FakeAPI.GinMode = "release"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.APIBaseURL)
	}
	if cfg.MediaOrigin == "" {
		cfg.MediaOrigin = originOf(cfg.APIBaseURL)
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return cfg, errors.New("API_BASE_URL must be an absolute http(s) URL")
	}
	if u, err := url.Parse(cfg.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return cfg, errors.New("WS_URL must be an absolute ws(s) URL")
	}
	if cfg.RequestTimeout <= 0 || cfg.RenewTimeout <= 0 || cfg.ConnectTimeout <= 0 || cfg.WriteTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		return cfg, errors.New("STATE_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Profile) == "" {
		return cfg, errors.New("PROFILE must not be empty")
	}
	if cfg.SendRPS < 0 {
		return cfg, errors.New("SEND_RPS must be >= 0")
	}
	if cfg.SendBurst < 1 {
		return cfg, errors.New("SEND_BURST must be >= 1")
	}
	if cfg.HistoryLimit < 1 || cfg.HistoryLimit > 500 {
		return cfg, errors.New("HISTORY_LIMIT must be between 1 and 500")
	}
	if cfg.SimilarLimit < 1 {
		return cfg, errors.New("SIMILAR_LIMIT must be >= 1")
	}
	if cfg.SimilarThreshold < 0 || cfg.SimilarThreshold > 1 {
		return cfg, errors.New("SIMILAR_THRESHOLD must be between 0 and 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.FakeAPI.AccessTTL <= 0 || cfg.FakeAPI.RefreshTTL <= 0 {
		return cfg, errors.New("FAKEAPI token TTLs must be positive durations")
	}
	if cfg.FakeAPI.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.FakeAPI.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func trimSlash(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

// deriveWSURL maps http(s)://host/base to ws(s)://host/base/ws.
func deriveWSURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// originOf returns scheme://host of an absolute URL, or "" if it has none.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
