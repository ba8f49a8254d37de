package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBaseURL == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load defaults ---

func TestLoad_Defaults_DeriveWSAndMedia(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8000/api/v1" {
		t.Fatalf("APIBaseURL default = %q", cfg.APIBaseURL)
	}
	if cfg.WSURL != "ws://localhost:8000/api/v1/ws" {
		t.Fatalf("WSURL should be derived from API base, got %q", cfg.WSURL)
	}
	if cfg.MediaOrigin != "http://localhost:8000" {
		t.Fatalf("MediaOrigin should be API origin, got %q", cfg.MediaOrigin)
	}
	if cfg.HistoryLimit != 50 || cfg.SimilarThreshold != 0.32 {
		t.Fatalf("chat/similar defaults unexpected: %+v", cfg)
	}
	if cfg.RenewTimeout != 10*time.Second || cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("timeout defaults unexpected: %+v", cfg)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_Overrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://lf.example.edu/api/v1/")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("RENEW_TIMEOUT", "1s")
	t.Setenv("CONNECT_TIMEOUT", "3s")
	t.Setenv("WRITE_TIMEOUT", "4s")
	t.Setenv("STATE_PATH", "state.sqlite")
	t.Setenv("PROFILE", "alice")
	t.Setenv("SEND_RPS", "x")    // -> default 5.0
	t.Setenv("SEND_BURST", "no") // -> default 10
	t.Setenv("HISTORY_LIMIT", "20")
	t.Setenv("LOG_LEVEL", "warning") // -> "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("GIN_MODE", "weird") // -> "release"
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.APIBaseURL != "https://lf.example.edu/api/v1" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.APIBaseURL)
	}
	if cfg.WSURL != "wss://lf.example.edu/api/v1/ws" {
		t.Fatalf("https base should derive wss, got %q", cfg.WSURL)
	}
	if cfg.RequestTimeout != 2*time.Second || cfg.RenewTimeout != time.Second ||
		cfg.ConnectTimeout != 3*time.Second || cfg.WriteTimeout != 4*time.Second {
		t.Fatalf("timeouts unexpected: %+v", cfg)
	}
	if cfg.StatePath != "state.sqlite" || cfg.Profile != "alice" {
		t.Fatalf("state unexpected: %+v", cfg)
	}
	if cfg.SendRPS != 5.0 || cfg.SendBurst != 10 || cfg.HistoryLimit != 20 {
		t.Fatalf("chat unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}
	if cfg.FakeAPI.GinMode != "release" {
		t.Fatalf("gin mode not normalized: %q", cfg.FakeAPI.GinMode)
	}
	if want := []string{"https://a.com", "http://b"}; !reflect.DeepEqual(cfg.FakeAPI.CORS.AllowedOrigins, want) {
		t.Fatalf("CORS origins = %#v", cfg.FakeAPI.CORS.AllowedOrigins)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]struct {
		key, val, want string
	}{
		"invalid LOG_LEVEL":        {"LOG_LEVEL", "verbose", "LOG_LEVEL"},
		"relative API_BASE_URL":    {"API_BASE_URL", "/api/v1", "API_BASE_URL"},
		"ftp API_BASE_URL":         {"API_BASE_URL", "ftp://x/api", "API_BASE_URL"},
		"http WS_URL":              {"WS_URL", "http://x/ws", "WS_URL"},
		"non-positive timeout":     {"RENEW_TIMEOUT", "0s", "timeouts must be positive"},
		"empty STATE_PATH":         {"STATE_PATH", "   ", "STATE_PATH must not be empty"},
		"empty PROFILE":            {"PROFILE", "  ", "PROFILE must not be empty"},
		"negative SEND_RPS":        {"SEND_RPS", "-1", "SEND_RPS"},
		"SEND_BURST < 1":           {"SEND_BURST", "0", "SEND_BURST"},
		"HISTORY_LIMIT too large":  {"HISTORY_LIMIT", "501", "HISTORY_LIMIT"},
		"SIMILAR_LIMIT < 1":        {"SIMILAR_LIMIT", "0", "SIMILAR_LIMIT"},
		"threshold out of range":   {"SIMILAR_THRESHOLD", "1.5", "SIMILAR_THRESHOLD"},
		"otel ratio out of range":  {"OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
		"non-positive access ttl":  {"FAKEAPI_ACCESS_TTL", "-1s", "TTLs"},
		"negative RATE_RPS":        {"RATE_RPS", "-2", "RATE_RPS"},
		"fake backend burst < 1":   {"RATE_BURST", "0", "RATE_BURST"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %q validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- .env loading ---

func TestLoadDotEnv_ReadsFileAndIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	if err := os.WriteFile(p, []byte("LF_DOTENV_SAMPLE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("LF_DOTENV_SAMPLE", "")
	os.Unsetenv("LF_DOTENV_SAMPLE")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("LF_DOTENV_SAMPLE"); got != "from-file" {
		t.Fatalf("LF_DOTENV_SAMPLE = %q", got)
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	if err := os.WriteFile(p, []byte("LF_DOTENV_KEEP=file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("LF_DOTENV_KEEP", "process")
	if err := LoadDotEnv(p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("LF_DOTENV_KEEP"); got != "process" {
		t.Fatalf("existing variable overridden: %q", got)
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}
	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}
	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on"} {
		t.Setenv("B_T", v)
		if !getbool("B_T", false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for _, v := range []string{"0", "false", " no ", "N", "off"} {
		t.Setenv("B_F", v)
		if getbool("B_F", true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_deriveWSURL_originOf(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: %#v", got)
	}
	if got := deriveWSURL("http://h:1/api"); got != "ws://h:1/api/ws" {
		t.Fatalf("deriveWSURL = %q", got)
	}
	if got := originOf("https://h/x/y"); got != "https://h" {
		t.Fatalf("originOf = %q", got)
	}
	if got := originOf("/relative"); got != "" {
		t.Fatalf("originOf relative = %q", got)
	}
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
