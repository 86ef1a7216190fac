// Package appconfig loads OakView's tunable defaults from environment
// variables, in the shape of the teacher's config/config.go: godotenv for
// an optional .env file, then getEnv*-style helpers with sane defaults so
// the zero-config case (a host page that just drops the widget in) still
// works.
package appconfig

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds OakView's environment-derived defaults. Everything here is a
// starting point the host page's attributes (spec §6) can override at
// runtime; nothing here is required.
type Config struct {
	// DefaultSymbol seeds a newly-created pane with no prior config.
	DefaultSymbol string
	// DefaultInterval seeds a newly-created pane with no prior config.
	DefaultInterval string
	// DefaultLayout seeds the coordinator on first run (before any
	// persisted config is found).
	DefaultLayout string
	// ShowFormingBar controls whether partial in-flight bars are forwarded
	// to panes as a distinct non-finalized update (see SPEC_FULL.md Open
	// Questions).
	ShowFormingBar bool

	// ConfigStoreKey names the single key/value blob (spec §4.6/§6).
	ConfigStoreKey string
	// ConfigStoreBackend selects the configstore.Store implementation:
	// "file" (default) or "redis".
	ConfigStoreBackend string
	// ConfigStoreDir is the directory a file-backed ConfigStore writes
	// under.
	ConfigStoreDir string

	Redis RedisConfig

	// ProviderWSURL is the websocket endpoint the reference wsprovider
	// dials for historical data requests.
	ProviderWSURL string

	// TelemetryAddr, if non-empty, is the listen address for the
	// Prometheus /metrics endpoint the host process exposes.
	TelemetryAddr string
}

// RedisConfig configures the optional Redis-backed ConfigStore and the
// reference websocket provider's pub/sub fan-in.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment (and an optional .env file
// in the working directory, ignored if absent).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DefaultSymbol:   getEnv("OAKVIEW_DEFAULT_SYMBOL", "AAPL"),
		DefaultInterval: getEnv("OAKVIEW_DEFAULT_INTERVAL", "1D"),
		DefaultLayout:   getEnv("OAKVIEW_DEFAULT_LAYOUT", "single"),
		ShowFormingBar:  getEnvAsBool("OAKVIEW_SHOW_FORMING_BAR", true),
		ConfigStoreKey:     getEnv("OAKVIEW_CONFIG_STORE_KEY", "oakview.layout.v1"),
		ConfigStoreBackend: getEnv("OAKVIEW_CONFIG_STORE_BACKEND", "file"),
		ConfigStoreDir:     getEnv("OAKVIEW_CONFIG_STORE_DIR", "./oakview-config"),
		Redis: RedisConfig{
			Addr:     getEnv("OAKVIEW_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("OAKVIEW_REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("OAKVIEW_REDIS_DB", 0),
		},
		ProviderWSURL: getEnv("OAKVIEW_PROVIDER_WS_URL", "ws://localhost:8080/oakview/ws"),
		TelemetryAddr: getEnv("OAKVIEW_TELEMETRY_ADDR", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return defaultVal
	}
	return v
}
