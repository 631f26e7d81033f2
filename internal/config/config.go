package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL string
	APITimeout time.Duration

	StorageBackend string
	StoragePath    string
	RedisAddr      string
	RedisPassword  string
	RedisPrefix    string

	ToastTTL        time.Duration
	ToastFailureOps string

	ProfilePlaceholder string
	DevicePlaceholder  string

	LogLevel  string
	LogFormat string
	LogFile   string

	WebAddr      string
	TwinAddr     string
	TwinSecret   string
	TwinSeedFile string
}

var defaults = map[string]any{
	"api.base_url":               "http://127.0.0.1:5000",
	"api.timeout":                30 * time.Second,
	"storage.backend":            "file",
	"storage.path":               defaultStoragePath(),
	"storage.redis_addr":         "127.0.0.1:6379",
	"storage.redis_password":     "",
	"storage.redis_prefix":       "ecodispose:",
	"toast.ttl":                  5 * time.Second,
	"toast.failure_ops":          "register device.add device.update device.delete",
	"assets.profile_placeholder": "/Eco-Dispose/assets/placeholder.png",
	"assets.device_placeholder":  "/Eco-Dispose/assets/devices/device.png",
	"log.level":                  "info",
	"log.format":                 "text",
	"log.file":                   "",
	"web.addr":                   ":8090",
	"twin.addr":                  ":5000",
	"twin.secret":                "dev",
	"twin.seed_file":             "",
}

// Load reads defaults, then an optional YAML file named by ECO_CONFIG_FILE,
// then ECO_* environment variables (api.base_url -> ECO_API_BASE_URL).
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("eco")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("ECO_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	return Config{
		APIBaseURL:         strings.TrimRight(v.GetString("api.base_url"), "/"),
		APITimeout:         getDuration(v, "api.timeout"),
		StorageBackend:     strings.ToLower(v.GetString("storage.backend")),
		StoragePath:        v.GetString("storage.path"),
		RedisAddr:          v.GetString("storage.redis_addr"),
		RedisPassword:      v.GetString("storage.redis_password"),
		RedisPrefix:        v.GetString("storage.redis_prefix"),
		ToastTTL:           getDuration(v, "toast.ttl"),
		ToastFailureOps:    v.GetString("toast.failure_ops"),
		ProfilePlaceholder: v.GetString("assets.profile_placeholder"),
		DevicePlaceholder:  v.GetString("assets.device_placeholder"),
		LogLevel:           v.GetString("log.level"),
		LogFormat:          v.GetString("log.format"),
		LogFile:            v.GetString("log.file"),
		WebAddr:            v.GetString("web.addr"),
		TwinAddr:           v.GetString("twin.addr"),
		TwinSecret:         v.GetString("twin.secret"),
		TwinSeedFile:       v.GetString("twin.seed_file"),
	}, nil
}

// getDuration keeps the *_SECONDS integer override next to the duration syntax.
func getDuration(v *viper.Viper, key string) time.Duration {
	envKey := "ECO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if os.Getenv(envKey) == "" {
		if val := os.Getenv(envKey + "_SECONDS"); val != "" {
			if seconds, err := strconv.Atoi(val); err == nil {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return v.GetDuration(key)
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ecodispose"
	}
	return filepath.Join(home, ".ecodispose")
}
