package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendRedis     = "redis"

	MediaDevices   = "devices"
	MediaSynthetic = "synthetic"
)

// DefaultSTUNURLs are the public Google STUN servers.
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type Config struct {
	HTTPAddr  string
	StaticDir string
	UserID    string

	SignalBackend string
	MediaSource   string

	FirebaseProjectID       string
	FirebaseCredentialsPath string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	STUNURLs []string
	// Contacts seeds the in-memory directory: uid to display name.
	Contacts map[string]string

	RingTimeout    time.Duration
	ConnectTimeout time.Duration
	LookupTimeout  time.Duration

	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepAliveInterval   time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var errs []error
	dur := func(key string, def time.Duration) time.Duration {
		d, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		HTTPAddr:  getString("HTTP_ADDR", ":8080"),
		StaticDir: getString("STATIC_DIR", "./static"),
		UserID:    getString("USER_ID", ""),

		SignalBackend: strings.ToLower(getString("SIGNAL_BACKEND", BackendMemory)),
		MediaSource:   strings.ToLower(getString("MEDIA_SOURCE", MediaDevices)),

		FirebaseProjectID:       getString("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsPath: firstNonEmpty(os.Getenv("FIREBASE_CREDENTIALS_PATH"), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		RedisAddr:      getString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getString("REDIS_PASSWORD", ""),
		RedisDB:        redisDB,
		RedisKeyPrefix: getString("REDIS_KEY_PREFIX", "call:"),

		STUNURLs: splitAndClean(os.Getenv("STUN_URLS")),
		Contacts: parseContacts(os.Getenv("CONTACTS")),

		RingTimeout:    dur("CALL_RING_TIMEOUT", 45*time.Second),
		ConnectTimeout: dur("CALL_CONNECT_TIMEOUT", 30*time.Second),
		LookupTimeout:  dur("DIRECTORY_LOOKUP_TIMEOUT", 3*time.Second),

		ICEDisconnectedTimeout: dur("ICE_DISCONNECTED_TIMEOUT", 5*time.Second),
		ICEFailedTimeout:       dur("ICE_FAILED_TIMEOUT", 25*time.Second),
		ICEKeepAliveInterval:   dur("ICE_KEEPALIVE_INTERVAL", 2*time.Second),

		LogLevel:  strings.ToLower(getString("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getString("LOG_FORMAT", "console")),
	}
	if len(cfg.STUNURLs) == 0 {
		cfg.STUNURLs = append([]string(nil), DefaultSTUNURLs...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if c.UserID == "" {
		errs = append(errs, errors.New("USER_ID is required"))
	}
	switch c.SignalBackend {
	case BackendMemory, BackendRedis:
	case BackendFirestore:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsPath == "" {
			errs = append(errs, errors.New("firestore backend needs FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SIGNAL_BACKEND %q", c.SignalBackend))
	}
	switch c.MediaSource {
	case MediaDevices, MediaSynthetic:
	default:
		errs = append(errs, fmt.Errorf("unknown MEDIA_SOURCE %q", c.MediaSource))
	}
	for _, u := range c.STUNURLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			errs = append(errs, fmt.Errorf("STUN_URLS entry %q is not a stun: url", u))
		}
	}
	if c.RingTimeout <= 0 || c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("call timeouts must be positive"))
	}
	return errors.Join(errs...)
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := getString(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := getString(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitAndClean(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseContacts reads "uid=Display Name,uid2=Other".
func parseContacts(csv string) map[string]string {
	out := make(map[string]string)
	for _, entry := range splitAndClean(csv) {
		id, name, _ := strings.Cut(entry, "=")
		if id = strings.TrimSpace(id); id != "" {
			out[id] = strings.TrimSpace(name)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
