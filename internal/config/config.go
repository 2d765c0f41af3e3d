// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds settings shared by the supervisor, relay server, and watcher
// processes. All processes load the same environment so a watcher spawned by
// the supervisor sees an identical view.
type Config struct {
	// Paths
	StateDir    string // mode record, provisioned folder reference
	OverflowDir string // local archive for files that cannot be relayed
	SocketPath  string // relay hub Unix socket

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsAddr string

	// Sync behavior
	DefaultMode     string // initial mode when no mode record exists
	PollInterval    time.Duration
	MaxInFlight     int
	BatchTimeout    time.Duration
	FileTimeout     time.Duration
	DeleteOnConfirm bool

	// Ledger ack timeouts by file-size class
	AckTimeoutSmall time.Duration
	AckTimeoutLarge time.Duration
	LargeFileBytes  int64

	// Dedup
	MaxKnownFiles  int
	FingerprintTTL time.Duration

	// Conversion policy
	MaxAnimatedBytes int64
	MaxImageDim      int
	JpegQuality      int

	// Remote folder provisioning
	RemoteRoot   string // root folder/prefix on the backend
	FolderPrefix string // provisioned folder is <root>/<prefix>-<user>
	UserIdentity string

	// S3 backend
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UsePath   bool

	// SMB backend (share must be pre-mounted)
	SMBMountPath string

	// Local backend
	LocalWatchDir  string
	WriteStability time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	home, _ := os.UserHomeDir()
	baseDir := envOr("SHOTRELAY_DIR", filepath.Join(home, ".shotrelay"))

	cfg := &Config{
		StateDir:    envOr("SHOTRELAY_STATE_DIR", filepath.Join(baseDir, "state")),
		OverflowDir: envOr("SHOTRELAY_OVERFLOW_DIR", filepath.Join(baseDir, "overflow")),
		SocketPath:  envOr("SHOTRELAY_SOCKET", filepath.Join(baseDir, "relay.sock")),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),

		MetricsAddr: envOr("METRICS_ADDR", ":9311"),

		DefaultMode:     envOr("SHOTRELAY_MODE", "local"),
		PollInterval:    envDuration("SHOTRELAY_POLL_INTERVAL", 15*time.Second),
		MaxInFlight:     envInt("SHOTRELAY_MAX_IN_FLIGHT", 3),
		BatchTimeout:    envDuration("SHOTRELAY_BATCH_TIMEOUT", 5*time.Minute),
		FileTimeout:     envDuration("SHOTRELAY_FILE_TIMEOUT", 60*time.Second),
		DeleteOnConfirm: envBool("SHOTRELAY_DELETE_ON_CONFIRM", true),

		AckTimeoutSmall: envDuration("SHOTRELAY_ACK_TIMEOUT_SMALL", 30*time.Second),
		AckTimeoutLarge: envDuration("SHOTRELAY_ACK_TIMEOUT_LARGE", 120*time.Second),
		LargeFileBytes:  envInt64("SHOTRELAY_LARGE_FILE_BYTES", 8*1024*1024),

		MaxKnownFiles:  envInt("SHOTRELAY_MAX_KNOWN_FILES", 10000),
		FingerprintTTL: envDuration("SHOTRELAY_FINGERPRINT_TTL", 30*time.Second),

		MaxAnimatedBytes: envInt64("SHOTRELAY_MAX_ANIMATED_BYTES", 100*1024*1024),
		MaxImageDim:      envInt("SHOTRELAY_MAX_IMAGE_DIM", 1600),
		JpegQuality:      envInt("SHOTRELAY_JPEG_QUALITY", 85),

		RemoteRoot:   envOr("SHOTRELAY_REMOTE_ROOT", "shotrelay"),
		FolderPrefix: envOr("SHOTRELAY_FOLDER_PREFIX", "inbox"),
		UserIdentity: envOr("SHOTRELAY_USER", defaultUser()),

		S3Endpoint:  envOr("S3_ENDPOINT", ""),
		S3Bucket:    envOr("S3_BUCKET", ""),
		S3AccessKey: envOr("S3_ACCESS_KEY", ""),
		S3SecretKey: envOr("S3_SECRET_KEY", ""),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		S3UsePath:   envBool("S3_USE_PATH_STYLE", true),

		SMBMountPath: envOr("SMB_MOUNT_PATH", ""),

		LocalWatchDir:  envOr("SHOTRELAY_LOCAL_DIR", filepath.Join(home, "Desktop")),
		WriteStability: envDuration("SHOTRELAY_WRITE_STABILITY", 2500*time.Millisecond),
	}

	if cfg.MaxInFlight < 1 {
		return nil, fmt.Errorf("SHOTRELAY_MAX_IN_FLIGHT must be at least 1, got %d", cfg.MaxInFlight)
	}
	if cfg.UserIdentity == "" {
		return nil, fmt.Errorf("SHOTRELAY_USER is required (could not derive a user identity)")
	}

	return cfg, nil
}

// ValidateForMode checks the settings a specific backend mode requires.
// Called by the watcher at startup; failures are configuration faults.
func (c *Config) ValidateForMode(mode string) error {
	switch mode {
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for s3 mode")
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required for s3 mode")
		}
	case "smb":
		if c.SMBMountPath == "" {
			return fmt.Errorf("SMB_MOUNT_PATH is required for smb mode")
		}
	case "local":
		if c.LocalWatchDir == "" {
			return fmt.Errorf("SHOTRELAY_LOCAL_DIR is required for local mode")
		}
	default:
		return fmt.Errorf("unknown sync mode %q", mode)
	}
	return nil
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
