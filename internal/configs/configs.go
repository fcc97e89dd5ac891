/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures the relay server by reading operating system environment variables,
including the running environment, the control/side/stream/admin ports, TLS material,
protocol buffer sizes, and the capacity limits of the registry, worker pool and task queue.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// QueuePolicy selects what the acceptor does when the task queue is full.
type QueuePolicy string

const (
	// QueuePolicyReject answers "queue full" and closes the connection immediately.
	QueuePolicyReject QueuePolicy = "reject"

	// QueuePolicyBlock makes the acceptor wait until a worker frees a slot.
	QueuePolicyBlock QueuePolicy = "block"
)

// signalSize is the fixed width of the envelope signal field.
const signalSize = 32

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Host        string
	ServerPort  int
	SidePort    int
	StreamPort  int
	AdminPort   int

	// TLS Settings
	TLSCertFile string
	TLSKeyFile  string

	// Protocol Settings
	BufferSize int
	MaxName    int

	// Capacity Settings
	MaxUsers    int
	MaxOnline   int
	QueueSize   int
	QueuePolicy QueuePolicy

	// MaxHandshakes bounds the TLS handshakes of new control connections in flight.
	MaxHandshakes int

	// Timing Settings
	HandshakeTimeout    time.Duration
	StreamAcceptTimeout time.Duration
	StreamFrameInterval time.Duration

	// Streaming Settings
	MediaDir string

	// Admission Settings
	AcceptRate  float64
	AcceptBurst int

	// Admin HTTP Settings
	AllowedOrigins []string
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// Default returns the development configuration without reading the environment.
func Default() *AppConfig {
	return &AppConfig{
		Environment:         "development",
		Host:                "0.0.0.0",
		ServerPort:          9530,
		SidePort:            9531,
		StreamPort:          9532,
		AdminPort:           8080,
		BufferSize:          1024,
		MaxName:             16,
		MaxUsers:            20,
		MaxOnline:           10,
		QueueSize:           20,
		QueuePolicy:         QueuePolicyReject,
		MaxHandshakes:       64,
		HandshakeTimeout:    10 * time.Second,
		StreamAcceptTimeout: 10 * time.Second,
		StreamFrameInterval: time.Millisecond,
		MediaDir:            ".",
		AcceptBurst:         10,
		AllowedOrigins:      []string{},
	}
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
// It returns a pointer to the AppConfig struct and any error encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := Default()
	var err error

	// --- General Server Settings ---
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Host = host
	}

	if cfg.ServerPort, err = intEnv("SERVER_PORT", cfg.ServerPort); err != nil {
		return nil, err
	}
	if cfg.SidePort, err = intEnv("SIDE_PORT", cfg.SidePort); err != nil {
		return nil, err
	}
	if cfg.StreamPort, err = intEnv("STREAM_PORT", cfg.StreamPort); err != nil {
		return nil, err
	}
	if cfg.AdminPort, err = intEnv("ADMIN_PORT", cfg.AdminPort); err != nil {
		return nil, err
	}

	// --- TLS Settings ---
	cfg.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	if !cfg.IsDevelopment() && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE environment variables are required in %s environment", cfg.Environment)
	}

	// --- Protocol Settings ---
	if cfg.BufferSize, err = intEnv("BUFFER_SIZE", cfg.BufferSize); err != nil {
		return nil, err
	}
	if cfg.MaxName, err = intEnv("MAX_NAME", cfg.MaxName); err != nil {
		return nil, err
	}

	// --- Capacity Settings ---
	if cfg.MaxUsers, err = intEnv("MAX_USERS", cfg.MaxUsers); err != nil {
		return nil, err
	}
	if cfg.MaxOnline, err = intEnv("MAX_ONLINE", cfg.MaxOnline); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = intEnv("QUEUE_SIZE", cfg.QueueSize); err != nil {
		return nil, err
	}
	if cfg.MaxHandshakes, err = intEnv("MAX_HANDSHAKES", cfg.MaxHandshakes); err != nil {
		return nil, err
	}
	if policy := os.Getenv("QUEUE_POLICY"); policy != "" {
		cfg.QueuePolicy = QueuePolicy(strings.ToLower(policy))
	}

	// --- Timing Settings ---
	if cfg.HandshakeTimeout, err = durationEnv("HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout); err != nil {
		return nil, err
	}
	if cfg.StreamAcceptTimeout, err = durationEnv("STREAM_ACCEPT_TIMEOUT", cfg.StreamAcceptTimeout); err != nil {
		return nil, err
	}
	if cfg.StreamFrameInterval, err = durationEnv("STREAM_FRAME_INTERVAL", cfg.StreamFrameInterval); err != nil {
		return nil, err
	}

	// --- Streaming Settings ---
	if dir := os.Getenv("MEDIA_DIR"); dir != "" {
		cfg.MediaDir = dir
	}

	// --- Admission Settings ---
	if rateStr := os.Getenv("ACCEPT_RATE"); rateStr != "" {
		rate, err := strconv.ParseFloat(rateStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ACCEPT_RATE environment variable: %w", err)
		}
		cfg.AcceptRate = rate
	}
	if cfg.AcceptBurst, err = intEnv("ACCEPT_BURST", cfg.AcceptBurst); err != nil {
		return nil, err
	}

	// --- Admin HTTP Settings ---
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the cross-field constraints of the configuration.
func (c *AppConfig) Validate() error {
	ports := map[string]int{
		"SERVER_PORT": c.ServerPort,
		"SIDE_PORT":   c.SidePort,
		"STREAM_PORT": c.StreamPort,
	}
	if c.AdminPort != 0 {
		ports["ADMIN_PORT"] = c.AdminPort
	}

	seen := make(map[int]string, len(ports))
	for name, port := range ports {
		if port < 1024 || port > 65535 {
			return fmt.Errorf("%s %d is outside the recommended range (%d-%d) to avoid privileged ports", name, port, 1024, 65535)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s must not share port %d", name, other, port)
		}
		seen[port] = name
	}

	if c.MaxName < 2 {
		return fmt.Errorf("MAX_NAME must be at least 2, got %d", c.MaxName)
	}
	if c.BufferSize <= signalSize+2*c.MaxName {
		return fmt.Errorf("BUFFER_SIZE %d leaves no room for a payload with MAX_NAME %d", c.BufferSize, c.MaxName)
	}
	if c.MaxUsers <= 0 || c.MaxOnline <= 0 || c.QueueSize <= 0 || c.MaxHandshakes <= 0 {
		return fmt.Errorf("MAX_USERS, MAX_ONLINE, QUEUE_SIZE and MAX_HANDSHAKES must be positive")
	}

	switch c.QueuePolicy {
	case QueuePolicyReject, QueuePolicyBlock:
	default:
		return fmt.Errorf("invalid QUEUE_POLICY %q (want %q or %q)", c.QueuePolicy, QueuePolicyReject, QueuePolicyBlock)
	}

	if c.AcceptRate < 0 {
		return fmt.Errorf("ACCEPT_RATE must not be negative")
	}

	return nil
}

func intEnv(key string, def int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return def, nil
	}
	v, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return def, nil
	}
	v, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
