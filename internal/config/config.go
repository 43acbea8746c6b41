package config

import (
	"net"
	"os"
	"strconv"
)

const (
	// DefaultPort matches the port the browser front end polls.
	DefaultPort = 5000
	// DefaultHost keeps the bridge reachable from this machine only.
	DefaultHost = "127.0.0.1"
)

// Config holds process-level settings read from the environment.
type Config struct {
	Host string
	Port int
}

// Load reads CARD_BRIDGE_HOST and CARD_BRIDGE_PORT, falling back to defaults
// for unset or invalid values.
func Load() *Config {
	cfg := &Config{
		Host: DefaultHost,
		Port: DefaultPort,
	}

	if host := os.Getenv("CARD_BRIDGE_HOST"); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv("CARD_BRIDGE_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}

	return cfg
}

// Address returns host:port for net/http.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
