// Package config loads the ptybridge configuration file.
//
// The file is YAML. Fields left out keep their defaults; command-line flags
// are applied on top by the caller before Validate.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"ptybridge/internal/domain"
	"ptybridge/internal/handshake"
)

// Config is the configuration for one bridge.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Timeout bounds the whole establishment, DNS included.
	Timeout time.Duration `yaml:"timeout"`

	// Resolver is the DNS server used for remote host names.
	Resolver string `yaml:"resolver"`

	Remote RemoteConfig `yaml:"remote"`
	Local  LocalConfig  `yaml:"local"`

	// Version is the client version sent in both responses.
	Version int `yaml:"version"`

	// Identity is the client UUID. A random one is generated when empty.
	Identity string `yaml:"identity"`

	// Hello is the text sent to the local peer after the descriptor.
	Hello string `yaml:"hello"`

	// Attributes are CBOR-encoded and sent after the local response.
	Attributes map[string]string `yaml:"attributes"`
}

// RemoteConfig selects the remote peer: a TCP endpoint or a command run on
// a pseudo-terminal.
type RemoteConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Command []string `yaml:"command"`
}

// LocalConfig configures the local control socket.
type LocalConfig struct {
	Socket string `yaml:"socket"`

	// Protocol is "terminal" or "raw".
	Protocol string `yaml:"protocol"`
}

// Default returns the configuration used before the file is loaded.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Timeout:  30 * time.Second,
		Resolver: "8.8.8.8:53",
		Local: LocalConfig{
			Protocol: "terminal",
		},
		Version: 1,
	}
}

// LoadFile loads path over the defaults. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}

	hasHost, hasCommand := c.Remote.Host != "", len(c.Remote.Command) > 0
	switch {
	case hasHost == hasCommand:
		errs = append(errs, errors.New("exactly one of remote.host and remote.command is required"))
	case hasHost:
		if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
			errs = append(errs, fmt.Errorf("remote.port out of range: %d", c.Remote.Port))
		}
		if _, err := netip.ParseAddr(c.Remote.Host); err != nil {
			if _, err := netip.ParseAddrPort(c.Resolver); err != nil {
				errs = append(errs, fmt.Errorf("resolver %q is not an address:port: %w", c.Resolver, err))
			}
		}
	}

	if c.Local.Socket == "" {
		errs = append(errs, errors.New("local.socket is required"))
	}
	if _, err := c.ProtocolType(); err != nil {
		errs = append(errs, err)
	}
	if c.Version < 1 || c.Version > handshake.MaxFieldValue {
		errs = append(errs, fmt.Errorf("version out of range: %d", c.Version))
	}
	if c.Identity != "" {
		if _, err := uuid.Parse(c.Identity); err != nil {
			errs = append(errs, fmt.Errorf("identity: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ProtocolType maps Local.Protocol to its wire value.
func (c *Config) ProtocolType() (int, error) {
	switch strings.ToLower(c.Local.Protocol) {
	case "terminal":
		return handshake.ProtocolTerminal, nil
	case "raw":
		return handshake.ProtocolRaw, nil
	default:
		return 0, fmt.Errorf("local.protocol must be one of: [terminal raw], got %q", c.Local.Protocol)
	}
}

// IdentityUUID returns the configured identity, generating a random one
// when none is set.
func (c *Config) IdentityUUID() (uuid.UUID, error) {
	if c.Identity == "" {
		return uuid.NewRandom()
	}
	return uuid.Parse(c.Identity)
}

// ResolverAddr returns the DNS server address.
func (c *Config) ResolverAddr() (netip.AddrPort, error) {
	return netip.ParseAddrPort(c.Resolver)
}

// Request builds the bridge request described by c. attributes is the
// encoded attribute blob. c must be valid.
func (c *Config) Request(attributes []byte) (domain.BridgeRequest, error) {
	protocol, err := c.ProtocolType()
	if err != nil {
		return domain.BridgeRequest{}, err
	}
	identity, err := c.IdentityUUID()
	if err != nil {
		return domain.BridgeRequest{}, fmt.Errorf("identity: %w", err)
	}
	return domain.BridgeRequest{
		Remote: domain.RemoteSpec{
			Host:    c.Remote.Host,
			Port:    c.Remote.Port,
			Command: c.Remote.Command,
		},
		LocalSocket:  c.Local.Socket,
		ProtocolType: protocol,
		Version:      c.Version,
		Identity:     identity,
		Hello:        []byte(c.Hello),
		Attributes:   attributes,
	}, nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log_level must be one of: [debug info warn error], got %q", name)
	}
	return level, nil
}
