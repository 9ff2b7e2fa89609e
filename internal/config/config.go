package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gpuwatchhq/gpuwatch/internal/selector"
)

const (
	envConfigPath     = "GPUWATCH_CONFIG"
	DefaultConfigPath = "/etc/gpuwatch/config.yaml"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Mode selects the triggering discipline.
type Mode string

const (
	// ModeLevel notifies on every cycle where enough resources are
	// available, then cools down.
	ModeLevel Mode = "level"
	// ModeEdge notifies only when the set of available resources changes.
	ModeEdge Mode = "edge"
)

// ParseMode accepts level/lt and edge/et in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "level", "lt":
		return ModeLevel, nil
	case "edge", "et":
		return ModeEdge, nil
	default:
		return "", fmt.Errorf("unknown trigger mode %q (allowed: level, edge)", s)
	}
}

// Config is an immutable snapshot of the daemon configuration. Values
// returned by Load and Store.Current must not be modified.
type Config struct {
	Mail    MailConfig    `yaml:"mail"`
	Remote  RemoteConfig  `yaml:"remote"`
	Trigger TriggerConfig `yaml:"trigger"`
	Log     LogConfig     `yaml:"log"`

	location *time.Location
}

type MailConfig struct {
	From       string        `yaml:"from"`
	SMTPServer string        `yaml:"smtp_server"`
	SSLPort    int           `yaml:"ssl_port"`
	Password   string        `yaml:"password"`
	Recipients []string      `yaml:"recipients"`
	SendDelay  time.Duration `yaml:"send_delay"`
	MaxPerHour int           `yaml:"max_per_hour"`
	CAFile     string        `yaml:"ca_file"`
}

type RemoteConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	KnownHosts string        `yaml:"known_hosts"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Address returns host:port of the monitored host.
func (r RemoteConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type TriggerConfig struct {
	Mode          Mode          `yaml:"mode"`
	Must          int           `yaml:"must"`
	MemRate       float64       `yaml:"mem_rate"`
	QuietHours    []int         `yaml:"quiet_hours"`
	LevelCooldown time.Duration `yaml:"level_cooldown"`
	EdgeCooldown  time.Duration `yaml:"edge_cooldown"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Selector      selector.Kind `yaml:"selector"`
	Timezone      string        `yaml:"timezone"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a configuration holding every optional default. Required
// fields are left empty.
func Default() *Config {
	return &Config{
		Mail: MailConfig{
			SSLPort:   465,
			SendDelay: 5 * time.Second,
		},
		Remote: RemoteConfig{
			Port:    22,
			Timeout: 10 * time.Second,
		},
		Trigger: TriggerConfig{
			Must:          1,
			MemRate:       0.9,
			LevelCooldown: time.Hour,
			EdgeCooldown:  10 * time.Minute,
			PollInterval:  time.Minute,
			Selector:      selector.KindMemory,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Location is the time zone used for quiet hours and status lines.
func (c *Config) Location() *time.Location {
	if c == nil || c.location == nil {
		return time.Local
	}
	return c.location
}

// ReadFile returns the raw bytes of the config file at path.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return data, nil
}

// Load reads, decodes and validates the config file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by GPUWATCH_CONFIG, falling back to
// DefaultConfigPath.
func LoadFromEnv(ctx context.Context) (*Config, error) {
	return Load(ctx, PathFromEnv())
}

// PathFromEnv returns GPUWATCH_CONFIG or DefaultConfigPath.
func PathFromEnv() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: document is empty", ErrInvalid)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes enumerations and checks every option. It is called
// by Parse; a Config that passed validation is ready for use.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Mail.From) == "" {
		add("mail.from is required")
	}
	if strings.TrimSpace(c.Mail.SMTPServer) == "" {
		add("mail.smtp_server is required")
	}
	if !validPort(c.Mail.SSLPort) {
		add("mail.ssl_port %d out of range", c.Mail.SSLPort)
	}
	if c.Mail.SendDelay < 0 {
		add("mail.send_delay must not be negative")
	}
	if c.Mail.MaxPerHour < 0 {
		add("mail.max_per_hour must not be negative")
	}
	for i, r := range c.Mail.Recipients {
		if strings.TrimSpace(r) == "" {
			add("mail.recipients[%d] is empty", i)
		}
	}

	if strings.TrimSpace(c.Remote.Host) == "" {
		add("remote.host is required")
	}
	if strings.TrimSpace(c.Remote.Username) == "" {
		add("remote.username is required")
	}
	if !validPort(c.Remote.Port) {
		add("remote.port %d out of range", c.Remote.Port)
	}
	if c.Remote.Timeout < 0 {
		add("remote.timeout must not be negative")
	}

	if c.Trigger.Mode == "" {
		add("trigger.mode is required")
	} else if mode, err := ParseMode(string(c.Trigger.Mode)); err != nil {
		add("trigger.mode: %v", err)
	} else {
		c.Trigger.Mode = mode
	}
	if kind, err := selector.ParseKind(string(c.Trigger.Selector)); err != nil {
		add("trigger.selector: %v", err)
	} else {
		c.Trigger.Selector = kind
	}
	if c.Trigger.Must < 0 {
		add("trigger.must must not be negative")
	}
	if c.Trigger.MemRate < 0 || c.Trigger.MemRate > 1 {
		add("trigger.mem_rate %v outside [0, 1]", c.Trigger.MemRate)
	}
	for _, h := range c.Trigger.QuietHours {
		if h < 0 || h > 23 {
			add("trigger.quiet_hours value %d outside 0-23", h)
		}
	}
	if c.Trigger.LevelCooldown < 0 {
		add("trigger.level_cooldown must not be negative")
	}
	if c.Trigger.EdgeCooldown < 0 {
		add("trigger.edge_cooldown must not be negative")
	}
	if c.Trigger.PollInterval <= 0 {
		add("trigger.poll_interval must be positive")
	}
	switch tz := strings.TrimSpace(c.Trigger.Timezone); tz {
	case "", "Local":
		c.location = time.Local
	default:
		loc, err := time.LoadLocation(tz)
		if err != nil {
			add("trigger.timezone: %v", err)
		} else {
			c.location = loc
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
