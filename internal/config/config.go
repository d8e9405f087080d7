package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrylevesque/equipscan/internal/utils"
)

// Config is the full equipscan configuration.
// TODO(config-hot-reload): reload scanner timings on SIGHUP for new sessions.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Loans    LoanConfig     `yaml:"loans"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ScannerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	NavigateDelay     time.Duration `yaml:"navigate_delay"`
	Cooldown          time.Duration `yaml:"cooldown"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout"` // negative disables
	CameraOpenTimeout time.Duration `yaml:"camera_open_timeout"`
	FacingMode        string        `yaml:"facing_mode"`
	IdealWidth        int           `yaml:"ideal_width"`
	IdealHeight       int           `yaml:"ideal_height"`
	Decoder           string        `yaml:"decoder"`
	Formats           []string      `yaml:"formats"`
	FrameDir          string        `yaml:"frame_dir"`
	Sounds            SoundConfig   `yaml:"sounds"`
}

// SoundConfig holds cue audio URLs; empty plays the page's built-in tone.
type SoundConfig struct {
	Success string `yaml:"success"`
	Error   string `yaml:"error"`
}

// APIToken is an operator credential; Hash is a bcrypt hash of the token.
type APIToken struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

type AuthConfig struct {
	Tokens []APIToken `yaml:"tokens"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LoanConfig struct {
	DefaultBorrowDays    int           `yaml:"default_borrow_days"`
	OverdueCheckInterval time.Duration `yaml:"overdue_check_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	DecoderZXing = "zxing"
	DecoderNone  = "none"
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Path: filepath.Join(utils.GetDataDir(), "equipscan.db"),
		},
		Scanner: ScannerConfig{
			TickInterval:      500 * time.Millisecond,
			NavigateDelay:     2 * time.Second,
			Cooldown:          3 * time.Second,
			LookupTimeout:     10 * time.Second,
			CameraOpenTimeout: 15 * time.Second,
			FacingMode:        "environment",
			IdealWidth:        1280,
			IdealHeight:       720,
			Decoder:           DecoderZXing,
			Formats:           []string{"qr_code", "code_128", "code_39", "ean_13", "ean_8", "upc_a", "upc_e"},
		},
		NATS: NATSConfig{SubjectPrefix: "equipscan"},
		Loans: LoanConfig{
			DefaultBorrowDays:    7,
			OverdueCheckInterval: time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFromFile reads a YAML file on top of the zero Config; callers merge it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Merge copies every non-zero field of other over c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	setString(&c.Server.Addr, other.Server.Addr)
	setString(&c.Server.TLSCert, other.Server.TLSCert)
	setString(&c.Server.TLSKey, other.Server.TLSKey)
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}
	setString(&c.Database.Path, other.Database.Path)

	s, o := &c.Scanner, other.Scanner
	setDuration(&s.TickInterval, o.TickInterval)
	setDuration(&s.NavigateDelay, o.NavigateDelay)
	setDuration(&s.Cooldown, o.Cooldown)
	setDuration(&s.LookupTimeout, o.LookupTimeout)
	setDuration(&s.CameraOpenTimeout, o.CameraOpenTimeout)
	setString(&s.FacingMode, o.FacingMode)
	setInt(&s.IdealWidth, o.IdealWidth)
	setInt(&s.IdealHeight, o.IdealHeight)
	setString(&s.Decoder, o.Decoder)
	if len(o.Formats) > 0 {
		s.Formats = o.Formats
	}
	setString(&s.FrameDir, o.FrameDir)
	setString(&s.Sounds.Success, o.Sounds.Success)
	setString(&s.Sounds.Error, o.Sounds.Error)

	if len(other.Auth.Tokens) > 0 {
		c.Auth.Tokens = other.Auth.Tokens
	}
	setString(&c.NATS.URL, other.NATS.URL)
	setString(&c.NATS.SubjectPrefix, other.NATS.SubjectPrefix)
	setInt(&c.Loans.DefaultBorrowDays, other.Loans.DefaultBorrowDays)
	setDuration(&c.Loans.OverdueCheckInterval, other.Loans.OverdueCheckInterval)
	setString(&c.Log.Level, other.Log.Level)
	setString(&c.Log.File, other.Log.File)
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	s := c.Scanner
	if s.TickInterval <= 0 {
		return fmt.Errorf("scanner.tick_interval must be positive")
	}
	if s.NavigateDelay < 0 || s.Cooldown <= 0 {
		return fmt.Errorf("scanner.navigate_delay must be >= 0 and scanner.cooldown positive")
	}
	switch s.Decoder {
	case DecoderZXing, DecoderNone:
	default:
		return fmt.Errorf("scanner.decoder %q: want %q or %q", s.Decoder, DecoderZXing, DecoderNone)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Loans.DefaultBorrowDays <= 0 {
		return fmt.Errorf("loans.default_borrow_days must be positive")
	}
	for i, t := range c.Auth.Tokens {
		if t.Name == "" || t.Hash == "" {
			return fmt.Errorf("auth.tokens[%d] needs name and hash", i)
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
