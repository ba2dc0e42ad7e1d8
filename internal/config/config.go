package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chaosring/internal/tier"
)

const (
	EnvToken   = "DISCORD_TOKEN"
	EnvGuildID = "GUILD_ID"
)

// roleEnv and overlayEnv name the per-tier variables.
var (
	roleEnv = map[tier.Tier]string{
		tier.Daoist:  "DAO_ROLE_DAOIST",
		tier.Fren:    "DAO_ROLE_FREN",
		tier.Regular: "DAO_ROLE_REGULAR",
	}
	overlayEnv = map[tier.Tier]string{
		tier.Daoist:  "CHAOSRING_DAOISTS",
		tier.Fren:    "CHAOSRING_FRENS",
		tier.Regular: "CHAOSRING_REGULARS",
	}
)

// Error is a startup-fatal configuration problem.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	errMissing      = errors.New("not set in environment")
	errNotFile      = errors.New("not a regular file")
	errEmpty        = errors.New("file is empty")
	errNotSnowflake = errors.New("must be a numeric Discord id")
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Token    string
	GuildID  string
	Roles    tier.Roles
	Overlays Overlays
	Tuning   Tuning
}

// Overlay is one tier's ring image as read from disk.
type Overlay struct {
	Path string
	Data []byte
}

type Overlays map[tier.Tier]Overlay

// Tuning holds the optional knobs. Zero values are replaced by defaults.
type Tuning struct {
	Workers            int           `yaml:"workers"`
	MaxAttachmentBytes int64         `yaml:"max_attachment_bytes"`
	MaxDimension       int           `yaml:"max_dimension"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	Cooldown           time.Duration `yaml:"cooldown"`
	DBPath             string        `yaml:"db_path"`
	MetricsAddress     string        `yaml:"metrics_address"`
	Debug              bool          `yaml:"debug"`
}

// DefaultTuning returns the values used when neither file nor env set them.
func DefaultTuning() Tuning {
	return Tuning{
		Workers:            runtime.NumCPU(),
		MaxAttachmentBytes: 8 << 20,
		MaxDimension:       4096,
		FetchTimeout:       15 * time.Second,
		Cooldown:           10 * time.Second,
	}
}

// LoadDotEnv loads a .env file if one exists. Values already present in the
// process environment are kept.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads the full bot configuration. tuningFile may be empty.
func Load(tuningFile string) (*Config, error) {
	token, err := required(EnvToken)
	if err != nil {
		return nil, err
	}

	roles, err := LoadRoles()
	if err != nil {
		return nil, err
	}

	overlays, err := LoadOverlays()
	if err != nil {
		return nil, err
	}

	tuning, err := LoadTuning(tuningFile)
	if err != nil {
		return nil, err
	}

	guildID := strings.TrimSpace(os.Getenv(EnvGuildID))
	if guildID != "" {
		if _, err := strconv.ParseUint(guildID, 10, 64); err != nil {
			return nil, &Error{Key: EnvGuildID, Err: errNotSnowflake}
		}
	}

	return &Config{
		Token:    token,
		GuildID:  guildID,
		Roles:    roles,
		Overlays: overlays,
		Tuning:   tuning,
	}, nil
}

// LoadRoles reads the three tier role ids.
func LoadRoles() (tier.Roles, error) {
	roles := make(tier.Roles, len(roleEnv))
	for _, t := range tier.Precedence() {
		key := roleEnv[t]
		v, err := required(key)
		if err != nil {
			return nil, err
		}
		if _, err := strconv.ParseUint(v, 10, 64); err != nil {
			return nil, &Error{Key: key, Err: errNotSnowflake}
		}
		roles[t] = v
	}
	return roles, nil
}

// LoadOverlays reads all three overlay files into memory.
func LoadOverlays() (Overlays, error) {
	out := make(Overlays, len(overlayEnv))
	for _, t := range tier.Precedence() {
		key := overlayEnv[t]
		path, err := required(key)
		if err != nil {
			return nil, err
		}
		data, err := readOverlay(path)
		if err != nil {
			return nil, &Error{Key: key, Err: err}
		}
		out[t] = Overlay{Path: path, Data: data}
	}
	return out, nil
}

func readOverlay(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, errNotFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmpty)
	}
	return data, nil
}

// LoadTuning starts from defaults, applies the YAML file if given, then env
// overrides.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Tuning{}, &Error{Key: "config file", Err: err}
		}
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Tuning{}, &Error{Key: "config file", Err: fmt.Errorf("failed to unmarshal: %w", err)}
		}
	}

	if v := os.Getenv("RING_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Tuning{}, &Error{Key: "RING_WORKERS", Err: err}
		}
		t.Workers = n
	}
	if v := os.Getenv("RING_MAX_ATTACHMENT_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Tuning{}, &Error{Key: "RING_MAX_ATTACHMENT_BYTES", Err: err}
		}
		t.MaxAttachmentBytes = n
	}
	if v := os.Getenv("RING_MAX_DIMENSION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Tuning{}, &Error{Key: "RING_MAX_DIMENSION", Err: err}
		}
		t.MaxDimension = n
	}
	if v := os.Getenv("RING_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Tuning{}, &Error{Key: "RING_FETCH_TIMEOUT", Err: err}
		}
		t.FetchTimeout = d
	}
	if v := os.Getenv("RING_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Tuning{}, &Error{Key: "RING_COOLDOWN", Err: err}
		}
		t.Cooldown = d
	}
	if v, ok := os.LookupEnv("RING_DB_PATH"); ok {
		t.DBPath = v
	}
	if v, ok := os.LookupEnv("METRICS_ADDRESS"); ok {
		t.MetricsAddress = v
	}
	if v := os.Getenv("LOG_DEBUG"); v != "" {
		t.Debug = v == "true" || v == "1"
	}

	def := DefaultTuning()
	if t.Workers <= 0 {
		t.Workers = def.Workers
	}
	if t.MaxAttachmentBytes <= 0 {
		t.MaxAttachmentBytes = def.MaxAttachmentBytes
	}
	if t.MaxDimension <= 0 {
		t.MaxDimension = def.MaxDimension
	}
	if t.FetchTimeout <= 0 {
		t.FetchTimeout = def.FetchTimeout
	}
	if t.Cooldown < 0 {
		t.Cooldown = 0
	}
	return t, nil
}

func required(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", &Error{Key: key, Err: errMissing}
	}
	return v, nil
}
