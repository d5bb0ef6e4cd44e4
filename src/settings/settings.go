package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"syndrkit/src/helpers"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendFile   = "file"
)

var (
	errConfigRead    = errors.New("cannot read config file")
	errConfigInvalid = errors.New("invalid config file")
	// ErrInvalidSettings is returned by Validate.
	ErrInvalidSettings = errors.New("invalid settings")
)

type Arguments struct {
	// The directory holding the data files
	DataDir string `json:"data_dir"`

	// memory, bolt, file
	Backend string `json:"backend"`

	// Bolt database file, relative to DataDir unless absolute
	BoltFile string `json:"bolt_file"`

	// Journal directory for the file backend; empty disables journaling
	JournalDir string `json:"journal_dir"`

	// Maximum size of a journal file in bytes
	MaxJournalFileSize int64 `json:"max_journal_file_size"`

	// Days to keep old journal files
	RetentionDays int `json:"retention_days"`

	// How long to wait for the file lock of the store
	Timeout    time.Duration `json:"-"`
	TimeoutRaw string        `json:"timeout"`

	LogLevel string `json:"log_level"`

	// Development logger
	Debug bool `json:"debug"`

	// Strongly verbose logging
	Verbose bool `json:"verbose"`
}

// Default returns the settings used when nothing is configured.
func Default() *Arguments {
	return &Arguments{
		DataDir:            "./datafiles",
		Backend:            BackendMemory,
		BoltFile:           "syndrkit.db",
		MaxJournalFileSize: 1000000,
		RetentionDays:      7,
		Timeout:            time.Second,
		LogLevel:           "info",
	}
}

// Load reads a JSON config file, comments and trailing commas allowed, over
// the defaults. A missing file yields the defaults.
func Load(path string) (*Arguments, error) {
	args := Default()
	if path == "" {
		return args, nil
	}
	exists, err := helpers.FileExists(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errConfigRead, path, err)
	}
	if !exists {
		return args, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errConfigRead, path, err)
	}
	if err := args.parse(data); err != nil {
		return nil, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return args, nil
}

func (a *Arguments) parse(data []byte) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(standardized, a); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if a.TimeoutRaw != "" {
		d, err := time.ParseDuration(a.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		a.Timeout = d
	}
	return nil
}

// Validate checks the settings for values the store cannot work with.
func (a *Arguments) Validate() error {
	switch a.Backend {
	case BackendMemory:
	case BackendBolt, BackendFile:
		if a.DataDir == "" {
			return fmt.Errorf("%w: backend %s needs a data directory", ErrInvalidSettings, a.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (must be memory, bolt or file)", ErrInvalidSettings, a.Backend)
	}
	if a.Backend == BackendBolt && a.BoltFile == "" {
		return fmt.Errorf("%w: bolt backend needs a file name", ErrInvalidSettings)
	}
	if a.MaxJournalFileSize <= 0 {
		return fmt.Errorf("%w: invalid journal file size %d", ErrInvalidSettings, a.MaxJournalFileSize)
	}
	if a.RetentionDays < 0 {
		return fmt.Errorf("%w: invalid retention %d", ErrInvalidSettings, a.RetentionDays)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("%w: invalid timeout %s", ErrInvalidSettings, a.Timeout)
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidSettings, a.LogLevel)
	}
	return nil
}
