package directors

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"syndrkit/src/engine"
	"syndrkit/src/settings"
	"syndrkit/src/store"
	"syndrkit/src/store/boltstore"
	"syndrkit/src/store/filestore"
	"syndrkit/src/store/memstore"
)

// ServiceManager owns the store and the document registry built on it.
type ServiceManager struct {
	Store    store.Store
	Registry *engine.Registry
	args     *settings.Arguments
	logger   *zap.SugaredLogger
}

// NewLogger builds the logger described by args.
func NewLogger(args *settings.Arguments) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(args.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	if args.Verbose {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	if args.Debug {
		// Development configuration with more verbose output
		cfg = zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stdout"}
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Sugar(), nil
}

// NewServiceManager opens the configured store and builds a registry on it.
// A nil logger is built from args.
func NewServiceManager(args *settings.Arguments, logger *zap.SugaredLogger) (*ServiceManager, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		var err error
		if logger, err = NewLogger(args); err != nil {
			return nil, err
		}
	}

	st, err := openStore(args, logger)
	if err != nil {
		return nil, err
	}
	logger.Infow("store opened", "backend", args.Backend, "data_dir", args.DataDir)

	return &ServiceManager{
		Store:    st,
		Registry: engine.NewRegistry(st, engine.WithLogger(logger)),
		args:     args,
		logger:   logger,
	}, nil
}

func openStore(args *settings.Arguments, logger *zap.SugaredLogger) (store.Store, error) {
	switch args.Backend {
	case settings.BackendBolt:
		if err := os.MkdirAll(args.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := args.BoltFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(args.DataDir, path)
		}
		return boltstore.Open(path, args.Timeout, logger)
	case settings.BackendFile:
		opts := []filestore.Option{filestore.WithLockTimeout(args.Timeout)}
		if args.JournalDir != "" {
			opts = append(opts, filestore.WithJournal(args.JournalDir, args.MaxJournalFileSize, args.RetentionDays))
		}
		return filestore.Open(args.DataDir, logger, opts...)
	default:
		return memstore.New(), nil
	}
}

func (m *ServiceManager) Logger() *zap.SugaredLogger { return m.logger }

// Close closes the store and flushes the logger.
func (m *ServiceManager) Close() error {
	err := m.Store.Close()
	if m.args.Backend != settings.BackendMemory {
		m.logger.Infow("store closed", "backend", m.args.Backend)
	}
	// Sync fails on terminals.
	_ = m.logger.Sync()
	return err
}
