package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/secret"
	"github.com/starford/nbtrust/internal/signer"
	"github.com/starford/nbtrust/internal/storage"
	"github.com/starford/nbtrust/internal/trust"
)

// NewLogger returns the structured JSON logger used by every entry point.
func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// OpenNotary resolves the data directory, secret and trust database named by
// cfg and returns a ready notary. The caller owns the returned database.
func OpenNotary(cfg *Config, logger *slog.Logger, opts ...notary.Option) (*notary.Notary, *trust.DB, error) {
	algo, err := signer.Parse(cfg.Trust.Algorithm)
	if err != nil {
		return nil, nil, err
	}

	dataDir := cfg.Trust.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	dirFS, err := storage.NewFS(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("init data dir: %w", err)
	}

	key, err := secret.Resolve(cfg.Trust.Secret, cfg.Trust.SecretFile, dirFS)
	if err != nil {
		return nil, nil, err
	}

	dbFile := cfg.Trust.ResolvedDBFile()
	db, err := trust.Open(dbFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open trust store %s: %w", dbFile, err)
	}

	base := []notary.Option{
		notary.WithAlgorithm(algo),
		notary.WithCacheSize(cfg.Trust.CacheSize),
		notary.WithCullInterval(cfg.Trust.CullInterval),
		notary.WithLogger(logger),
	}
	n, err := notary.New(db, key, append(base, opts...)...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	logger.Debug("notary ready",
		slog.String("algorithm", algo.String()),
		slog.String("data_dir", dataDir),
		slog.String("db_file", dbFile),
		slog.Int("cache_size", cfg.Trust.CacheSize),
		slog.Duration("cull_interval", cfg.Trust.CullInterval))
	return n, db, nil
}
