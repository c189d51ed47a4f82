// Package notary decides whether notebook content can be treated as trusted.
//
// A Notary signs the canonical form of a notebook with a keyed digest and
// records the signature in a trust cache. Checking recomputes the signature
// at the notary's current algorithm and looks it up; trust is a cache
// membership fact only, never read from the document's own fields.
package notary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/starford/nbtrust/internal/canonical"
	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/signer"
	"github.com/starford/nbtrust/internal/trust"
)

// Defaults.
const (
	DefaultCacheSize    = 65535
	DefaultCullInterval = 2 * time.Hour
)

// Result describes a signature computed for a notebook.
type Result struct {
	Algorithm     signer.Algorithm `json:"algorithm"`
	Signature     string           `json:"signature"`
	Digest        digest.Digest    `json:"digest"`
	Trusted       bool             `json:"trusted"`
	AlreadySigned bool             `json:"already_signed,omitempty"`
	LastSeen      *time.Time       `json:"last_seen,omitempty"`
}

// Notary holds one immutable signing configuration over a shared cache.
// It is safe for concurrent use.
type Notary struct {
	cache        trust.Cache
	secret       []byte
	signer       *signer.Signer
	algorithm    signer.Algorithm
	cacheSize    int
	cullInterval time.Duration
	logger       *slog.Logger
	metrics      *Metrics
}

// Option configures a Notary.
type Option func(*Notary)

// WithAlgorithm selects the digest algorithm used for signing and checking.
func WithAlgorithm(a signer.Algorithm) Option {
	return func(n *Notary) { n.algorithm = a }
}

// WithCacheSize bounds how many signatures survive a cull.
func WithCacheSize(size int) Option {
	return func(n *Notary) { n.cacheSize = size }
}

// WithCullInterval sets the minimum time between cull passes.
func WithCullInterval(d time.Duration) Option {
	return func(n *Notary) { n.cullInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notary) { n.logger = l }
}

// WithMetrics records operation counters with m instead of the global meter provider.
func WithMetrics(m *Metrics) Option {
	return func(n *Notary) { n.metrics = m }
}

// New returns a Notary signing with secret and storing into cache.
func New(cache trust.Cache, secret []byte, opts ...Option) (*Notary, error) {
	if cache == nil {
		return nil, fmt.Errorf("notary: trust cache is required")
	}
	n := &Notary{
		cache:        cache,
		secret:       append([]byte(nil), secret...),
		algorithm:    signer.Default,
		cacheSize:    DefaultCacheSize,
		cullInterval: DefaultCullInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.cacheSize < 1 {
		return nil, fmt.Errorf("notary: cache size must be positive, got %d", n.cacheSize)
	}
	if n.cullInterval < 0 {
		return nil, fmt.Errorf("notary: cull interval must not be negative")
	}
	s, err := signer.New(n.secret, n.algorithm)
	if err != nil {
		return nil, fmt.Errorf("notary: %w", err)
	}
	n.signer = s
	if n.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("notary: metrics: %w", err)
		}
		n.metrics = m
	}
	return n, nil
}

// With returns a copy of n with opts applied, sharing the same cache.
func (n *Notary) With(opts ...Option) (*Notary, error) {
	base := []Option{
		WithAlgorithm(n.algorithm),
		WithCacheSize(n.cacheSize),
		WithCullInterval(n.cullInterval),
		WithLogger(n.logger),
		WithMetrics(n.metrics),
	}
	return New(n.cache, n.secret, append(base, opts...)...)
}

// Algorithm returns the algorithm signatures are computed and checked with.
func (n *Notary) Algorithm() signer.Algorithm { return n.algorithm }

// Compute returns the signature of nb without consulting the cache.
func (n *Notary) Compute(nb *nbformat.Notebook) (*Result, error) {
	data, err := canonical.Marshal(nb)
	if err != nil {
		return nil, err
	}
	return &Result{
		Algorithm: n.algorithm,
		Signature: n.signer.Sign(data),
		Digest:    digest.FromBytes(data),
	}, nil
}

// ComputeSignature returns only the hex signature of nb.
func (n *Notary) ComputeSignature(nb *nbformat.Notebook) (string, error) {
	res, err := n.Compute(nb)
	if err != nil {
		return "", err
	}
	return res.Signature, nil
}

// Sign records nb as trusted. AlreadySigned reports whether the signature
// was present before; either way its last use is refreshed. A due cull runs
// afterwards; its failure is logged, not returned, since the signature itself
// has been stored.
func (n *Notary) Sign(ctx context.Context, nb *nbformat.Notebook) (*Result, error) {
	res, err := n.Compute(nb)
	if err != nil {
		return nil, err
	}
	algo := res.Algorithm.String()

	res.AlreadySigned, err = n.cache.Contains(algo, res.Signature)
	if err != nil {
		return nil, fmt.Errorf("notary: sign: %w", err)
	}
	if !res.AlreadySigned {
		if err := n.cache.Put(algo, res.Signature); err != nil {
			return nil, fmt.Errorf("notary: sign: %w", err)
		}
	}
	res.Trusted = true
	n.metrics.recordSign(ctx, res.Algorithm, res.AlreadySigned)
	n.logger.Debug("notebook signed",
		slog.String("algorithm", algo),
		slog.String("digest", res.Digest.String()),
		slog.Bool("already_signed", res.AlreadySigned))

	if _, err := n.MaybeCull(ctx); err != nil {
		n.logger.Warn("cull failed", slog.String("error", err.Error()))
	}
	return res, nil
}

// Check recomputes the signature of nb at the current algorithm and looks it
// up. A hit refreshes the record's last use. Not being trusted is not an error.
func (n *Notary) Check(ctx context.Context, nb *nbformat.Notebook) (*Result, error) {
	res, err := n.Compute(nb)
	if err != nil {
		n.metrics.recordCheck(ctx, n.algorithm, checkError)
		return nil, err
	}
	res.Trusted, err = n.cache.Contains(res.Algorithm.String(), res.Signature)
	if err != nil {
		n.metrics.recordCheck(ctx, n.algorithm, checkError)
		return nil, fmt.Errorf("notary: check: %w", err)
	}
	outcome := checkUntrusted
	if res.Trusted {
		outcome = checkTrusted
	}
	n.metrics.recordCheck(ctx, n.algorithm, outcome)
	return res, nil
}

// Peek is Check without the side effect: a hit reports the record's last use
// and leaves it unchanged, so scans do not reorder eviction.
func (n *Notary) Peek(ctx context.Context, nb *nbformat.Notebook) (*Result, error) {
	res, err := n.Compute(nb)
	if err != nil {
		n.metrics.recordCheck(ctx, n.algorithm, checkError)
		return nil, err
	}
	rec, err := n.cache.Get(res.Algorithm.String(), res.Signature)
	if err != nil {
		n.metrics.recordCheck(ctx, n.algorithm, checkError)
		return nil, fmt.Errorf("notary: peek: %w", err)
	}
	outcome := checkUntrusted
	if rec != nil {
		res.Trusted = true
		res.LastSeen = &rec.LastSeen
		outcome = checkTrusted
	}
	n.metrics.recordCheck(ctx, n.algorithm, outcome)
	return res, nil
}

// CheckSignature reports whether nb is trusted.
func (n *Notary) CheckSignature(ctx context.Context, nb *nbformat.Notebook) (bool, error) {
	res, err := n.Check(ctx, nb)
	if err != nil {
		return false, err
	}
	return res.Trusted, nil
}

// IsTrusted is CheckSignature for callers that must fail safe: any error is
// logged and reported as untrusted.
func (n *Notary) IsTrusted(ctx context.Context, nb *nbformat.Notebook) bool {
	ok, err := n.CheckSignature(ctx, nb)
	if err != nil {
		n.logger.Warn("trust check failed, treating notebook as untrusted", slog.String("error", err.Error()))
		return false
	}
	return ok
}

// Unsign removes nb's signature. Unsigning an untrusted notebook is a no-op.
func (n *Notary) Unsign(ctx context.Context, nb *nbformat.Notebook) error {
	res, err := n.Compute(nb)
	if err != nil {
		return err
	}
	if err := n.cache.Delete(res.Algorithm.String(), res.Signature); err != nil {
		return fmt.Errorf("notary: unsign: %w", err)
	}
	n.metrics.recordUnsign(ctx, res.Algorithm)
	n.logger.Debug("notebook unsigned", slog.String("digest", res.Digest.String()))
	return nil
}

// MaybeCull evicts least-recently-used signatures beyond the cache size when
// the cull interval has elapsed. It returns the number of removed records.
func (n *Notary) MaybeCull(ctx context.Context) (int, error) {
	removed, ran, err := n.cache.MaybeCull(n.cacheSize, n.cullInterval)
	if err != nil {
		return 0, fmt.Errorf("notary: cull: %w", err)
	}
	if ran {
		n.metrics.recordCull(ctx, removed)
		n.logger.Info("trust cache culled", slog.Int("removed", removed), slog.Int("cache_size", n.cacheSize))
	}
	return removed, nil
}

// Cull evicts down to the cache size now, ignoring the cull interval.
func (n *Notary) Cull(ctx context.Context) (int, error) {
	removed, err := n.cache.Cull(n.cacheSize)
	if err != nil {
		return 0, fmt.Errorf("notary: cull: %w", err)
	}
	n.metrics.recordCull(ctx, removed)
	n.logger.Info("trust cache culled", slog.Int("removed", removed), slog.Int("cache_size", n.cacheSize))
	return removed, nil
}
