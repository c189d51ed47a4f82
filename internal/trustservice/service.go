// Package trustservice applies notary operations to notebooks addressed
// either by workspace path or by inline document, for the HTTP and MCP
// surfaces.
package trustservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/starford/nbtrust/internal/apperr"
	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/storage"
)

// Publisher receives trust events, e.g. the SSE broker.
type Publisher interface {
	PublishTrustEvent(kind, path string)
}

// Input addresses one notebook. Exactly one of Path and Notebook is set.
type Input struct {
	// Path is relative to the workspace root.
	Path string `json:"path,omitempty"`
	// Notebook is an inline document.
	Notebook json.RawMessage `json:"notebook,omitempty"`
}

// Outcome is the result of a trust operation on one notebook.
type Outcome struct {
	Path          string         `json:"path,omitempty"`
	Algorithm     string         `json:"algorithm"`
	Signature     string         `json:"signature"`
	Digest        string         `json:"digest"`
	Trusted       bool           `json:"trusted"`
	AlreadySigned bool           `json:"already_signed,omitempty"`
	Notebook      map[string]any `json:"notebook,omitempty"`
}

// Status summarises the trust store and the workspace.
type Status struct {
	Algorithm string              `json:"algorithm"`
	Trusted   int                 `json:"trusted"`
	Untrusted int                 `json:"untrusted"`
	Files     []notary.FileStatus `json:"files"`
}

// Service coordinates the notary, the workspace and event publication.
type Service struct {
	notary    *notary.Notary
	store     storage.Provider
	publisher Publisher
	workers   int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher reports sign, unsign and check outcomes to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithWorkers bounds concurrent checks during Status.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// NewService creates a new trust service. store may be nil, in which case
// only inline notebooks are accepted.
func NewService(n *notary.Notary, store storage.Provider, opts ...Option) *Service {
	s := &Service{notary: n, store: store, workers: 4}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notary returns the underlying notary.
func (s *Service) Notary() *notary.Notary { return s.notary }

// Load resolves in to a notebook.
func (s *Service) Load(in Input) (*nbformat.Notebook, error) {
	switch {
	case in.Path != "" && len(in.Notebook) > 0:
		return nil, fmt.Errorf("%w: path and notebook are mutually exclusive", apperr.ErrInvalidInput)
	case len(in.Notebook) > 0:
		return nbformat.ReadBytes(in.Notebook)
	case in.Path != "":
		if s.store == nil {
			return nil, fmt.Errorf("%w: no workspace configured", apperr.ErrInvalidInput)
		}
		data, err := s.store.Read(in.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, in.Path)
			}
			return nil, err
		}
		return nbformat.ReadBytes(data)
	default:
		return nil, fmt.Errorf("%w: path or notebook is required", apperr.ErrInvalidInput)
	}
}

// Sign records the notebook as trusted.
func (s *Service) Sign(ctx context.Context, in Input) (*Outcome, error) {
	nb, err := s.Load(in)
	if err != nil {
		return nil, err
	}
	res, err := s.notary.Sign(ctx, nb)
	if err != nil {
		return nil, err
	}
	s.publish("signed", in.Path)
	return outcome(in.Path, res), nil
}

// Check reports whether the notebook is trusted. With mark set, the returned
// outcome carries the document with every code cell stamped accordingly.
func (s *Service) Check(ctx context.Context, in Input, mark bool) (*Outcome, error) {
	nb, err := s.Load(in)
	if err != nil {
		return nil, err
	}
	res, err := s.notary.Check(ctx, nb)
	if err != nil {
		return nil, err
	}
	out := outcome(in.Path, res)
	if mark {
		s.notary.MarkCells(nb, res.Trusted)
		out.Notebook = nb.Root()
	}
	return out, nil
}

// Mark checks the notebook and stamps every code cell with the verdict. A
// notebook addressed by path is rewritten in place; the stamped document is
// returned either way.
func (s *Service) Mark(ctx context.Context, in Input) (*Outcome, error) {
	nb, err := s.Load(in)
	if err != nil {
		return nil, err
	}
	res, err := s.notary.Compute(nb)
	if err != nil {
		return nil, err
	}
	res.Trusted = s.notary.MarkFromSignature(ctx, nb)
	if in.Path != "" {
		data, err := nb.Bytes()
		if err != nil {
			return nil, err
		}
		if err := s.store.Write(in.Path, data); err != nil {
			return nil, err
		}
	}
	kind := "untrusted"
	if res.Trusted {
		kind = "trusted"
	}
	s.publish(kind, in.Path)
	out := outcome(in.Path, res)
	out.Notebook = nb.Root()
	return out, nil
}

// SignIfCellsTrusted signs the notebook only when every code cell with output
// is already marked trusted. Trusted in the outcome reports whether it was.
func (s *Service) SignIfCellsTrusted(ctx context.Context, in Input) (*Outcome, error) {
	nb, err := s.Load(in)
	if err != nil {
		return nil, err
	}
	res, err := s.notary.SignIfCellsTrusted(ctx, nb)
	if err != nil {
		return nil, err
	}
	if res.Trusted {
		s.publish("signed", in.Path)
	}
	return outcome(in.Path, res), nil
}

// Unsign removes the notebook's signature.
func (s *Service) Unsign(ctx context.Context, in Input) (*Outcome, error) {
	nb, err := s.Load(in)
	if err != nil {
		return nil, err
	}
	res, err := s.notary.Compute(nb)
	if err != nil {
		return nil, err
	}
	if err := s.notary.Unsign(ctx, nb); err != nil {
		return nil, err
	}
	s.publish("unsigned", in.Path)
	return outcome(in.Path, res), nil
}

// CheckCells reports whether every code cell with output is marked trusted.
func (s *Service) CheckCells(_ context.Context, in Input) (bool, error) {
	nb, err := s.Load(in)
	if err != nil {
		return false, err
	}
	return s.notary.CheckCells(nb), nil
}

// Status audits every notebook under dir.
func (s *Service) Status(ctx context.Context, dir string) (*Status, error) {
	st := &Status{Algorithm: s.notary.Algorithm().String(), Files: []notary.FileStatus{}}
	if s.store == nil {
		return st, nil
	}
	files, err := s.notary.Audit(ctx, s.store, dir, s.workers)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.Trusted {
			st.Trusted++
		} else {
			st.Untrusted++
		}
	}
	st.Files = files
	return st, nil
}

// Cull evicts least-recently-used signatures now.
func (s *Service) Cull(ctx context.Context) (int, error) {
	return s.notary.Cull(ctx)
}

func (s *Service) publish(kind, path string) {
	if s.publisher == nil || path == "" {
		return
	}
	s.publisher.PublishTrustEvent(kind, path)
	slog.Debug("trust event published", slog.String("kind", kind), slog.String("path", path))
}

func outcome(path string, res *notary.Result) *Outcome {
	return &Outcome{
		Path:          path,
		Algorithm:     res.Algorithm.String(),
		Signature:     res.Signature,
		Digest:        res.Digest.String(),
		Trusted:       res.Trusted,
		AlreadySigned: res.AlreadySigned,
	}
}
