package notary

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/storage"
)

// FileStatus is the trust state of one notebook file.
type FileStatus struct {
	Path      string     `json:"path"`
	Trusted   bool       `json:"trusted"`
	Signature string     `json:"signature,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Audit checks every notebook under dir with at most workers concurrent
// checks. Per-file failures are reported in FileStatus.Error and count as
// untrusted; only listing the directory can fail the whole audit. Auditing
// does not refresh any signature's last use.
func (n *Notary) Audit(ctx context.Context, store storage.Provider, dir string, workers int) ([]FileStatus, error) {
	files, err := store.List(dir)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 4
	}

	out := make([]FileStatus, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			out[i] = n.CheckFile(gCtx, store, f.Path)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(out, func(a, b FileStatus) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// CheckFile reads and peeks a single notebook from store.
func (n *Notary) CheckFile(ctx context.Context, store storage.Provider, path string) FileStatus {
	st := FileStatus{Path: path}
	data, err := store.Read(path)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	nb, err := nbformat.ReadBytes(data)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	res, err := n.Peek(ctx, nb)
	if err != nil {
		n.logger.Warn("audit: check failed", slog.String("path", path), slog.String("error", err.Error()))
		st.Error = err.Error()
		return st
	}
	st.Trusted = res.Trusted
	st.Signature = res.Signature
	st.LastSeen = res.LastSeen
	return st
}
