package notary

import (
	"context"

	"github.com/starford/nbtrust/internal/nbformat"
)

// MarkCells stamps metadata.trusted on every code cell of nb. Other cells are
// left alone. The cache is not consulted.
func (n *Notary) MarkCells(nb *nbformat.Notebook, trusted bool) {
	for _, c := range nb.CodeCells() {
		c.SetTrusted(trusted)
	}
}

// CheckCells reports whether every code cell that has output is marked
// trusted. Cells without output have nothing unsafe to render and pass.
func (n *Notary) CheckCells(nb *nbformat.Notebook) bool {
	trusted := true
	for _, c := range nb.CodeCells() {
		if c.HasOutput() && !c.Trusted() {
			trusted = false
		}
	}
	return trusted
}

// MarkFromSignature checks nb and stamps its code cells with the outcome,
// the step performed before rendering a loaded notebook. Errors fail safe.
func (n *Notary) MarkFromSignature(ctx context.Context, nb *nbformat.Notebook) bool {
	trusted := n.IsTrusted(ctx, nb)
	n.MarkCells(nb, trusted)
	return trusted
}

// SignIfCellsTrusted signs nb only when all of its output is marked trusted,
// the save-time rule: output produced in a trusted session stays trusted.
// Otherwise the cache is left alone and the computed signature is returned
// with Trusted unset.
func (n *Notary) SignIfCellsTrusted(ctx context.Context, nb *nbformat.Notebook) (*Result, error) {
	if !n.CheckCells(nb) {
		return n.Compute(nb)
	}
	return n.Sign(ctx, nb)
}
