package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/storage"
	"github.com/starford/nbtrust/internal/trust"
	"github.com/starford/nbtrust/internal/trustservice"
)

// StdinName is how a notebook read from standard input is reported.
const StdinName = "<stdin>"

// Streams are the standard streams of a command invocation.
type Streams struct {
	In  io.Reader
	Out io.Writer
}

// readNotebook loads a notebook from a file, or from in when name is "-".
// It returns the name to report for the source.
func readNotebook(name string, in io.Reader) (*nbformat.Notebook, string, error) {
	if name == "-" {
		nb, err := nbformat.Read(in)
		if err != nil {
			return nil, StdinName, fmt.Errorf("%s: %w", StdinName, err)
		}
		return nb, StdinName, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, name, err
	}
	defer f.Close()
	nb, err := nbformat.Read(f)
	if err != nil {
		return nil, name, fmt.Errorf("%s: %w", name, err)
	}
	return nb, name, nil
}

func sources(names []string) []string {
	if len(names) == 0 {
		return []string{"-"}
	}
	return names
}

// SignNotebooks signs every named notebook (standard input when names is
// empty) and reports each one on s.Out as "Signing notebook: <source>" or
// "already signed: <source>". The first failure stops the run.
func SignNotebooks(ctx context.Context, n *notary.Notary, names []string, s Streams) error {
	for _, name := range sources(names) {
		nb, src, err := readNotebook(name, s.In)
		if err != nil {
			return err
		}
		res, err := n.Sign(ctx, nb)
		if err != nil {
			return fmt.Errorf("sign %s: %w", src, err)
		}
		if res.AlreadySigned {
			fmt.Fprintf(s.Out, "already signed: %s\n", src)
		} else {
			fmt.Fprintf(s.Out, "Signing notebook: %s\n", src)
		}
	}
	return nil
}

// SignTrustedOutput signs each named notebook only when all of its code cell
// output is already marked trusted. Notebooks it refuses are reported as
// "Notebook not trusted, output unmarked: <source>" and do not fail the run.
func SignTrustedOutput(ctx context.Context, n *notary.Notary, names []string, s Streams) error {
	for _, name := range sources(names) {
		nb, src, err := readNotebook(name, s.In)
		if err != nil {
			return err
		}
		res, err := n.SignIfCellsTrusted(ctx, nb)
		if err != nil {
			return fmt.Errorf("sign %s: %w", src, err)
		}
		switch {
		case !res.Trusted:
			fmt.Fprintf(s.Out, "Notebook not trusted, output unmarked: %s\n", src)
		case res.AlreadySigned:
			fmt.Fprintf(s.Out, "already signed: %s\n", src)
		default:
			fmt.Fprintf(s.Out, "Signing notebook: %s\n", src)
		}
	}
	return nil
}

// MarkNotebooks stamps the code cells of each named notebook with its trust
// verdict and writes it back in place. A notebook read from standard input
// is written to s.Out instead. Each file is reported as "trusted: <source>"
// or "untrusted: <source>".
func MarkNotebooks(ctx context.Context, n *notary.Notary, names []string, s Streams) error {
	for _, name := range sources(names) {
		nb, src, err := readNotebook(name, s.In)
		if err != nil {
			return err
		}
		trusted := n.MarkFromSignature(ctx, nb)
		if name == "-" {
			if err := nbformat.Write(s.Out, nb); err != nil {
				return fmt.Errorf("mark %s: %w", src, err)
			}
			continue
		}
		if err := writeNotebook(name, nb); err != nil {
			return fmt.Errorf("mark %s: %w", src, err)
		}
		verdict := "untrusted"
		if trusted {
			verdict = "trusted"
		}
		fmt.Fprintf(s.Out, "%s: %s\n", verdict, src)
	}
	return nil
}

// writeNotebook atomically replaces the file at name.
func writeNotebook(name string, nb *nbformat.Notebook) error {
	data, err := nb.Bytes()
	if err != nil {
		return err
	}
	dir, err := storage.NewFS(filepath.Dir(name))
	if err != nil {
		return err
	}
	return dir.Write(filepath.Base(name), data)
}

// CheckNotebooks reports "trusted: <source>" or "untrusted: <source>" for
// every named notebook and returns whether all of them are trusted.
func CheckNotebooks(ctx context.Context, n *notary.Notary, names []string, s Streams) (bool, error) {
	all := true
	for _, name := range sources(names) {
		nb, src, err := readNotebook(name, s.In)
		if err != nil {
			return false, err
		}
		ok, err := n.CheckSignature(ctx, nb)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", src, err)
		}
		if ok {
			fmt.Fprintf(s.Out, "trusted: %s\n", src)
		} else {
			all = false
			fmt.Fprintf(s.Out, "untrusted: %s\n", src)
		}
	}
	return all, nil
}

// UnsignNotebooks removes the signature of every named notebook.
func UnsignNotebooks(ctx context.Context, n *notary.Notary, names []string, s Streams) error {
	for _, name := range sources(names) {
		nb, src, err := readNotebook(name, s.In)
		if err != nil {
			return err
		}
		if err := n.Unsign(ctx, nb); err != nil {
			return fmt.Errorf("unsign %s: %w", src, err)
		}
		fmt.Fprintf(s.Out, "Unsigning notebook: %s\n", src)
	}
	return nil
}

// PrintStatus writes a workspace report, one notebook per line, followed by
// a summary.
func PrintStatus(w io.Writer, st *trustservice.Status) {
	trusted := color.New(color.FgGreen)
	untrusted := color.New(color.FgRed)
	broken := color.New(color.FgYellow)

	for _, f := range st.Files {
		switch {
		case f.Error != "":
			broken.Fprintf(w, "  ! %s (%s)\n", f.Path, f.Error)
		case f.Trusted:
			trusted.Fprintf(w, "  ✓ %s\n", f.Path)
		default:
			untrusted.Fprintf(w, "  ✗ %s\n", f.Path)
		}
	}
	fmt.Fprintf(w, "%d trusted, %d untrusted (%s)\n", st.Trusted, st.Untrusted, st.Algorithm)
}

// PrintStore writes the trust database summary: the number of signatures,
// when eviction last ran and, with recent > 0, the most recently used
// signatures.
func PrintStore(w io.Writer, db *trust.DB, location string, recent int) error {
	count, err := db.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d signatures in %s\n", count, location)

	culled, err := db.CullMarker()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "last cull: %s\n", culled.UTC().Format(time.RFC3339))

	if recent <= 0 {
		return nil
	}
	records, err := db.Recent(recent)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(w, "  %s  %s:%s\n", r.LastSeen.UTC().Format(time.RFC3339), r.Algorithm, r.Signature)
	}
	return nil
}
