// Package nbformat is the narrow notebook document model consumed by the notary.
//
// A Notebook wraps the decoded JSON tree (map[string]any, []any, string,
// json.Number, float64, bool, nil). Binary payloads may also be held as []byte.
// Cell iteration is delegated to a Shape chosen from the nbformat version:
// version 4 stores cells directly under the document, versions 2 and 3 nest
// them under worksheets.
package nbformat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/starford/nbtrust/internal/apperr"
)

// Notebook is a notebook document owned by the caller.
type Notebook struct {
	root  map[string]any
	shape Shape
}

// New wraps an already decoded document tree. The tree is not copied.
func New(root map[string]any) (*Notebook, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: empty document", apperr.ErrInvalidNotebook)
	}
	major, ok := intValue(root["nbformat"])
	if !ok {
		return nil, fmt.Errorf("%w: missing nbformat version", apperr.ErrInvalidNotebook)
	}
	shape, err := shapeFor(major)
	if err != nil {
		return nil, err
	}
	if _, ok := root["metadata"]; !ok {
		root["metadata"] = map[string]any{}
	}
	if _, ok := root["metadata"].(map[string]any); !ok {
		return nil, fmt.Errorf("%w: metadata is not an object", apperr.ErrInvalidNotebook)
	}
	return &Notebook{root: root, shape: shape}, nil
}

// Read decodes a notebook from r. Numbers are kept as json.Number so that
// integers survive a round trip unchanged.
func Read(r io.Reader) (*Notebook, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", apperr.ErrInvalidNotebook, err)
	}
	return New(root)
}

// ReadBytes decodes a notebook from data.
func ReadBytes(data []byte) (*Notebook, error) {
	return Read(bytes.NewReader(data))
}

// Major returns the nbformat major version.
func (nb *Notebook) Major() int {
	v, _ := intValue(nb.root["nbformat"])
	return v
}

// Minor returns the nbformat minor version, or 0 when absent.
func (nb *Notebook) Minor() int {
	v, _ := intValue(nb.root["nbformat_minor"])
	return v
}

// Root returns the underlying document tree.
func (nb *Notebook) Root() map[string]any { return nb.root }

// Shape returns the cell layout of this document.
func (nb *Notebook) Shape() Shape { return nb.shape }

// Metadata returns the top-level metadata mapping.
func (nb *Notebook) Metadata() map[string]any {
	return nb.root["metadata"].(map[string]any)
}

// Cells returns every cell in document order.
func (nb *Notebook) Cells() []Cell {
	return nb.shape.Cells(nb.root)
}

// CodeCells returns the cells whose cell_type is "code".
func (nb *Notebook) CodeCells() []Cell {
	var out []Cell
	for _, c := range nb.Cells() {
		if c.IsCode() {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy of the notebook.
func (nb *Notebook) Clone() *Notebook {
	return &Notebook{
		root:  deepCopy(nb.root).(map[string]any),
		shape: nb.shape,
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []byte:
		return bytes.Clone(t)
	default:
		return v
	}
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), t == float64(int(t))
	case json.Number:
		n, err := strconv.Atoi(t.String())
		return n, err == nil
	default:
		return 0, false
	}
}

// StripTransient removes fields that annotate trust rather than content:
// the document signature and every cell's trusted flag.
func (nb *Notebook) StripTransient() {
	delete(nb.Metadata(), "signature")
	for _, c := range nb.Cells() {
		delete(c.m, "trusted")
		if md := c.Metadata(); md != nil {
			delete(md, "trusted")
		}
	}
}

// SplitLines rewrites multi-line text fields into their list-of-lines form.
func (nb *Notebook) SplitLines() {
	nb.shape.SplitLines(nb.root)
}

// Write encodes nb to w in the on-disk layout: one-space indentation, HTML
// characters unescaped and a trailing newline.
func Write(w io.Writer, nb *Notebook) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(nb.root); err != nil {
		return fmt.Errorf("nbformat: encode: %w", err)
	}
	return nil
}

// Bytes returns nb encoded as by Write.
func (nb *Notebook) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, nb); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
