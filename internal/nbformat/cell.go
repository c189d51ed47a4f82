package nbformat

// Cell types.
const (
	CellCode     = "code"
	CellMarkdown = "markdown"
	CellRaw      = "raw"
	CellHeading  = "heading"
)

// Cell is a view over one cell mapping of a Notebook. Mutations through a
// Cell are visible in the owning document.
type Cell struct {
	m map[string]any
}

// Type returns the cell_type field.
func (c Cell) Type() string {
	s, _ := c.m["cell_type"].(string)
	return s
}

// IsCode reports whether the cell is a code cell.
func (c Cell) IsCode() bool { return c.Type() == CellCode }

// Raw returns the underlying mapping.
func (c Cell) Raw() map[string]any { return c.m }

// Metadata returns the cell metadata, or nil when the cell has none.
func (c Cell) Metadata() map[string]any {
	md, _ := c.m["metadata"].(map[string]any)
	return md
}

// Outputs returns the outputs sequence of a code cell.
func (c Cell) Outputs() []any {
	out, _ := c.m["outputs"].([]any)
	return out
}

// HasOutput reports whether the cell carries at least one non-empty output.
func (c Cell) HasOutput() bool {
	for _, o := range c.Outputs() {
		switch t := o.(type) {
		case nil:
		case map[string]any:
			if len(t) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// Trusted reports whether metadata.trusted is exactly true.
func (c Cell) Trusted() bool {
	v, _ := c.Metadata()["trusted"].(bool)
	return v
}

// SetTrusted stamps metadata.trusted. A legacy top-level "trusted" key is removed.
func (c Cell) SetTrusted(trusted bool) {
	md := c.Metadata()
	if md == nil {
		md = map[string]any{}
		c.m["metadata"] = md
	}
	md["trusted"] = trusted
	delete(c.m, "trusted")
}

func cellsOf(v any) []Cell {
	list, _ := v.([]any)
	out := make([]Cell, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, Cell{m: m})
		}
	}
	return out
}
