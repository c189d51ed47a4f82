package nbformat

import (
	"fmt"
	"strings"

	"github.com/starford/nbtrust/internal/apperr"
)

// Shape abstracts where a document keeps its cells and which of their string
// fields hold multi-line text.
type Shape interface {
	// Name identifies the layout ("cells" or "worksheets").
	Name() string
	// Cells returns the cells of root in document order.
	Cells(root map[string]any) []Cell
	// SplitLines rewrites every multi-line text field of root into the
	// list-of-lines form, in place.
	SplitLines(root map[string]any)
}

func shapeFor(major int) (Shape, error) {
	switch {
	case major >= 4:
		return cellsShape{}, nil
	case major == 2 || major == 3:
		return worksheetShape{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported nbformat version %d", apperr.ErrInvalidNotebook, major)
	}
}

// cellsShape is nbformat 4: cells directly under the document.
type cellsShape struct{}

func (cellsShape) Name() string { return "cells" }

func (cellsShape) Cells(root map[string]any) []Cell {
	return cellsOf(root["cells"])
}

func (s cellsShape) SplitLines(root map[string]any) {
	for _, c := range s.Cells(root) {
		splitField(c.m, "source")
		if att, ok := c.m["attachments"].(map[string]any); ok {
			for _, bundle := range att {
				if b, ok := bundle.(map[string]any); ok {
					splitMimeBundle(b)
				}
			}
		}
		if !c.IsCode() {
			continue
		}
		for _, o := range c.Outputs() {
			out, ok := o.(map[string]any)
			if !ok {
				continue
			}
			switch out["output_type"] {
			case "execute_result", "display_data":
				if data, ok := out["data"].(map[string]any); ok {
					splitMimeBundle(data)
				}
			case "stream":
				splitField(out, "text")
			}
		}
	}
}

// worksheetShape is nbformat 2 and 3: cells nested under worksheets.
type worksheetShape struct{}

var v3MultilineOutputs = []string{"text", "html", "svg", "latex", "javascript", "json"}

func (worksheetShape) Name() string { return "worksheets" }

func (worksheetShape) Cells(root map[string]any) []Cell {
	var out []Cell
	sheets, _ := root["worksheets"].([]any)
	for _, ws := range sheets {
		if m, ok := ws.(map[string]any); ok {
			out = append(out, cellsOf(m["cells"])...)
		}
	}
	return out
}

func (s worksheetShape) SplitLines(root map[string]any) {
	for _, c := range s.Cells(root) {
		if !c.IsCode() {
			splitField(c.m, "source")
			splitField(c.m, "rendered")
			continue
		}
		splitField(c.m, "input")
		for _, o := range c.Outputs() {
			out, ok := o.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range v3MultilineOutputs {
				splitField(out, key)
			}
		}
	}
}

// splitMimeBundle splits every entry of a mime bundle except JSON payloads,
// which are structured values rather than text.
func splitMimeBundle(data map[string]any) {
	for mime := range data {
		if !isJSONMime(mime) {
			splitField(data, mime)
		}
	}
}

func isJSONMime(mime string) bool {
	return mime == "application/json" ||
		(strings.HasPrefix(mime, "application/") && strings.HasSuffix(mime, "+json"))
}

// splitField normalises m[key] to a list of lines. A value that is already a
// list of strings is rejoined first so that every in-memory form of the same
// text produces the same lines.
func splitField(m map[string]any, key string) {
	switch v := m[key].(type) {
	case string:
		m[key] = SplitLines(v)
	case []any:
		if joined, ok := joinLines(v); ok {
			m[key] = SplitLines(joined)
		}
	}
}

func joinLines(lines []any) (string, bool) {
	var b strings.Builder
	for _, l := range lines {
		s, ok := l.(string)
		if !ok {
			return "", false
		}
		b.WriteString(s)
	}
	return b.String(), true
}

// SplitLines splits s after every "\n", keeping the line terminators, so that
// concatenating the result yields s again. An empty string yields no lines.
func SplitLines(s string) []any {
	out := []any{}
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
