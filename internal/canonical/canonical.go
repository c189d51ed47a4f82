// Package canonical produces the deterministic byte form of a notebook that
// signatures are computed over.
//
// The form is RFC 8785 (JCS) JSON of the document after transient trust
// annotations are removed and multi-line text is split into lines. Binary
// values are emitted as standard base64. Integers beyond double precision
// keep all their digits.
package canonical

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/starford/nbtrust/internal/apperr"
	"github.com/starford/nbtrust/internal/nbformat"
)

// Marshal returns the canonical bytes of nb. nb itself is left untouched.
func Marshal(nb *nbformat.Notebook) ([]byte, error) {
	c := nb.Clone()
	c.StripTransient()
	c.SplitLines()

	tree, err := normalise(c.Root(), "")
	if err != nil {
		return nil, err
	}
	return Encode(tree)
}

// number is a JSON number already in canonical text form.
type number string

// Encode writes an already normalised tree as RFC 8785 JSON: object keys
// sorted by UTF-16 code units, the JCS string escapes and ES6 number form.
// Integers a double cannot hold are written digit for digit, so distinct
// documents never collapse onto the same bytes.
func Encode(tree any) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := encodeValue(buf, tree, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any, path string) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case number:
		buf.WriteString(string(t))
	case string:
		writeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e, fmt.Sprintf("%s/%d", path, i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareUTF16)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k], path+"/"+k); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &apperr.SerializationError{Path: path, Err: fmt.Errorf("value of type %T is not normalised", v)}
	}
	return nil
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// canonicalNumber returns the canonical text of the JSON number literal lit.
// The ES6 form is used whenever it denotes exactly the same value.
func canonicalNumber(lit string) (number, error) {
	if lit == "" || !(lit[0] == '-' || (lit[0] >= '0' && lit[0] <= '9')) || !json.Valid([]byte(lit)) {
		return "", fmt.Errorf("invalid number %q", lit)
	}
	r, ok := new(big.Rat).SetString(lit)
	if !ok {
		return "", fmt.Errorf("invalid number %q", lit)
	}
	if f, _ := r.Float64(); !math.IsInf(f, 0) {
		es6, err := jsoncanonicalizer.NumberToJSON(f)
		if err != nil {
			return "", err
		}
		if back, ok := new(big.Rat).SetString(es6); ok && back.Cmp(r) == 0 {
			return number(es6), nil
		}
	}
	if r.IsInt() {
		return number(r.Num().String()), nil
	}
	return "", fmt.Errorf("number %s has no exact double-precision form", lit)
}

// normalise copies v into the plain JSON shapes, rejecting anything that
// would not encode to one exact byte sequence.
func normalise(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil, bool:
		return t, nil
	case int, int8, int16, int32, int64:
		return canonicalLiteral(strconv.FormatInt(reflect.ValueOf(t).Int(), 10), path)
	case uint, uint8, uint16, uint32, uint64:
		return canonicalLiteral(strconv.FormatUint(reflect.ValueOf(t).Uint(), 10), path)
	case string:
		if !utf8.ValidString(t) {
			return nil, &apperr.SerializationError{Path: path, Err: errors.New("invalid UTF-8 in string")}
		}
		return t, nil
	case json.Number:
		return canonicalLiteral(t.String(), path)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, &apperr.SerializationError{Path: path, Err: fmt.Errorf("non-finite number %v", t)}
		}
		es6, err := jsoncanonicalizer.NumberToJSON(t)
		if err != nil {
			return nil, &apperr.SerializationError{Path: path, Err: err}
		}
		return number(es6), nil
	case float32:
		return normalise(float64(t), path)
	case []byte:
		return base64.StdEncoding.EncodeToString(t), nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			n, err := normalise(s, fmt.Sprintf("%s/%d", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalise(e, fmt.Sprintf("%s/%d", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if !utf8.ValidString(k) {
				return nil, &apperr.SerializationError{Path: path, Err: errors.New("invalid UTF-8 in key")}
			}
			n, err := normalise(e, path+"/"+k)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return normalise(out, path)
	default:
		return nil, &apperr.SerializationError{Path: path, Err: fmt.Errorf("unsupported value of type %T", v)}
	}
}

func canonicalLiteral(lit, path string) (any, error) {
	n, err := canonicalNumber(lit)
	if err != nil {
		return nil, &apperr.SerializationError{Path: path, Err: err}
	}
	return n, nil
}
