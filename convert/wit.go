package convert

import (
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

// Variant is the dynamic Go form of a variant value.
type Variant struct {
	Value any
	Case  string
}

// ForWIT builds a dynamic codec for a WIT type. Go representations:
//
//	bool, u8..u64, s8..s64, f32, f64  bool, uint8..uint64, int8..int64, float32, float64
//	char                               rune
//	string                             string
//	list<u8>                           []byte
//	list<T>, tuple<...>                []any
//	option<T>                          nil or the value; T may not be an option
//	record                             map[string]any
//	enum                               case name string
//	variant                            Variant
func ForWIT(t wit.Type) (Codec[any], error) {
	switch t := t.(type) {
	case wit.Bool:
		return erase[bool](Bool), nil
	case wit.U8:
		return erase[uint8](U8), nil
	case wit.S8:
		return erase[int8](I8), nil
	case wit.U16:
		return erase[uint16](U16), nil
	case wit.S16:
		return erase[int16](I16), nil
	case wit.U32:
		return erase[uint32](U32), nil
	case wit.S32:
		return erase[int32](I32), nil
	case wit.U64:
		return erase[uint64](U64), nil
	case wit.S64:
		return erase[int64](I64), nil
	case wit.F32:
		return erase[float32](F32), nil
	case wit.F64:
		return erase[float64](F64), nil
	case wit.Char:
		return erase[rune](charCodec{}), nil
	case wit.String:
		return erase[string](String), nil
	case *wit.TypeDef:
		return forKind(t.Kind)
	}
	return nil, errors.Unsupported(errors.PhaseLower, fmt.Sprintf("WIT type %T", t))
}

func forKind(kind wit.TypeDefKind) (Codec[any], error) {
	switch k := kind.(type) {
	case *wit.List:
		if _, ok := k.Type.(wit.U8); ok {
			return erase[[]byte](bytesCodec{}), nil
		}
		elem, err := ForWIT(k.Type)
		if err != nil {
			return nil, err
		}
		return erase(Sequence(elem)), nil
	case *wit.Option:
		if isOption(k.Type) {
			return nil, errors.Unsupported(errors.PhaseLower, "nested option")
		}
		inner, err := ForWIT(k.Type)
		if err != nil {
			return nil, err
		}
		return dynOption{inner: inner}, nil
	case *wit.Tuple:
		elems := make([]Codec[any], len(k.Types))
		for i, et := range k.Types {
			c, err := ForWIT(et)
			if err != nil {
				return nil, err
			}
			elems[i] = c
		}
		return dynTuple{elems: elems}, nil
	case *wit.Record:
		rec := dynRecord{names: make([]string, len(k.Fields)), fields: make([]Codec[any], len(k.Fields))}
		for i, f := range k.Fields {
			c, err := ForWIT(f.Type)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseLower, errors.KindUnsupported, err, "record field "+f.Name)
			}
			rec.names[i] = f.Name
			rec.fields[i] = c
		}
		return rec, nil
	case *wit.Enum:
		cases := make([]string, len(k.Cases))
		for i, c := range k.Cases {
			cases[i] = c.Name
		}
		return dynEnum{cases: cases}, nil
	case *wit.Variant:
		v := dynVariant{names: make([]string, len(k.Cases)), payloads: make([]Codec[any], len(k.Cases))}
		for i, c := range k.Cases {
			v.names[i] = c.Name
			if c.Type == nil {
				continue
			}
			pc, err := ForWIT(c.Type)
			if err != nil {
				return nil, err
			}
			v.payloads[i] = pc
		}
		return v, nil
	case wit.Type:
		return ForWIT(k)
	}
	return nil, errors.Unsupported(errors.PhaseLower, fmt.Sprintf("WIT type kind %T", kind))
}

// isOption reports whether t is an option, looking through aliases. Nil
// stands for none, so option<option<T>> has no Go form for some(none).
func isOption(t wit.Type) bool {
	for {
		td, ok := t.(*wit.TypeDef)
		if !ok {
			return false
		}
		switch k := td.Kind.(type) {
		case *wit.Option:
			return true
		case wit.Type:
			t = k
		default:
			return false
		}
	}
}

type erased[T any] struct {
	c Codec[T]
}

// erase adapts a typed codec to Codec[any] with a checked type assertion.
func erase[T any](c Codec[T]) Codec[any] {
	return erased[T]{c: c}
}

func (e erased[T]) Read(r *buffer.Reader) (any, error) {
	return e.c.Read(r)
}

func (e erased[T]) Write(w *buffer.Writer, v any) error {
	tv, ok := v.(T)
	if !ok {
		var zero T
		return errors.InvalidInput(errors.PhaseLower, fmt.Sprintf("want %T, got %T", zero, v))
	}
	return e.c.Write(w, tv)
}

func (e erased[T]) Size(v any) int {
	tv, ok := v.(T)
	if !ok {
		return 0
	}
	return e.c.Size(tv)
}

type charCodec struct{}

func (charCodec) Read(r *buffer.Reader) (rune, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if v > 0x10FFFF || (v >= 0xD800 && v <= 0xDFFF) {
		return 0, errors.InvalidData(errors.PhaseLift, nil, fmt.Sprintf("invalid char scalar %#x", v))
	}
	return rune(v), nil
}

func (charCodec) Write(w *buffer.Writer, v rune) error {
	w.WriteU32(uint32(v))
	return nil
}

func (charCodec) Size(rune) int { return 4 }

type dynOption struct {
	inner Codec[any]
}

func (o dynOption) Read(r *buffer.Reader) (any, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return o.inner.Read(r)
	default:
		return nil, errors.InvalidTag(nil, tag, "optional")
	}
}

func (o dynOption) Write(w *buffer.Writer, v any) error {
	if v == nil {
		w.WriteU8(0)
		return nil
	}
	w.WriteU8(1)
	return o.inner.Write(w, v)
}

func (o dynOption) Size(v any) int {
	if v == nil {
		return 1
	}
	return 1 + o.inner.Size(v)
}

type dynTuple struct {
	elems []Codec[any]
}

func (t dynTuple) Read(r *buffer.Reader) (any, error) {
	out := make([]any, len(t.elems))
	for i, c := range t.elems {
		v, err := c.Read(r)
		if err != nil {
			return nil, inField(err, fmt.Sprint(i))
		}
		out[i] = v
	}
	return out, nil
}

func (t dynTuple) Write(w *buffer.Writer, v any) error {
	items, ok := v.([]any)
	if !ok || len(items) != len(t.elems) {
		return errors.InvalidInput(errors.PhaseLower, fmt.Sprintf("want %d-tuple as []any, got %T", len(t.elems), v))
	}
	for i, c := range t.elems {
		if err := c.Write(w, items[i]); err != nil {
			return inField(err, fmt.Sprint(i))
		}
	}
	return nil
}

func (t dynTuple) Size(v any) int {
	items, _ := v.([]any)
	n := 0
	for i, c := range t.elems {
		if i < len(items) {
			n += c.Size(items[i])
		}
	}
	return n
}

type dynRecord struct {
	names  []string
	fields []Codec[any]
}

func (rc dynRecord) Read(r *buffer.Reader) (any, error) {
	out := make(map[string]any, len(rc.fields))
	for i, c := range rc.fields {
		v, err := c.Read(r)
		if err != nil {
			return nil, inField(err, rc.names[i])
		}
		out[rc.names[i]] = v
	}
	return out, nil
}

func (rc dynRecord) Write(w *buffer.Writer, v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return errors.InvalidInput(errors.PhaseLower, fmt.Sprintf("want record as map[string]any, got %T", v))
	}
	for i, c := range rc.fields {
		fv, present := m[rc.names[i]]
		if !present {
			return errors.New(errors.PhaseLower, errors.KindInvalidInput).
				Path(rc.names[i]).
				Detail("missing record field").
				Build()
		}
		if err := c.Write(w, fv); err != nil {
			return inField(err, rc.names[i])
		}
	}
	return nil
}

func (rc dynRecord) Size(v any) int {
	m, _ := v.(map[string]any)
	n := 0
	for i, c := range rc.fields {
		n += c.Size(m[rc.names[i]])
	}
	return n
}

type dynEnum struct {
	cases []string
}

func (e dynEnum) Read(r *buffer.Reader) (any, error) {
	d, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if d < 1 || int(d) > len(e.cases) {
		return nil, errors.InvalidTag(nil, d, "enum")
	}
	return e.cases[d-1], nil
}

func (e dynEnum) Write(w *buffer.Writer, v any) error {
	name, _ := v.(string)
	for i, c := range e.cases {
		if c == name {
			w.WriteI32(int32(i + 1))
			return nil
		}
	}
	return errors.InvalidInput(errors.PhaseLower, fmt.Sprintf("unknown enum case %v", v))
}

func (dynEnum) Size(any) int { return 4 }

type dynVariant struct {
	names    []string
	payloads []Codec[any]
}

func (vc dynVariant) Read(r *buffer.Reader) (any, error) {
	d, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if d < 1 || int(d) > len(vc.names) {
		return nil, errors.InvalidTag(nil, d, "variant")
	}
	out := Variant{Case: vc.names[d-1]}
	if p := vc.payloads[d-1]; p != nil {
		if out.Value, err = p.Read(r); err != nil {
			return nil, inField(err, out.Case)
		}
	}
	return out, nil
}

func (vc dynVariant) Write(w *buffer.Writer, v any) error {
	val, ok := v.(Variant)
	if !ok {
		return errors.InvalidInput(errors.PhaseLower, fmt.Sprintf("want Variant, got %T", v))
	}
	for i, name := range vc.names {
		if name != val.Case {
			continue
		}
		w.WriteI32(int32(i + 1))
		if p := vc.payloads[i]; p != nil {
			return inField(p.Write(w, val.Value), name)
		}
		return nil
	}
	return errors.InvalidInput(errors.PhaseLower, "unknown variant case "+val.Case)
}

func (vc dynVariant) Size(v any) int {
	val, _ := v.(Variant)
	for i, name := range vc.names {
		if name == val.Case && vc.payloads[i] != nil {
			return 4 + vc.payloads[i].Size(val.Value)
		}
	}
	return 4
}

// TypeString renders a WIT type structurally. Named definitions render as
// their structure so two identical shapes always print the same.
func TypeString(t wit.Type) string {
	var b strings.Builder
	writeType(&b, t)
	return b.String()
}

func writeType(b *strings.Builder, t wit.Type) {
	switch t := t.(type) {
	case nil:
		b.WriteString("_")
	case wit.Bool:
		b.WriteString("bool")
	case wit.U8:
		b.WriteString("u8")
	case wit.S8:
		b.WriteString("s8")
	case wit.U16:
		b.WriteString("u16")
	case wit.S16:
		b.WriteString("s16")
	case wit.U32:
		b.WriteString("u32")
	case wit.S32:
		b.WriteString("s32")
	case wit.U64:
		b.WriteString("u64")
	case wit.S64:
		b.WriteString("s64")
	case wit.F32:
		b.WriteString("f32")
	case wit.F64:
		b.WriteString("f64")
	case wit.Char:
		b.WriteString("char")
	case wit.String:
		b.WriteString("string")
	case *wit.TypeDef:
		writeKind(b, t.Kind)
	default:
		fmt.Fprintf(b, "%T", t)
	}
}

func writeKind(b *strings.Builder, kind wit.TypeDefKind) {
	switch k := kind.(type) {
	case *wit.List:
		b.WriteString("list<")
		writeType(b, k.Type)
		b.WriteByte('>')
	case *wit.Option:
		b.WriteString("option<")
		writeType(b, k.Type)
		b.WriteByte('>')
	case *wit.Result:
		b.WriteString("result<")
		writeType(b, k.OK)
		b.WriteString(", ")
		writeType(b, k.Err)
		b.WriteByte('>')
	case *wit.Tuple:
		b.WriteString("tuple<")
		for i, et := range k.Types {
			if i > 0 {
				b.WriteString(", ")
			}
			writeType(b, et)
		}
		b.WriteByte('>')
	case *wit.Record:
		b.WriteString("record{")
		for i, f := range k.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			writeType(b, f.Type)
		}
		b.WriteByte('}')
	case *wit.Enum:
		b.WriteString("enum{")
		for i, c := range k.Cases {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
		}
		b.WriteByte('}')
	case *wit.Variant:
		b.WriteString("variant{")
		for i, c := range k.Cases {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			if c.Type != nil {
				b.WriteByte('(')
				writeType(b, c.Type)
				b.WriteByte(')')
			}
		}
		b.WriteByte('}')
	case *wit.Flags:
		b.WriteString("flags{")
		for i, f := range k.Flags {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
		}
		b.WriteByte('}')
	case wit.Type:
		writeType(b, k)
	default:
		fmt.Fprintf(b, "%T", kind)
	}
}

// ParseType parses a WIT type expression. Primitives are handled by the wit
// package; list, option, result and tuple are parsed here, nesting freely.
// A result without a type in one position is written "_".
func ParseType(s string) (wit.Type, error) {
	s = strings.TrimSpace(s)
	name, args, generic := strings.Cut(s, "<")
	if !generic {
		t, err := wit.ParseType(s)
		if err != nil {
			return nil, errors.ParseFailed("type "+s, err)
		}
		return t, nil
	}
	if !strings.HasSuffix(args, ">") {
		return nil, errors.ParseFailed("type "+s, fmt.Errorf("unterminated type arguments"))
	}
	parts, err := parseArgs(strings.TrimSuffix(args, ">"))
	if err != nil {
		return nil, errors.ParseFailed("type "+s, err)
	}

	arity := func(n int) error {
		if len(parts) != n {
			return errors.ParseFailed("type "+s, fmt.Errorf("%s takes %d type arguments, got %d", name, n, len(parts)))
		}
		return nil
	}

	switch strings.TrimSpace(name) {
	case "list":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: parts[0]}}, nil
	case "option":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: parts[0]}}, nil
	case "result":
		if err := arity(2); err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Result{OK: parts[0], Err: parts[1]}}, nil
	case "tuple":
		return &wit.TypeDef{Kind: &wit.Tuple{Types: parts}}, nil
	}
	return nil, errors.ParseFailed("type "+s, fmt.Errorf("unknown generic type %q", name))
}

func parseArgs(s string) ([]wit.Type, error) {
	var out []wit.Type
	for _, part := range SplitTopLevel(s) {
		if part == "_" {
			out = append(out, nil)
			continue
		}
		t, err := ParseType(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SplitTopLevel splits a comma-separated list, ignoring commas nested in
// parentheses or angle brackets.
func SplitTopLevel(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}
