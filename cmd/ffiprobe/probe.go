package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"
	"gopkg.in/yaml.v3"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/bridge"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/names"
)

var kindOrder = []names.Kind{
	names.KindFunction,
	names.KindConstructor,
	names.KindMethod,
	names.KindFree,
	names.KindChecksum,
	names.KindFuture,
	names.KindBuffer,
	names.KindContractVersion,
	names.KindUnknown,
}

// namespaceOf derives a namespace from a library file name: libdemo_core.wasm -> demo_core
func namespaceOf(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimPrefix(base, "lib")
	return strings.ReplaceAll(base, "-", "_")
}

// symbolFor expands a short function name into its API symbol
func symbolFor(ns, s string) string {
	switch {
	case strings.HasPrefix(s, ns+"_"), strings.HasPrefix(s, "ffi_"):
		return s
	case strings.HasPrefix(s, "func_"), strings.HasPrefix(s, "method_"),
		strings.HasPrefix(s, "constructor_"), strings.HasPrefix(s, "free_"):
		return ns + "_fn_" + s
	default:
		return names.Function(ns, s)
	}
}

func entityFor(ns, s string) string {
	return names.Entity(ns, symbolFor(ns, s))
}

func printSymbols(w io.Writer, b *bridge.Bridge) {
	lister, ok := b.Library().(ffibridge.Lister)
	if !ok {
		fmt.Fprintln(w, "\nLibrary cannot list its symbols.")
		return
	}
	p := names.Parser{Namespace: b.Namespace()}
	groups := make(map[names.Kind][]names.Symbol)
	raw := make(map[names.Kind][]string)
	for _, s := range lister.Symbols() {
		sym := p.Parse(s)
		groups[sym.Kind] = append(groups[sym.Kind], sym)
		raw[sym.Kind] = append(raw[sym.Kind], s)
	}

	for _, k := range kindOrder {
		if len(groups[k]) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d):\n", k, len(groups[k]))
		for i, sym := range groups[k] {
			fmt.Fprintf(w, "  %-48s %s\n", raw[k][i], describe(sym))
		}
	}
}

func describe(s names.Symbol) string {
	switch s.Kind {
	case names.KindConstructor, names.KindMethod:
		return s.Object + "." + s.Name
	case names.KindFree:
		return s.Object
	case names.KindFunction, names.KindChecksum:
		return s.Name
	case names.KindFuture:
		return s.Op + " " + s.Result
	case names.KindBuffer:
		return s.Op
	default:
		return ""
	}
}

// callDynamic lowers raw arguments by sig, calls symbol and renders its result
func callDynamic(ctx context.Context, b *bridge.Bridge, symbol string, sig guard.Signature, raw []string) (string, error) {
	if len(sig.Params) == 0 && len(raw) > 0 {
		return "", fmt.Errorf("%d arguments given but no signature; pass -sig or -wit", len(raw))
	}
	if len(raw) != len(sig.Params) {
		return "", fmt.Errorf("%s takes %d arguments, got %d", symbol, len(sig.Params), len(raw))
	}
	if len(sig.Results) > 1 {
		return "", fmt.Errorf("multiple results are not supported")
	}

	if err := b.Ready(ctx); err != nil {
		return "", err
	}

	tr := b.Channel().Transfer()
	var (
		args  []uint64
		owned []buffer.Buffer
	)
	for i, t := range sig.Params {
		slots, buf, err := lowerArg(ctx, tr, t, raw[i])
		if err != nil {
			b.Channel().Discard(ctx, owned...)
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, slots...)
		if buf != nil {
			owned = append(owned, *buf)
		}
	}

	res, err := b.CallOwned(ctx, symbol, payloadErrors, owned, args...)
	if err != nil {
		return "", err
	}
	if len(sig.Results) == 0 {
		if len(res) == 0 {
			return "ok", nil
		}
		return fmt.Sprint(res), nil
	}
	v, err := liftResult(ctx, tr, sig.Results[0], res)
	if err != nil {
		return "", err
	}
	return render(v), nil
}

// payloadErrors reports typed native errors with their raw payload
var payloadErrors = call.ErrorHandlerFunc(func(ctx context.Context, t buffer.Transfer, b buffer.Buffer) error {
	data, err := t.Load(ctx, b)
	if err != nil {
		return err
	}
	if err := t.Free(ctx, b); err != nil {
		return err
	}
	return fmt.Errorf("native error, payload %x", data)
})

func isScalar(t wit.Type) bool {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.U64, wit.S64, wit.F32, wit.F64:
		return true
	}
	return false
}

// lowerArg returns the slots of one argument and the buffer it allocated, if any
func lowerArg(ctx context.Context, tr buffer.Transfer, t wit.Type, raw string) ([]uint64, *buffer.Buffer, error) {
	v, err := parseValue(t, raw)
	if err != nil {
		return nil, nil, err
	}
	if isScalar(t) {
		slot, err := lowerScalar(ctx, tr, v)
		if err != nil {
			return nil, nil, err
		}
		return []uint64{slot}, nil, nil
	}
	codec, err := convert.ForWIT(t)
	if err != nil {
		return nil, nil, err
	}
	buf, err := convert.LowerBuffer(ctx, tr, codec, v)
	if err != nil {
		return nil, nil, err
	}
	return buf.Slots(), &buf, nil
}

func lowerScalar(ctx context.Context, tr buffer.Transfer, v any) (uint64, error) {
	switch v := v.(type) {
	case bool:
		return convert.Bool.Lower(ctx, tr, v)
	case uint8:
		return convert.U8.Lower(ctx, tr, v)
	case int8:
		return convert.I8.Lower(ctx, tr, v)
	case uint16:
		return convert.U16.Lower(ctx, tr, v)
	case int16:
		return convert.I16.Lower(ctx, tr, v)
	case uint32:
		return convert.U32.Lower(ctx, tr, v)
	case int32:
		return convert.I32.Lower(ctx, tr, v)
	case uint64:
		return convert.U64.Lower(ctx, tr, v)
	case int64:
		return convert.I64.Lower(ctx, tr, v)
	case float32:
		return convert.F32.Lower(ctx, tr, v)
	case float64:
		return convert.F64.Lower(ctx, tr, v)
	}
	return 0, fmt.Errorf("not a scalar: %T", v)
}

func liftResult(ctx context.Context, tr buffer.Transfer, t wit.Type, res []uint64) (any, error) {
	if isScalar(t) {
		if len(res) != 1 {
			return nil, fmt.Errorf("expected 1 result slot, got %d", len(res))
		}
		return liftScalar(ctx, tr, t, res[0])
	}
	buf, err := buffer.FromSlots(res)
	if err != nil {
		return nil, err
	}
	codec, err := convert.ForWIT(t)
	if err != nil {
		_ = tr.Free(ctx, buf)
		return nil, err
	}
	return convert.LiftBuffer(ctx, tr, codec, buf)
}

func liftScalar(ctx context.Context, tr buffer.Transfer, t wit.Type, slot uint64) (any, error) {
	switch t.(type) {
	case wit.Bool:
		return convert.Bool.Lift(ctx, tr, slot)
	case wit.U8:
		return convert.U8.Lift(ctx, tr, slot)
	case wit.S8:
		return convert.I8.Lift(ctx, tr, slot)
	case wit.U16:
		return convert.U16.Lift(ctx, tr, slot)
	case wit.S16:
		return convert.I16.Lift(ctx, tr, slot)
	case wit.U32:
		return convert.U32.Lift(ctx, tr, slot)
	case wit.S32:
		return convert.I32.Lift(ctx, tr, slot)
	case wit.U64:
		return convert.U64.Lift(ctx, tr, slot)
	case wit.S64:
		return convert.I64.Lift(ctx, tr, slot)
	case wit.F32:
		return convert.F32.Lift(ctx, tr, slot)
	case wit.F64:
		return convert.F64.Lift(ctx, tr, slot)
	}
	return nil, fmt.Errorf("not a scalar: %s", convert.TypeString(t))
}

// parseValue reads an argument in the Go form convert.ForWIT expects.
// Strings are taken verbatim; list<u8> is the raw bytes of the argument;
// composite values are written in YAML flow syntax, e.g. [1, 2] or {a: 1}.
func parseValue(t wit.Type, raw string) (any, error) {
	switch t.(type) {
	case wit.String:
		return raw, nil
	case wit.Char:
		r := []rune(raw)
		if len(r) != 1 {
			return nil, fmt.Errorf("char needs exactly one character, got %q", raw)
		}
		return r[0], nil
	}
	if isScalar(t) {
		return parseScalar(t, strings.TrimSpace(raw))
	}
	if td, ok := t.(*wit.TypeDef); ok {
		if l, ok := td.Kind.(*wit.List); ok {
			if _, ok := l.Type.(wit.U8); ok {
				return []byte(raw), nil
			}
		}
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		return nil, fmt.Errorf("parse %s value: %w", convert.TypeString(t), err)
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return fromNode(t, node.Content[0])
	}
	return fromNode(t, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"})
}

func parseScalar(t wit.Type, s string) (any, error) {
	switch t.(type) {
	case wit.Bool:
		return strconv.ParseBool(s)
	case wit.U8:
		v, err := strconv.ParseUint(s, 0, 8)
		return uint8(v), err
	case wit.S8:
		v, err := strconv.ParseInt(s, 0, 8)
		return int8(v), err
	case wit.U16:
		v, err := strconv.ParseUint(s, 0, 16)
		return uint16(v), err
	case wit.S16:
		v, err := strconv.ParseInt(s, 0, 16)
		return int16(v), err
	case wit.U32:
		v, err := strconv.ParseUint(s, 0, 32)
		return uint32(v), err
	case wit.S32:
		v, err := strconv.ParseInt(s, 0, 32)
		return int32(v), err
	case wit.U64:
		return strconv.ParseUint(s, 0, 64)
	case wit.S64:
		return strconv.ParseInt(s, 0, 64)
	case wit.F32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case wit.F64:
		return strconv.ParseFloat(s, 64)
	}
	return nil, fmt.Errorf("not a scalar: %s", convert.TypeString(t))
}

func fromNode(t wit.Type, n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	td, ok := t.(*wit.TypeDef)
	if !ok {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %s needs a scalar", n.Line, convert.TypeString(t))
		}
		return parseValue(t, n.Value)
	}

	switch k := td.Kind.(type) {
	case *wit.List:
		if n.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: %s needs a sequence", n.Line, convert.TypeString(t))
		}
		if _, ok := k.Type.(wit.U8); ok {
			out := make([]byte, len(n.Content))
			for i, c := range n.Content {
				v, err := strconv.ParseUint(c.Value, 0, 8)
				if err != nil {
					return nil, err
				}
				out[i] = byte(v)
			}
			return out, nil
		}
		out := make([]any, len(n.Content))
		for i, c := range n.Content {
			v, err := fromNode(k.Type, c)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *wit.Option:
		if n.Tag == "!!null" {
			return nil, nil
		}
		return fromNode(k.Type, n)
	case *wit.Tuple:
		if n.Kind != yaml.SequenceNode || len(n.Content) != len(k.Types) {
			return nil, fmt.Errorf("line %d: %s needs %d elements", n.Line, convert.TypeString(t), len(k.Types))
		}
		out := make([]any, len(k.Types))
		for i, et := range k.Types {
			v, err := fromNode(et, n.Content[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *wit.Record:
		fields := mapping(n)
		if fields == nil {
			return nil, fmt.Errorf("line %d: %s needs a mapping", n.Line, convert.TypeString(t))
		}
		out := make(map[string]any, len(k.Fields))
		for _, f := range k.Fields {
			fn, ok := fields[f.Name]
			if !ok {
				return nil, fmt.Errorf("line %d: missing field %s", n.Line, f.Name)
			}
			v, err := fromNode(f.Type, fn)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			out[f.Name] = v
		}
		return out, nil
	case *wit.Enum:
		return n.Value, nil
	case *wit.Variant:
		if n.Kind == yaml.ScalarNode {
			return convert.Variant{Case: n.Value}, nil
		}
		fields := mapping(n)
		if len(fields) != 1 {
			return nil, fmt.Errorf("line %d: variant needs one case", n.Line)
		}
		for _, c := range k.Cases {
			fn, ok := fields[c.Name]
			if !ok {
				continue
			}
			if c.Type == nil {
				return convert.Variant{Case: c.Name}, nil
			}
			v, err := fromNode(c.Type, fn)
			if err != nil {
				return nil, err
			}
			return convert.Variant{Case: c.Name, Value: v}, nil
		}
		return nil, fmt.Errorf("line %d: unknown variant case", n.Line)
	case wit.Type:
		return fromNode(k, n)
	}
	return nil, fmt.Errorf("unsupported argument type %s", convert.TypeString(t))
}

func mapping(n *yaml.Node) map[string]*yaml.Node {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	out := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out
}

func render(v any) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("%q", v)
	case nil:
		return "none"
	case []any, map[string]any, convert.Variant:
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(string(out))
	default:
		return fmt.Sprint(v)
	}
}
