package guard

import (
	"hash/fnv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/errors"
)

// Signature is the typed shape of one native entity
type Signature struct {
	Entity  string
	Params  []wit.Type
	Results []wit.Type
}

// Canonical renders s in the form its checksum is computed over
func (s Signature) Canonical() string {
	var b strings.Builder
	b.WriteString(s.Entity)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(convert.TypeString(p))
	}
	b.WriteString(")->(")
	for i, r := range s.Results {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(convert.TypeString(r))
	}
	b.WriteByte(')')
	return b.String()
}

// Checksum is FNV-1a of the canonical form, folded to 16 bits
func (s Signature) Checksum() uint16 {
	h := fnv.New64a()
	h.Write([]byte(s.Canonical()))
	v := h.Sum64()
	return uint16(v ^ v>>16 ^ v>>32 ^ v>>48)
}

// Checksums returns the checksum of every signature keyed by entity
func Checksums(sigs []Signature) map[string]uint16 {
	out := make(map[string]uint16, len(sigs))
	for _, s := range sigs {
		out[s.Entity] = s.Checksum()
	}
	return out
}

// ParseSignatures reads function declarations of the form
//
//	name: func(a: T, b: U) -> R
//	object.method: func(x: T)
//
// Free functions become entity "func_<name>", object members
// "method_<object>_<name>". Dashes become underscores.
func ParseSignatures(text string) ([]Signature, error) {
	var sigs []Signature
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "//"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		line = strings.TrimSuffix(strings.TrimPrefix(line, "export "), ";")
		if line == "" {
			continue
		}
		name, decl, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		decl = strings.TrimSpace(decl)
		if !strings.HasPrefix(decl, "func") {
			continue
		}

		sig, err := parseFunc(strings.TrimSpace(name), strings.TrimSpace(strings.TrimPrefix(decl, "func")))
		if err != nil {
			return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).
				Detail("line %d: %s", lineNo+1, line).
				Cause(err).
				Build()
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no function signatures found")
	}
	return sigs, nil
}

func parseFunc(name, rest string) (Signature, error) {
	sig := Signature{Entity: entityName(name)}

	params, tail, err := balanced(rest)
	if err != nil {
		return sig, err
	}
	for _, p := range convert.SplitTopLevel(params) {
		typ := p
		if _, t, ok := strings.Cut(p, ":"); ok {
			typ = t
		}
		t, err := convert.ParseType(typ)
		if err != nil {
			return sig, err
		}
		sig.Params = append(sig.Params, t)
	}

	tail = strings.TrimSpace(tail)
	if tail == "" {
		return sig, nil
	}
	if !strings.HasPrefix(tail, "->") {
		return sig, errors.InvalidInput(errors.PhaseParse, "unexpected "+tail)
	}
	ret := strings.TrimSpace(strings.TrimPrefix(tail, "->"))
	switch {
	case ret == "" || ret == "()":
	case strings.HasPrefix(ret, "("):
		inner, after, err := balanced(ret)
		if err != nil {
			return sig, err
		}
		if strings.TrimSpace(after) != "" {
			return sig, errors.InvalidInput(errors.PhaseParse, "unexpected "+after)
		}
		for _, r := range convert.SplitTopLevel(inner) {
			if _, t, ok := strings.Cut(r, ":"); ok {
				r = t
			}
			t, err := convert.ParseType(r)
			if err != nil {
				return sig, err
			}
			sig.Results = append(sig.Results, t)
		}
	default:
		t, err := convert.ParseType(ret)
		if err != nil {
			return sig, err
		}
		sig.Results = []wit.Type{t}
	}
	return sig, nil
}

// balanced splits "(inner) tail" at the parenthesis matching the first one
func balanced(s string) (inner, tail string, err error) {
	if !strings.HasPrefix(s, "(") {
		return "", "", errors.InvalidInput(errors.PhaseParse, "expected ( in "+s)
	}
	depth := 0
	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], nil
			}
		}
	}
	return "", "", errors.InvalidInput(errors.PhaseParse, "unbalanced parentheses in "+s)
}

func entityName(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	if obj, method, ok := strings.Cut(name, "."); ok {
		return "method_" + obj + "_" + method
	}
	return "func_" + name
}
