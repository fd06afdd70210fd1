package guard

import (
	"testing"

	"go.bytecodealliance.org/wit"
)

func TestParseSignatures(t *testing.T) {
	text := `
		// demo interface
		echo: func(s: string) -> string;
		add-u32: func(a: u32, b: u32) -> u32
		export lookup: func(keys: list<tuple<string, u32>>, fallback: option<u8>) -> result<list<u8>, string>
		pair: func() -> (a: u32, b: string)
		counter.incr: func(by: u64)
		record point { x: u32 }
	`
	sigs, err := ParseSignatures(text)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		entity  string
		params  int
		results int
	}{
		{"func_echo", 1, 1},
		{"func_add_u32", 2, 1},
		{"func_lookup", 2, 1},
		{"func_pair", 0, 2},
		{"method_counter_incr", 1, 0},
	}
	if len(sigs) != len(want) {
		t.Fatalf("expected %d signatures, got %d", len(want), len(sigs))
	}
	for i, w := range want {
		s := sigs[i]
		if s.Entity != w.entity || len(s.Params) != w.params || len(s.Results) != w.results {
			t.Errorf("signature %d: got %s with %d params and %d results, want %+v",
				i, s.Entity, len(s.Params), len(s.Results), w)
		}
	}

	if got := sigs[2].Canonical(); got != "func_lookup(list<tuple<string, u32>>,option<u8>)->(result<list<u8>, string>)" {
		t.Errorf("canonical form: %s", got)
	}
}

func TestParseSignatures_Errors(t *testing.T) {
	tests := []string{
		"",
		"record point { x: u32 }",
		"bad: func(a: u32",
		"bad: func(a: nosuchtype)",
		"bad: func() garbage",
	}
	for _, text := range tests {
		if _, err := ParseSignatures(text); err == nil {
			t.Errorf("%q: expected error", text)
		}
	}
}

func TestChecksum(t *testing.T) {
	a := Signature{Entity: "func_echo", Params: []wit.Type{wit.String{}}, Results: []wit.Type{wit.String{}}}
	b := Signature{Entity: "func_echo", Params: []wit.Type{wit.String{}}, Results: []wit.Type{wit.String{}}}
	c := Signature{Entity: "func_echo", Params: []wit.Type{wit.U32{}}, Results: []wit.Type{wit.String{}}}

	if a.Checksum() != b.Checksum() {
		t.Error("equal signatures must have equal checksums")
	}
	if a.Canonical() == c.Canonical() {
		t.Error("different signatures must render differently")
	}

	sums := Checksums([]Signature{a, c})
	if len(sums) != 1 || sums["func_echo"] != c.Checksum() {
		t.Errorf("later signature wins for the same entity: %v", sums)
	}
}
