// Package names builds and classifies native symbol names.
//
// Every exported native function is named by composing a library namespace,
// an entity kind and the entity name, so bindings for any host can be derived
// mechanically from the same interface description:
//
//	<ns>_fn_func_<name>                   free function
//	<ns>_fn_constructor_<object>_<name>   object constructor
//	<ns>_fn_method_<object>_<name>        object method
//	<ns>_fn_free_<object>                 object destructor
//	<ns>_checksum_<entity>                signature checksum query
//	ffi_<ns>_buffer_<op>                  transfer buffer alloc/free/reserve
//	ffi_<ns>_future_<op>_<kind>           async poll/cancel/free/complete
//	ffi_<ns>_contract_version             contract version query
//
// The entity of func, constructor and method symbols is the part after
// "<ns>_fn_", e.g. "method_counter_increment".
package names

import "strings"

// Kind classifies a symbol
type Kind string

const (
	KindFunction        Kind = "func"
	KindConstructor     Kind = "constructor"
	KindMethod          Kind = "method"
	KindFree            Kind = "free"
	KindChecksum        Kind = "checksum"
	KindBuffer          Kind = "buffer"
	KindFuture          Kind = "future"
	KindContractVersion Kind = "contract_version"
	KindUnknown         Kind = "unknown"
)

// Buffer operations
const (
	BufferAlloc   = "alloc"
	BufferFree    = "free"
	BufferReserve = "reserve"
)

// Future operations
const (
	FuturePoll     = "poll"
	FutureCancel   = "cancel"
	FutureFree     = "free"
	FutureComplete = "complete"
)

const (
	fnInfix       = "_fn_"
	checksumInfix = "_checksum_"
	runtimePrefix = "ffi_"
)

// Function returns the symbol of a free function
func Function(ns, name string) string {
	return ns + fnInfix + string(KindFunction) + "_" + name
}

// Constructor returns the symbol of an object constructor
func Constructor(ns, object, name string) string {
	return ns + fnInfix + string(KindConstructor) + "_" + object + "_" + name
}

// Method returns the symbol of an object method
func Method(ns, object, name string) string {
	return ns + fnInfix + string(KindMethod) + "_" + object + "_" + name
}

// Free returns the symbol of an object destructor
func Free(ns, object string) string {
	return ns + fnInfix + string(KindFree) + "_" + object
}

// Entity returns the checksum entity of an API symbol ("" if it has none)
func Entity(ns, symbol string) string {
	rest, ok := strings.CutPrefix(symbol, ns+fnInfix)
	if !ok || strings.HasPrefix(rest, string(KindFree)+"_") {
		return ""
	}
	return rest
}

// Checksum returns the symbol that reports the checksum of entity
func Checksum(ns, entity string) string {
	return ns + checksumInfix + entity
}

// Buffer returns the symbol of a transfer buffer operation
func Buffer(ns, op string) string {
	return runtimePrefix + ns + "_buffer_" + op
}

// Future returns the symbol of a future operation for one result kind
func Future(ns, op, kind string) string {
	return runtimePrefix + ns + "_future_" + op + "_" + kind
}

// ContractVersion returns the symbol of the contract version query
func ContractVersion(ns string) string {
	return runtimePrefix + ns + "_contract_version"
}

// Symbol is a classified native symbol
type Symbol struct {
	Namespace string
	Kind      Kind
	Object    string // constructor, method, free
	Name      string // function, constructor or method name; entity for checksums
	Op        string // buffer and future operations
	Result    string // future result kind
}

// Parser classifies symbols of one namespace. Objects lists object names that
// contain underscores so methods on them split at the right boundary.
type Parser struct {
	Namespace string
	Objects   []string
}

// Parse classifies symbol. Symbols outside the namespace are KindUnknown.
func (p Parser) Parse(symbol string) Symbol {
	s := Symbol{Namespace: p.Namespace, Kind: KindUnknown}

	if rest, ok := strings.CutPrefix(symbol, runtimePrefix+p.Namespace+"_"); ok {
		switch {
		case rest == string(KindContractVersion):
			s.Kind = KindContractVersion
		case strings.HasPrefix(rest, "buffer_"):
			s.Kind = KindBuffer
			s.Op = strings.TrimPrefix(rest, "buffer_")
		case strings.HasPrefix(rest, "future_"):
			op, kind, found := strings.Cut(strings.TrimPrefix(rest, "future_"), "_")
			if found {
				s.Kind = KindFuture
				s.Op = op
				s.Result = kind
			}
		}
		return s
	}

	if entity, ok := strings.CutPrefix(symbol, p.Namespace+checksumInfix); ok {
		s.Kind = KindChecksum
		s.Name = entity
		return s
	}

	rest, ok := strings.CutPrefix(symbol, p.Namespace+fnInfix)
	if !ok {
		return s
	}

	kind, tail, found := strings.Cut(rest, "_")
	if !found {
		return s
	}

	switch Kind(kind) {
	case KindFunction:
		s.Kind = KindFunction
		s.Name = tail
	case KindFree:
		s.Kind = KindFree
		s.Object = tail
	case KindConstructor, KindMethod:
		s.Kind = Kind(kind)
		s.Object, s.Name = p.splitObject(tail)
	}
	return s
}

// splitObject splits "<object>_<name>", preferring known multi-word objects
// and falling back to the first underscore.
func (p Parser) splitObject(rest string) (string, string) {
	for _, obj := range p.Objects {
		if len(rest) > len(obj)+1 && rest[:len(obj)] == obj && rest[len(obj)] == '_' {
			return obj, rest[len(obj)+1:]
		}
	}
	obj, name, found := strings.Cut(rest, "_")
	if !found {
		return rest, ""
	}
	return obj, name
}
