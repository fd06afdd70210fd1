package async

// Kind is the result shape of a future. It selects the family of native
// future functions, e.g. ffi_demo_future_poll_u32.
type Kind string

const (
	KindU8      Kind = "u8"
	KindI8      Kind = "i8"
	KindU16     Kind = "u16"
	KindI16     Kind = "i16"
	KindU32     Kind = "u32"
	KindI32     Kind = "i32"
	KindU64     Kind = "u64"
	KindI64     Kind = "i64"
	KindF32     Kind = "f32"
	KindF64     Kind = "f64"
	KindPointer Kind = "pointer"
	KindBuffer  Kind = "buffer"
	KindVoid    Kind = "void"
)

// KindBool is the kind of futures resolving to a boolean
const KindBool = KindI8

var kinds = []Kind{
	KindU8, KindI8, KindU16, KindI16, KindU32, KindI32, KindU64, KindI64,
	KindF32, KindF64, KindPointer, KindBuffer, KindVoid,
}

// Kinds returns every result kind
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }
