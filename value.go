package lumen

import (
	"fmt"
	"math"
	"strconv"
)

// kind is the basic type tag of a Value (spec.md §3.1). It occupies the
// role of the packed tag byte's low bits in the annotated source; here it
// is simply the discriminator of the Value struct below.
type kind uint8

const (
	kindNil kind = iota
	kindBoolean
	kindLightUserData
	kindNumberInt
	kindNumberFloat
	kindString
	kindTable
	kindFunction
	kindUserData
	kindThread
)

func (k kind) String() string {
	switch k {
	case kindNil:
		return "nil"
	case kindBoolean:
		return "boolean"
	case kindLightUserData:
		return "userdata"
	case kindNumberInt, kindNumberFloat:
		return "number"
	case kindString:
		return "string"
	case kindTable:
		return "table"
	case kindFunction:
		return "function"
	case kindUserData:
		return "userdata"
	case kindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Value is a tagged union: `(tag, payload)` per spec.md §3.1. Rather than a
// literal C union, the payload is split across the fields below and only
// the ones matching kind are meaningful; this keeps hot arithmetic paths
// (int/float) free of heap indirection while collectable kinds
// (string/table/function/userdata/thread) carry a single gcObject
// reference whose own header lets the collector traverse generically
// (spec.md §3.2, §9 "Cyclic references").
type Value struct {
	k   kind
	n   int64   // int payload, and boolean (0/1)
	f   float64 // float payload
	ptr any     // light-userdata payload, or a gcObject reference
}

// Nil is the single shared sentinel instance (spec.md §3.1).
var Nil = Value{k: kindNil}

var True = Value{k: kindBoolean, n: 1}
var False = Value{k: kindBoolean, n: 0}

func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

func IntValue(i int64) Value     { return Value{k: kindNumberInt, n: i} }
func FloatValue(f float64) Value { return Value{k: kindNumberFloat, f: f} }

func LightUserDataValue(p any) Value { return Value{k: kindLightUserData, ptr: p} }

func StringValue(s *stringObj) Value  { return Value{k: kindString, ptr: s} }
func TableValue(t *Table) Value       { return Value{k: kindTable, ptr: t} }
func FunctionValue(c *Closure) Value  { return Value{k: kindFunction, ptr: c} }
func UserDataValue(u *UserData) Value { return Value{k: kindUserData, ptr: u} }
func ThreadValue(th *Thread) Value    { return Value{k: kindThread, ptr: th} }

// newStringValue builds a Value wrapping a fresh, un-interned string
// object. Used for error messages and other throwaway strings that have no
// business going through the state's intern table.
func newStringValue(s string) Value {
	return StringValue(newShortOrLongString([]byte(s)))
}

// ---- type predicates ----

func (v Value) IsNil() bool           { return v.k == kindNil }
func (v Value) IsBoolean() bool       { return v.k == kindBoolean }
func (v Value) IsNumber() bool        { return v.k == kindNumberInt || v.k == kindNumberFloat }
func (v Value) IsInt() bool           { return v.k == kindNumberInt }
func (v Value) IsFloat() bool         { return v.k == kindNumberFloat }
func (v Value) IsString() bool        { return v.k == kindString }
func (v Value) IsTable() bool         { return v.k == kindTable }
func (v Value) IsFunction() bool      { return v.k == kindFunction }
func (v Value) IsUserData() bool      { return v.k == kindUserData }
func (v Value) IsThread() bool        { return v.k == kindThread }
func (v Value) IsLightUserData() bool { return v.k == kindLightUserData }

// IsFalsy implements Lua truthiness: only nil and false are falsy.
func (v Value) IsFalsy() bool  { return v.k == kindNil || (v.k == kindBoolean && v.n == 0) }
func (v Value) IsTruthy() bool { return !v.IsFalsy() }

func (v Value) Kind() kind { return v.k }

// isCollectable reports whether the value holds a heap object reference
// the GC must be able to reach (spec.md §3.1, bit 6 "marks the value as a
// reference to a heap object").
func (v Value) isCollectable() bool {
	switch v.k {
	case kindString, kindTable, kindFunction, kindUserData, kindThread:
		return true
	default:
		return false
	}
}

func (v Value) gcObj() gcObject {
	if o, ok := v.ptr.(gcObject); ok {
		return o
	}
	return nil
}

// ---- accessors (panic if the kind doesn't match; callers check first) ----

func (v Value) AsBool() bool { return v.n != 0 }

func (v Value) AsInt() int64 {
	if v.k == kindNumberInt {
		return v.n
	}
	return int64(v.f)
}

func (v Value) AsFloat() float64 {
	if v.k == kindNumberFloat {
		return v.f
	}
	return float64(v.n)
}

func (v Value) AsString() *stringObj  { return v.ptr.(*stringObj) }
func (v Value) AsTable() *Table       { return v.ptr.(*Table) }
func (v Value) AsFunction() *Closure  { return v.ptr.(*Closure) }
func (v Value) AsUserData() *UserData { return v.ptr.(*UserData) }
func (v Value) AsThread() *Thread     { return v.ptr.(*Thread) }
func (v Value) AsLightUserData() any  { return v.ptr }

// ---- numeric coercion ----

// ToNumber attempts the coercion used throughout arithmetic: numbers pass
// through, strings convertible to a numeral are parsed (spec.md §4.5).
func (v Value) ToNumber() (Value, bool) {
	switch v.k {
	case kindNumberInt, kindNumberFloat:
		return v, true
	case kindString:
		return stringToNumber(v.AsString().text())
	default:
		return Nil, false
	}
}

// ToInteger coerces to an integer value, requiring the number (or string
// denoting a number) represent an exact integer.
func (v Value) ToInteger() (int64, bool) {
	n, ok := v.ToNumber()
	if !ok {
		return 0, false
	}
	if n.IsInt() {
		return n.n, true
	}
	f := n.f
	i := int64(f)
	if float64(i) != f || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return i, true
}

// stringToNumber implements the embedding surface's `string-to-number`
// (spec.md §6.1) and is reused by the lexer's numeral path and by
// automatic string coercion.
func stringToNumber(s string) (Value, bool) {
	s = trimSpace(s)
	if s == "" {
		return Nil, false
	}
	// Integers are decimal unless they carry a 0x/0X prefix; a leading 0
	// does not make a numeral octal.
	base := 10
	t := s
	if t[0] == '-' || t[0] == '+' {
		t = t[1:]
	}
	if len(t) > 1 && t[0] == '0' && (t[1] == 'x' || t[1] == 'X') {
		base = 0
	}
	if i, err := strconv.ParseInt(s, base, 64); err == nil {
		return IntValue(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FloatValue(f), true
	}
	return Nil, false
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpaceByte(s[i]) {
		i++
	}
	for j > i && isSpaceByte(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// ---- equality ----

// RawEqual implements `raw-equal` (spec.md §6.1): equality with no
// metamethod dispatch. Numbers compare across int/float variants by true
// numeric value (spec.md §4.5).
func RawEqual(a, b Value) bool {
	if a.k != b.k {
		if a.IsNumber() && b.IsNumber() {
			if a.IsInt() && b.IsInt() {
				return a.n == b.n
			}
			return a.AsFloat() == b.AsFloat()
		}
		return false
	}
	switch a.k {
	case kindNil:
		return true
	case kindBoolean:
		return a.n == b.n
	case kindNumberInt:
		return a.n == b.n
	case kindNumberFloat:
		return a.f == b.f
	case kindString:
		return stringEqual(a.AsString(), b.AsString())
	case kindLightUserData:
		return a.ptr == b.ptr
	default:
		return a.ptr == b.ptr
	}
}

// String renders a debug representation of v; it never calls __tostring
// (that dispatch lives in the VM/metamethod layer since it can execute
// script code). Suitable for error messages and the disassembler.
func (v Value) String() string {
	switch v.k {
	case kindNil:
		return "nil"
	case kindBoolean:
		if v.n != 0 {
			return "true"
		}
		return "false"
	case kindNumberInt:
		return strconv.FormatInt(v.n, 10)
	case kindNumberFloat:
		return formatFloat(v.f)
	case kindString:
		return v.AsString().text()
	case kindTable:
		return fmt.Sprintf("table: %p", v.AsTable())
	case kindFunction:
		return fmt.Sprintf("function: %p", v.AsFunction())
	case kindUserData:
		return fmt.Sprintf("userdata: %p", v.AsUserData())
	case kindThread:
		return fmt.Sprintf("thread: %p", v.AsThread())
	case kindLightUserData:
		return fmt.Sprintf("userdata: %p", v.ptr)
	default:
		return "<?>"
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	hasDotOrExp := false
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == 'e' || s[i] == 'E' {
			hasDotOrExp = true
			break
		}
	}
	if !hasDotOrExp {
		s += ".0"
	}
	return s
}

// TypeName returns the spec's basic-kind name for `type(v)` (spec.md
// §6.1).
func (v Value) TypeName() string { return v.k.String() }
