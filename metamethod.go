package lumen

// metaEvent enumerates the overridable metamethod slots (spec.md §4.5).
// The SPEC_FULL expansion (SPEC_FULL.md §4.5) widens the spec's operator
// list with __tostring/__pairs/__metatable/__close/__gc/__mode, which the
// base library and the collector need.
type metaEvent int

const (
	metaIndex metaEvent = iota
	metaNewIndex
	metaCall
	metaAdd
	metaSub
	metaMul
	metaMod
	metaPow
	metaDiv
	metaIDiv
	metaBAnd
	metaBOr
	metaBXor
	metaShl
	metaShr
	metaUnm
	metaBNot
	metaLen
	metaEq
	metaLt
	metaLe
	metaConcat
	metaClose
	metaGC
	metaMode
	metaMetatable
	metaToString
	metaPairs
	metaEventCount
)

var metaEventNames = [metaEventCount]string{
	metaIndex:     "__index",
	metaNewIndex:  "__newindex",
	metaCall:      "__call",
	metaAdd:       "__add",
	metaSub:       "__sub",
	metaMul:       "__mul",
	metaMod:       "__mod",
	metaPow:       "__pow",
	metaDiv:       "__div",
	metaIDiv:      "__idiv",
	metaBAnd:      "__band",
	metaBOr:       "__bor",
	metaBXor:      "__bxor",
	metaShl:       "__shl",
	metaShr:       "__shr",
	metaUnm:       "__unm",
	metaBNot:      "__bnot",
	metaLen:       "__len",
	metaEq:        "__eq",
	metaLt:        "__lt",
	metaLe:        "__le",
	metaConcat:    "__concat",
	metaClose:     "__close",
	metaGC:        "__gc",
	metaMode:      "__mode",
	metaMetatable: "__metatable",
	metaToString:  "__tostring",
	metaPairs:     "__pairs",
}

// getMetatableOf returns the metatable consulted for value v: its own
// per-instance metatable for tables/userdata, or the shared per-basic-kind
// metatable otherwise (spec.md §4.5 "Lookup for an operand value").
func getMetatableOf(gs *GlobalState, v Value) *Table {
	switch v.k {
	case kindTable:
		return v.AsTable().metatable
	case kindUserData:
		return v.AsUserData().metatable
	default:
		return gs.typeMetatables[v.k]
	}
}

// getMetamethod implements spec.md §4.5's cached lookup: consult the
// metatable's absent-bit cache first, only doing a raw string lookup on a
// possible hit, and setting the bit on a confirmed miss.
func getMetamethod(gs *GlobalState, v Value, ev metaEvent) Value {
	mt := getMetatableOf(gs, v)
	if mt == nil {
		return Nil
	}
	bit := uint32(1) << uint(ev)
	if mt.noMetaCache&bit != 0 {
		return Nil
	}
	name := gs.metaNames[ev]
	res := mt.Get(StringValue(name))
	if res.IsNil() {
		mt.noMetaCache |= bit
	}
	return res
}

func getMetamethodByName(gs *GlobalState, v Value, name string) Value {
	for ev := metaEvent(0); ev < metaEventCount; ev++ {
		if metaEventNames[ev] == name {
			return getMetamethod(gs, v, ev)
		}
	}
	return Nil
}

// arithMetaEvent maps a binary arithmetic/bitwise opcode family to its
// metamethod slot, used by the VM's generic arithmetic routine (spec.md
// §4.5 "Binary arithmetic").
var arithMetaEvent = map[byte]metaEvent{
	opAdd:  metaAdd,
	opSub:  metaSub,
	opMul:  metaMul,
	opMod:  metaMod,
	opPow:  metaPow,
	opDiv:  metaDiv,
	opIDiv: metaIDiv,
	opBAnd: metaBAnd,
	opBOr:  metaBOr,
	opBXor: metaBXor,
	opShl:  metaShl,
	opShr:  metaShr,
}
