package lumen

import "math"

// runVM executes th's topmost call frame (a scripted closure) to
// completion, returning its result values (spec.md §4.11 "Dispatch loop").
// Control returns to the caller (callScripted in thread.go) either when
// OP_RETURN is reached or a nested call/metamethod panics a
// protectedEscape past this frame.
func runVM(th *Thread) []Value {
	frame := &th.frames[len(th.frames)-1]
	gs := th.gs
	reg := th.stack[frame.base:]

	for {
		if frame.pc >= len(frame.closure.proto.code) {
			th.frames = th.frames[:len(th.frames)-1]
			return nil
		}
		instr := frame.closure.proto.code[frame.pc]
		frame.pc++

		switch instr.Op() {
		case opMove:
			reg[instr.A()] = reg[instr.B()]

		case opLoadK:
			reg[instr.A()] = frame.closure.proto.constants[instr.Bx()]

		case opLoadKX:
			// EXTRAARG carries the constant index in the following
			// instruction's Bx field, for constant pools over maxArgBx.
			ext := frame.closure.proto.code[frame.pc]
			frame.pc++
			reg[instr.A()] = frame.closure.proto.constants[ext.Bx()]

		case opLoadBool:
			reg[instr.A()] = BoolValue(instr.B() != 0)
			if instr.C() != 0 {
				frame.pc++
			}

		case opLoadNil:
			for i := instr.A(); i <= instr.A()+instr.B(); i++ {
				reg[i] = Nil
			}

		case opGetUpval:
			reg[instr.A()] = frame.closure.upvals[instr.B()].get()

		case opSetUpval:
			frame.closure.upvals[instr.B()].set(reg[instr.A()])

		case opGetTabUp:
			up := frame.closure.upvals[instr.B()].get()
			key := rkVal(frame.closure.proto, reg, instr.C())
			reg[instr.A()] = indexGet(th, up, key)

		case opSetTabUp:
			up := frame.closure.upvals[instr.A()].get()
			key := rkVal(frame.closure.proto, reg, instr.B())
			val := rkVal(frame.closure.proto, reg, instr.C())
			indexSet(th, up, key, val)

		case opGetTable:
			t := reg[instr.B()]
			key := rkVal(frame.closure.proto, reg, instr.C())
			reg[instr.A()] = indexGet(th, t, key)

		case opSetTable:
			t := reg[instr.A()]
			key := rkVal(frame.closure.proto, reg, instr.B())
			val := rkVal(frame.closure.proto, reg, instr.C())
			indexSet(th, t, key, val)

		case opNewTable:
			nt := NewTableSized(gs, instr.B(), instr.C())
			gs.gc.registerObject(nt)
			reg[instr.A()] = TableValue(nt)

		case opSelf:
			obj := reg[instr.B()]
			key := rkVal(frame.closure.proto, reg, instr.C())
			reg[instr.A()+1] = obj
			reg[instr.A()] = indexGet(th, obj, key)

		case opAdd, opSub, opMul, opMod, opPow, opDiv, opIDiv,
			opBAnd, opBOr, opBXor, opShl, opShr:
			a := rkVal(frame.closure.proto, reg, instr.B())
			b := rkVal(frame.closure.proto, reg, instr.C())
			reg[instr.A()] = arith(th, instr.Op(), a, b)

		case opUnm:
			reg[instr.A()] = arithUnm(th, reg[instr.B()])

		case opBNot:
			reg[instr.A()] = arithBNot(th, reg[instr.B()])

		case opNot:
			reg[instr.A()] = BoolValue(reg[instr.B()].IsFalsy())

		case opLen:
			reg[instr.A()] = lenOf(th, reg[instr.B()])

		case opConcat:
			reg[instr.A()] = concatRange(th, reg[instr.B():instr.C()+1])

		case opJump:
			frame.pc += instr.SBx()

		case opEq:
			a := rkVal(frame.closure.proto, reg, instr.B())
			b := rkVal(frame.closure.proto, reg, instr.C())
			if valuesEqual(th, a, b) == (instr.A() != 0) {
				frame.pc++
			}

		case opLt:
			a := rkVal(frame.closure.proto, reg, instr.B())
			b := rkVal(frame.closure.proto, reg, instr.C())
			if lessThan(th, a, b) == (instr.A() != 0) {
				frame.pc++
			}

		case opLe:
			a := rkVal(frame.closure.proto, reg, instr.B())
			b := rkVal(frame.closure.proto, reg, instr.C())
			if lessEqual(th, a, b) == (instr.A() != 0) {
				frame.pc++
			}

		case opTest:
			if reg[instr.A()].IsTruthy() != (instr.B() != 0) {
				frame.pc++
			}

		case opTestSet:
			if reg[instr.B()].IsTruthy() == (instr.C() != 0) {
				reg[instr.A()] = reg[instr.B()]
			} else {
				frame.pc++
			}

		case opCall:
			a, b, c := instr.A(), instr.B(), instr.C()
			var args []Value
			if b == 0 {
				args = append([]Value(nil), reg[a+1:frame.extraTop]...)
			} else {
				args = append([]Value(nil), reg[a+1:a+b]...)
			}
			nResults := c - 1
			results := th.call(reg[a], args, nResults)
			reg = th.stack[frame.base:]
			for i, v := range results {
				reg[a+i] = v
			}
			if nResults < 0 {
				frame.extraTop = a + len(results)
			}

		case opTailCall:
			a, b := instr.A(), instr.B()
			var args []Value
			if b == 0 {
				args = append([]Value(nil), reg[a+1:frame.extraTop]...)
			} else {
				args = append([]Value(nil), reg[a+1:a+b]...)
			}
			results := th.call(reg[a], args, -1)
			th.frames = th.frames[:len(th.frames)-1]
			return results

		case opReturn:
			a, b := instr.A(), instr.B()
			var results []Value
			if b == 0 {
				top := frame.extraTop
				if top < a {
					top = a
				}
				results = append([]Value(nil), reg[a:top]...)
			} else {
				results = append([]Value(nil), reg[a:a+b-1]...)
			}
			th.frames = th.frames[:len(th.frames)-1]
			return results

		case opForPrep:
			a := instr.A()
			initN := mustNum(reg[a])
			reg[a] = subNumber(initN, reg[a+2])
			frame.pc += instr.SBx()

		case opForLoop:
			a := instr.A()
			reg[a] = addNumber(reg[a], reg[a+2])
			if forLoopContinues(reg[a], reg[a+1], reg[a+2]) {
				frame.pc += instr.SBx()
				reg[a+3] = reg[a]
			}

		case opTForCall:
			a, c := instr.A(), instr.C()
			args := []Value{reg[a+1], reg[a+2]}
			results := th.call(reg[a], args, c)
			reg = th.stack[frame.base:]
			for i := 0; i < c; i++ {
				if i < len(results) {
					reg[a+3+i] = results[i]
				} else {
					reg[a+3+i] = Nil
				}
			}

		case opTForLoop:
			a := instr.A()
			if reg[a+1].IsNil() {
				// loop ends; execution continues after TFORLOOP
			} else {
				reg[a] = reg[a+1]
				frame.pc += instr.SBx()
			}

		case opSetList:
			a, b, c := instr.A(), instr.B(), instr.C()
			t := reg[a].AsTable()
			if b == 0 {
				b = frame.extraTop - a - 1
			}
			for i := 1; i <= b; i++ {
				t.Set(IntValue(int64(c+i-1)), reg[a+i])
			}

		case opClosure:
			proto := frame.closure.proto.protos[instr.Bx()]
			cl := makeClosure(th, frame, proto)
			reg[instr.A()] = FunctionValue(cl)

		case opVararg:
			a, b := instr.A(), instr.B()
			va := frame.varargs
			if b == 0 {
				for i, v := range va {
					reg[a+i] = v
				}
				frame.extraTop = a + len(va)
			} else {
				for i := 0; i < b-1; i++ {
					if i < len(va) {
						reg[a+i] = va[i]
					} else {
						reg[a+i] = Nil
					}
				}
			}

		case opExtraArg:
			// only ever consumed inline by opLoadKX above.

		default:
			throwf(StatusRuntimeError, "unimplemented opcode %d", instr.Op())
		}
	}
}

// rkVal decodes a register-or-constant operand (spec.md §4.10).
func rkVal(proto *FunctionProto, reg []Value, rk int) Value {
	if isK(rk) {
		return proto.constants[indexK(rk)]
	}
	return reg[rk]
}

// makeClosure builds a Closure for proto, capturing upvalues from the
// enclosing frame's locals (as open upvalue cells) or its own upvalue
// array, per upvalDesc (spec.md §3.6). Reuses the prototype's one-slot
// closure cache when every upvalue still matches (spec.md §4.7).
func makeClosure(th *Thread, frame *CallFrame, proto *FunctionProto) *Closure {
	ups := make([]*upvalue, len(proto.upvals))
	for i, d := range proto.upvals {
		if d.fromLocal {
			ups[i] = th.findOrCreateUpvalue(frame.base + d.index)
		} else {
			ups[i] = frame.closure.upvals[d.index]
		}
	}
	if proto.cachedClosure != nil && sameUpvalues(proto.cachedClosure.upvals, ups) {
		return proto.cachedClosure
	}
	cl := &Closure{proto: proto, upvals: ups}
	cl.gcHeader.kind = objClosure
	th.gs.gc.registerObject(cl)
	proto.cachedClosure = cl
	return cl
}

func sameUpvalues(a, b []*upvalue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---- arithmetic / comparison / indexing, with metamethod dispatch ----

func indexGet(th *Thread, v, key Value) Value {
	gs := th.gs
	for loop := 0; loop < maxTagLoopDefault; loop++ {
		if v.IsTable() {
			t := v.AsTable()
			raw := t.Get(key)
			if !raw.IsNil() || t.metatable == nil {
				return raw
			}
			mm := getMetamethod(gs, v, metaIndex)
			if mm.IsNil() {
				return Nil
			}
			if mm.IsFunction() {
				return first(th.call(mm, []Value{v, key}, 1))
			}
			v = mm
			continue
		}
		mm := getMetamethod(gs, v, metaIndex)
		if mm.IsNil() {
			throwf(StatusRuntimeError, "attempt to index a %s value", v.TypeName())
		}
		if mm.IsFunction() {
			return first(th.call(mm, []Value{v, key}, 1))
		}
		v = mm
	}
	throwf(StatusRuntimeError, "'__index' chain too long; possible loop")
	return Nil
}

func indexSet(th *Thread, v, key, val Value) {
	gs := th.gs
	for loop := 0; loop < maxTagLoopDefault; loop++ {
		if v.IsTable() {
			t := v.AsTable()
			if !t.Get(key).IsNil() || t.metatable == nil {
				t.Set(key, val)
				return
			}
			mm := getMetamethod(gs, v, metaNewIndex)
			if mm.IsNil() {
				t.Set(key, val)
				return
			}
			if mm.IsFunction() {
				th.call(mm, []Value{v, key, val}, 0)
				return
			}
			v = mm
			continue
		}
		mm := getMetamethod(gs, v, metaNewIndex)
		if mm.IsNil() {
			throwf(StatusRuntimeError, "attempt to index a %s value", v.TypeName())
		}
		if mm.IsFunction() {
			th.call(mm, []Value{v, key, val}, 0)
			return
		}
		v = mm
	}
	throwf(StatusRuntimeError, "'__newindex' chain too long; possible loop")
}

func first(vs []Value) Value {
	if len(vs) == 0 {
		return Nil
	}
	return vs[0]
}

func arith(th *Thread, op byte, a, b Value) Value {
	gs := th.gs
	an, aok := a.ToNumber()
	bn, bok := b.ToNumber()
	if aok && bok {
		if isBitwise(op) {
			ai, aiok := an.ToInteger()
			bi, biok := bn.ToInteger()
			if aiok && biok {
				return bitwise(op, ai, bi)
			}
		} else {
			return arithNumbers(op, an, bn)
		}
	}
	ev := arithMetaEvent[op]
	mm := getMetamethod(gs, a, ev)
	if mm.IsNil() {
		mm = getMetamethod(gs, b, ev)
	}
	if mm.IsNil() {
		bad := a
		if aok {
			bad = b
		}
		throwf(StatusRuntimeError, "attempt to perform arithmetic on a %s value", bad.TypeName())
	}
	return first(th.call(mm, []Value{a, b}, 1))
}

func isBitwise(op byte) bool {
	switch op {
	case opBAnd, opBOr, opBXor, opShl, opShr:
		return true
	default:
		return false
	}
}

func arithNumbers(op byte, a, b Value) Value {
	if a.IsInt() && b.IsInt() && op != opDiv && op != opPow {
		x, y := a.n, b.n
		switch op {
		case opAdd:
			return IntValue(x + y)
		case opSub:
			return IntValue(x - y)
		case opMul:
			return IntValue(x * y)
		case opMod:
			if y == 0 {
				throwf(StatusRuntimeError, "attempt to perform 'n%%0'")
			}
			m := x % y
			if m != 0 && (m^y) < 0 {
				m += y
			}
			return IntValue(m)
		case opIDiv:
			if y == 0 {
				throwf(StatusRuntimeError, "attempt to perform 'n//0'")
			}
			q := x / y
			if (x%y != 0) && ((x < 0) != (y < 0)) {
				q--
			}
			return IntValue(q)
		}
	}
	x, y := a.AsFloat(), b.AsFloat()
	switch op {
	case opAdd:
		return FloatValue(x + y)
	case opSub:
		return FloatValue(x - y)
	case opMul:
		return FloatValue(x * y)
	case opDiv:
		return FloatValue(x / y)
	case opMod:
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return FloatValue(m)
	case opPow:
		return FloatValue(math.Pow(x, y))
	case opIDiv:
		return FloatValue(math.Floor(x / y))
	}
	return Nil
}

func bitwise(op byte, a, b int64) Value {
	switch op {
	case opBAnd:
		return IntValue(a & b)
	case opBOr:
		return IntValue(a | b)
	case opBXor:
		return IntValue(a ^ b)
	case opShl:
		return IntValue(shiftLeft(a, b))
	case opShr:
		return IntValue(shiftLeft(a, -b))
	}
	return Nil
}

func shiftLeft(a, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return int64(uint64(a) << uint(n))
	}
	return int64(uint64(a) >> uint(-n))
}

func arithUnm(th *Thread, v Value) Value {
	gs := th.gs
	if n, ok := v.ToNumber(); ok {
		if n.IsInt() {
			return IntValue(-n.n)
		}
		return FloatValue(-n.f)
	}
	mm := getMetamethod(gs, v, metaUnm)
	if mm.IsNil() {
		throwf(StatusRuntimeError, "attempt to perform arithmetic on a %s value", v.TypeName())
	}
	return first(th.call(mm, []Value{v, v}, 1))
}

func arithBNot(th *Thread, v Value) Value {
	gs := th.gs
	if n, ok := v.ToNumber(); ok {
		if i, ok := n.ToInteger(); ok {
			return IntValue(^i)
		}
	}
	mm := getMetamethod(gs, v, metaBNot)
	if mm.IsNil() {
		throwf(StatusRuntimeError, "attempt to perform bitwise operation on a %s value", v.TypeName())
	}
	return first(th.call(mm, []Value{v, v}, 1))
}

func lenOf(th *Thread, v Value) Value {
	gs := th.gs
	if v.IsString() {
		return IntValue(int64(v.AsString().len()))
	}
	if v.IsTable() {
		mm := getMetamethod(gs, v, metaLen)
		if !mm.IsNil() {
			return first(th.call(mm, []Value{v}, 1))
		}
		return IntValue(int64(tableLength(v.AsTable())))
	}
	mm := getMetamethod(gs, v, metaLen)
	if mm.IsNil() {
		throwf(StatusRuntimeError, "attempt to get length of a %s value", v.TypeName())
	}
	return first(th.call(mm, []Value{v}, 1))
}

// tableLength implements the `#t` border search (spec.md §4.4): any i
// where t[i]~=nil and t[i+1]==nil.
func tableLength(t *Table) int {
	n := len(t.array)
	for n > 0 && t.array[n-1].IsNil() {
		n--
	}
	if n == len(t.array) {
		j := int64(n) + 1
		for !t.GetInt(j).IsNil() {
			j++
		}
		return int(j - 1)
	}
	return n
}

func concatRange(th *Thread, vs []Value) Value {
	allStringy := true
	for _, v := range vs {
		if !v.IsString() && !v.IsNumber() {
			allStringy = false
			break
		}
	}
	if allStringy {
		var sb []byte
		for _, v := range vs {
			sb = append(sb, v.String()...)
		}
		return newStringValue(string(sb))
	}
	if len(vs) == 1 {
		return vs[0]
	}
	// Right-fold through __concat, matching spec.md §4.5's "Concat range"
	// binary reduction.
	acc := vs[len(vs)-1]
	for i := len(vs) - 2; i >= 0; i-- {
		acc = concatTwo(th, vs[i], acc)
	}
	return acc
}

func concatTwo(th *Thread, a, b Value) Value {
	gs := th.gs
	if (a.IsString() || a.IsNumber()) && (b.IsString() || b.IsNumber()) {
		return newStringValue(a.String() + b.String())
	}
	mm := getMetamethod(gs, a, metaConcat)
	if mm.IsNil() {
		mm = getMetamethod(gs, b, metaConcat)
	}
	if mm.IsNil() {
		bad := a
		if a.IsString() || a.IsNumber() {
			bad = b
		}
		throwf(StatusRuntimeError, "attempt to concatenate a %s value", bad.TypeName())
	}
	return first(th.call(mm, []Value{a, b}, 1))
}

func valuesEqual(th *Thread, a, b Value) bool {
	gs := th.gs
	if RawEqual(a, b) {
		return true
	}
	if (a.IsTable() && b.IsTable()) || (a.IsUserData() && b.IsUserData()) {
		mm := getMetamethod(gs, a, metaEq)
		if mm.IsNil() {
			mm = getMetamethod(gs, b, metaEq)
		}
		if !mm.IsNil() {
			return first(th.call(mm, []Value{a, b}, 1)).IsTruthy()
		}
	}
	return false
}

func lessThan(th *Thread, a, b Value) bool {
	gs := th.gs
	if a.IsNumber() && b.IsNumber() {
		if a.IsInt() && b.IsInt() {
			return a.n < b.n
		}
		return a.AsFloat() < b.AsFloat()
	}
	if a.IsString() && b.IsString() {
		return a.AsString().text() < b.AsString().text()
	}
	mm := getMetamethod(gs, a, metaLt)
	if mm.IsNil() {
		mm = getMetamethod(gs, b, metaLt)
	}
	if mm.IsNil() {
		throwf(StatusRuntimeError, "attempt to compare two %s values", a.TypeName())
	}
	return first(th.call(mm, []Value{a, b}, 1)).IsTruthy()
}

func lessEqual(th *Thread, a, b Value) bool {
	gs := th.gs
	if a.IsNumber() && b.IsNumber() {
		if a.IsInt() && b.IsInt() {
			return a.n <= b.n
		}
		return a.AsFloat() <= b.AsFloat()
	}
	if a.IsString() && b.IsString() {
		return a.AsString().text() <= b.AsString().text()
	}
	mm := getMetamethod(gs, a, metaLe)
	if mm.IsNil() {
		mm = getMetamethod(gs, b, metaLe)
	}
	if mm.IsNil() {
		throwf(StatusRuntimeError, "attempt to compare two %s values", a.TypeName())
	}
	return first(th.call(mm, []Value{a, b}, 1)).IsTruthy()
}

func addNumber(a, b Value) Value { return arithNumbers(opAdd, mustNum(a), mustNum(b)) }
func subNumber(a, b Value) Value { return arithNumbers(opSub, mustNum(a), mustNum(b)) }

func mustNum(v Value) Value {
	if n, ok := v.ToNumber(); ok {
		return n
	}
	throwf(StatusRuntimeError, "'for' initial value must be a number")
	return Nil
}

// forLoopContinues implements spec.md §4.10's numeric-for continuation
// test, direction-aware on step's sign.
func forLoopContinues(i, limit, step Value) bool {
	if step.AsFloat() >= 0 {
		if i.IsInt() && limit.IsInt() {
			return i.n <= limit.n
		}
		return i.AsFloat() <= limit.AsFloat()
	}
	if i.IsInt() && limit.IsInt() {
		return i.n >= limit.n
	}
	return i.AsFloat() >= limit.AsFloat()
}
