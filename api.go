package lumen

import (
	"fmt"
	"strconv"
)

// State is the host's handle onto one thread's value stack (spec.md §4.12
// "Embedding API"). Every operation acts through the stack by index: a
// positive index counts from the current frame's base, a negative index
// counts back from the top.
type State struct {
	th   *Thread
	gs   *GlobalState
	base int
	top  int
}

// Version is the embedding surface's `version` operation.
const Version = "Lumen 5.3"

// NewThread implements `new-thread(state)`: a fresh coroutine sharing gs,
// suspended until the host pushes a function and calls Resume.
func (l *State) NewThread() *State {
	th := &Thread{gs: l.gs, stack: make([]Value, 32), status: threadSuspended,
		toChild: make(chan []Value), fromChild: make(chan coroutineResult)}
	th.gcHeader.kind = objThread
	l.gs.gc.registerObject(th)
	return &State{th: th, gs: l.gs}
}

// SetPanic installs a new top-level panic handler (called when an error
// escapes every pcall boundary), returning the previous one.
func (l *State) SetPanic(h HostFunc) HostFunc {
	old := l.gs.panicHandler
	l.gs.panicHandler = h
	return old
}

// ---- stack manipulation ----

// AbsIndex converts a possibly-negative index to an absolute one.
func (l *State) AbsIndex(i int) int {
	if i >= 0 {
		return i
	}
	return (l.top - l.base) + i
}

// GetTop returns the number of values currently on this frame's stack.
func (l *State) GetTop() int { return l.top - l.base }

// SetTop grows (padding with nil) or shrinks the frame to exactly n values.
func (l *State) SetTop(n int) {
	want := l.base + n
	if want > l.top {
		l.th.ensureStack(want)
		for i := l.top; i < want; i++ {
			l.th.stack[i] = Nil
		}
	}
	l.top = want
}

func (l *State) slot(i int) int {
	abs := l.AbsIndex(i)
	if abs < 0 || l.base+abs >= l.top {
		throwf(StatusRuntimeError, "invalid stack index %d", i)
	}
	return l.base + abs
}

// PushValue duplicates the value at index i onto the top of the stack.
func (l *State) PushValue(i int) {
	v := l.th.stack[l.slot(i)]
	l.push(v)
}

func (l *State) push(v Value) {
	l.th.ensureStack(l.top + 1)
	l.th.stack[l.top] = v
	l.top++
}

// Rotate rotates the values from index i to the top by n positions
// (spec.md §6.1 `rotate`), the stack-juggling primitive insert/remove
// build on.
func (l *State) Rotate(i, n int) {
	start := l.slot(i)
	seg := l.th.stack[start:l.top]
	if len(seg) == 0 {
		return
	}
	shift := ((n % len(seg)) + len(seg)) % len(seg)
	rotated := make([]Value, len(seg))
	for idx, v := range seg {
		rotated[(idx+shift)%len(seg)] = v
	}
	copy(seg, rotated)
}

// Copy copies the value at from to the slot at to, overwriting it.
func (l *State) Copy(from, to int) {
	l.th.stack[l.slot(to)] = l.th.stack[l.slot(from)]
}

// CheckStack ensures room for n more values, returning false instead of
// throwing when growth would exceed the configured cap.
func (l *State) CheckStack(n int) bool {
	limit := l.gs.config.GetInt("vm.maxusercap")
	if l.top+n > limit {
		return false
	}
	l.th.ensureStack(l.top + n)
	return true
}

// XMove transfers the top n values from this state to dst, as used to
// prime a coroutine's initial arguments (spec.md §6.1 `xmove`).
func (l *State) XMove(dst *State, n int) {
	vs := make([]Value, n)
	copy(vs, l.th.stack[l.top-n:l.top])
	l.top -= n
	for _, v := range vs {
		dst.push(v)
	}
}

// ---- readers ----

// Type returns the type name of the value at index i ("no value" if out of
// range).
func (l *State) Type(i int) string {
	abs := l.AbsIndex(i)
	if abs < 0 || l.base+abs >= l.top {
		return "no value"
	}
	return l.th.stack[l.base+abs].TypeName()
}

func (l *State) IsNil(i int) bool     { return l.th.stack[l.slot(i)].IsNil() }
func (l *State) IsBoolean(i int) bool { return l.th.stack[l.slot(i)].IsBoolean() }
func (l *State) IsNumber(i int) bool  { return l.th.stack[l.slot(i)].IsNumber() }
func (l *State) IsString(i int) bool {
	v := l.th.stack[l.slot(i)]
	return v.IsString() || v.IsNumber()
}
func (l *State) IsTable(i int) bool    { return l.th.stack[l.slot(i)].IsTable() }
func (l *State) IsFunction(i int) bool { return l.th.stack[l.slot(i)].IsFunction() }
func (l *State) IsUserData(i int) bool { return l.th.stack[l.slot(i)].IsUserData() }
func (l *State) IsThread(i int) bool   { return l.th.stack[l.slot(i)].IsThread() }

// ToNumber converts the value at i to a number without raising, reporting
// failure via the second return instead (spec.md §6.1 `to-number`).
func (l *State) ToNumber(i int) (float64, bool) {
	v := l.th.stack[l.slot(i)]
	n, ok := v.ToNumber()
	if !ok {
		return 0, false
	}
	return n.AsFloat(), true
}

func (l *State) ToInteger(i int) (int64, bool) {
	v := l.th.stack[l.slot(i)]
	n, ok := v.ToNumber()
	if !ok {
		return 0, false
	}
	return n.ToInteger()
}

func (l *State) ToBoolean(i int) bool {
	return l.th.stack[l.slot(i)].IsTruthy()
}

// ToString returns the value's string form and whether it was string/number
// typed (spec.md §6.1 `to-string`); unlike concatenation, it never invokes
// `__tostring`.
func (l *State) ToString(i int) (string, bool) {
	v := l.th.stack[l.slot(i)]
	if v.IsString() {
		return v.AsString().text(), true
	}
	if v.IsNumber() {
		return v.String(), true
	}
	return "", false
}

// RawLen returns the raw (no-metamethod) length of a string or table.
func (l *State) RawLen(i int) int {
	v := l.th.stack[l.slot(i)]
	if v.IsString() {
		return v.AsString().len()
	}
	if v.IsTable() {
		return tableLength(v.AsTable())
	}
	return 0
}

func (l *State) ToHostFunction(i int) HostFunc {
	v := l.th.stack[l.slot(i)]
	if !v.IsFunction() {
		return nil
	}
	return v.AsFunction().host
}

func (l *State) ToUserData(i int) *UserData {
	v := l.th.stack[l.slot(i)]
	if !v.IsUserData() {
		return nil
	}
	return v.AsUserData()
}

func (l *State) ToThread(i int) *Thread {
	v := l.th.stack[l.slot(i)]
	if !v.IsThread() {
		return nil
	}
	return v.AsThread()
}

// ToPointer exposes object identity for host-side use as a map key, etc.
// (spec.md §6.1 `to-pointer`).
func (l *State) ToPointer(i int) any {
	v := l.th.stack[l.slot(i)]
	if v.isCollectable() {
		return v.gcObj()
	}
	return nil
}

// ---- writers ----

func (l *State) PushNil()            { l.push(Nil) }
func (l *State) PushBoolean(b bool)   { l.push(BoolValue(b)) }
func (l *State) PushInteger(n int64)  { l.push(IntValue(n)) }
func (l *State) PushFloat(f float64)  { l.push(FloatValue(f)) }

func (l *State) PushString(s string) {
	l.push(newStringValueState(l.gs, s))
}

// newStringValueState interns through gs so an API caller can push strings
// of any length, not just the lexer's literal-cache-friendly path.
func newStringValueState(gs *GlobalState, s string) Value {
	if len(s) <= shortStringBound {
		return StringValue(gs.intern([]byte(s)))
	}
	so := newShortOrLongString([]byte(s))
	gs.gc.registerObject(so)
	return StringValue(so)
}

// PushHostClosure pops nups values off the top to become the closure's
// embedded upvalues, then pushes the new host closure.
func (l *State) PushHostClosure(fn HostFunc, name string, nups int) {
	ups := make([]Value, nups)
	for i := nups - 1; i >= 0; i-- {
		ups[i] = l.th.stack[l.top-1]
		l.top--
	}
	cl := NewHostClosure(fn, name, ups...)
	l.gs.gc.registerObject(cl)
	l.push(FunctionValue(cl))
}

func (l *State) PushLightUserData(p any) { l.push(LightUserDataValue(p)) }
func (l *State) PushThread(th *Thread)   { l.push(ThreadValue(th)) }

// PushFmt implements `push-fmt`, the restricted printf dialect named in
// spec.md §6.1 (%s %c %d %I %f %p %U %%).
func (l *State) PushFmt(format string, args ...any) string {
	var out []byte
	ai := 0
	next := func() any {
		if ai < len(args) {
			v := args[ai]
			ai++
			return v
		}
		return nil
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out = append(out, c)
			continue
		}
		i++
		switch format[i] {
		case 's':
			out = append(out, fmt.Sprint(next())...)
		case 'c':
			out = append(out, byte(toI(next())))
		case 'd', 'I':
			out = append(out, strconv.FormatInt(toI(next()), 10)...)
		case 'f':
			out = append(out, strconv.FormatFloat(toF(next()), 'g', -1, 64)...)
		case 'p':
			out = append(out, fmt.Sprintf("%p", next())...)
		case 'U':
			out = append(out, fmt.Sprintf("U+%04X", toI(next()))...)
		case '%':
			out = append(out, '%')
		default:
			out = append(out, '%', format[i])
		}
	}
	s := string(out)
	l.PushString(s)
	return s
}

func toI(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func toF(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

// ---- table access ----

func (l *State) GetGlobal(name string) {
	v := indexGet(l.th, TableValue(l.gs.Globals()), newStringValueState(l.gs, name))
	l.push(v)
}

func (l *State) SetGlobal(name string) {
	v := l.th.stack[l.top-1]
	l.top--
	indexSet(l.th, TableValue(l.gs.Globals()), newStringValueState(l.gs, name), v)
}

func (l *State) GetTable(i int) {
	t := l.th.stack[l.slot(i)]
	key := l.th.stack[l.top-1]
	l.top--
	l.push(indexGet(l.th, t, key))
}

func (l *State) SetTable(i int) {
	t := l.th.stack[l.slot(i)]
	key := l.th.stack[l.top-2]
	val := l.th.stack[l.top-1]
	l.top -= 2
	indexSet(l.th, t, key, val)
}

func (l *State) GetField(i int, k string) {
	t := l.th.stack[l.slot(i)]
	l.push(indexGet(l.th, t, newStringValueState(l.gs, k)))
}

func (l *State) SetField(i int, k string) {
	t := l.th.stack[l.slot(i)]
	v := l.th.stack[l.top-1]
	l.top--
	indexSet(l.th, t, newStringValueState(l.gs, k), v)
}

func (l *State) GetI(i int, n int64) {
	t := l.th.stack[l.slot(i)]
	l.push(indexGet(l.th, t, IntValue(n)))
}

func (l *State) SetI(i int, n int64) {
	t := l.th.stack[l.slot(i)]
	v := l.th.stack[l.top-1]
	l.top--
	indexSet(l.th, t, IntValue(n), v)
}

func (l *State) RawGet(i int) {
	t := l.th.stack[l.slot(i)].AsTable()
	key := l.th.stack[l.top-1]
	l.top--
	l.push(t.Get(key))
}

func (l *State) RawSet(i int) {
	t := l.th.stack[l.slot(i)].AsTable()
	key := l.th.stack[l.top-2]
	val := l.th.stack[l.top-1]
	l.top -= 2
	t.Set(key, val)
}

func (l *State) RawGetI(i int, n int64) {
	t := l.th.stack[l.slot(i)].AsTable()
	l.push(t.GetInt(n))
}

func (l *State) RawSetI(i int, n int64) {
	t := l.th.stack[l.slot(i)].AsTable()
	v := l.th.stack[l.top-1]
	l.top--
	t.Set(IntValue(n), v)
}

func (l *State) NewTable(narr, nrec int) {
	t := NewTableSized(l.gs, narr, nrec)
	l.gs.gc.registerObject(t)
	l.push(TableValue(t))
}

// Next implements stateless table iteration (spec.md §6.1 `next`): pops a
// key, pushes the following key/value pair, or pushes nothing and returns
// false at the end.
func (l *State) Next(i int) bool {
	t := l.th.stack[l.slot(i)].AsTable()
	key := l.th.stack[l.top-1]
	l.top--
	nk, nv, ok := t.next(key)
	if !ok {
		return false
	}
	l.push(nk)
	l.push(nv)
	return true
}

// ---- metatable / user value ----

func (l *State) GetMetatable(i int) bool {
	v := l.th.stack[l.slot(i)]
	mt := getMetatableOf(l.gs, v)
	if mt == nil {
		return false
	}
	l.push(TableValue(mt))
	return true
}

func (l *State) SetMetatable(i int) {
	slot := l.slot(i)
	mtv := l.th.stack[l.top-1]
	l.top--
	var mt *Table
	if mtv.IsTable() {
		mt = mtv.AsTable()
	}
	v := l.th.stack[slot]
	switch {
	case v.IsTable():
		v.AsTable().metatable = mt
		l.gs.gc.barrierBackward(v.AsTable())
	case v.IsUserData():
		v.AsUserData().metatable = mt
	default:
		throwf(StatusRuntimeError, "cannot set metatable on a %s value", v.TypeName())
	}
}

func (l *State) GetUserValue(i int) {
	u := l.th.stack[l.slot(i)].AsUserData()
	l.push(u.userValue)
}

func (l *State) SetUserValue(i int) {
	u := l.th.stack[l.slot(i)].AsUserData()
	u.userValue = l.th.stack[l.top-1]
	l.top--
	l.gs.gc.barrierForward(u, u.userValue)
}

// ---- call ----

// Call invokes the function at (top-nargs-1) with nargs arguments already
// pushed above it, replacing them with nresults results (-1 for "all",
// spec.md §6.1 `call`).
func (l *State) Call(nargs, nresults int) {
	fnSlot := l.top - nargs - 1
	fn := l.th.stack[fnSlot]
	args := append([]Value(nil), l.th.stack[fnSlot+1:l.top]...)
	results := l.th.call(fn, args, nresults)
	l.top = fnSlot
	for _, v := range results {
		l.push(v)
	}
}

// PCall is Call's protected form, returning a status code instead of
// letting an error escape (spec.md §6.1 `pcall`).
func (l *State) PCall(nargs, nresults, errHandlerIdx int) Status {
	fnSlot := l.top - nargs - 1
	fn := l.th.stack[fnSlot]
	args := append([]Value(nil), l.th.stack[fnSlot+1:l.top]...)
	var handler Value
	if errHandlerIdx != 0 {
		handler = l.th.stack[l.slot(errHandlerIdx)]
	}
	results, rerr := l.th.pcall(fn, args, nresults, handler)
	l.top = fnSlot
	if rerr != nil {
		l.push(rerr.Value)
		return rerr.Status
	}
	for _, v := range results {
		l.push(v)
	}
	return StatusOK
}

// Load compiles source into a closure, pushing it as a function value
// (spec.md §6.1 `load`). Only text chunks are supported; there is no mode
// argument.
func (l *State) Load(source, chunkName string) *RuntimeError {
	proto, err := Compile(l.gs, source, chunkName)
	if err != nil {
		l.push(newStringValueState(l.gs, err.Error()))
		return err
	}
	env := l.gs.Globals()
	envUp := &upvalue{closed: true, value: TableValue(env)}
	envUp.gcHeader.kind = objUpvalue
	l.gs.gc.registerObject(envUp)
	cl := &Closure{proto: proto, upvals: []*upvalue{envUp}}
	cl.gcHeader.kind = objClosure
	l.gs.gc.registerObject(cl)
	l.push(FunctionValue(cl))
	return nil
}

// DoString loads and calls source in one step, the convenience the CLI
// uses for one-shot scripts.
func (l *State) DoString(source, chunkName string) *RuntimeError {
	if err := l.Load(source, chunkName); err != nil {
		return err
	}
	var escaped *RuntimeError
	func() {
		defer func() {
			if r := recover(); r != nil {
				if esc, ok := r.(protectedEscape); ok {
					escaped = esc.err
					return
				}
				panic(r)
			}
		}()
		l.Call(0, -1)
	}()
	return escaped
}

// ---- coroutine ----

func (l *State) Yield(nresults int) []Value {
	vs := append([]Value(nil), l.th.stack[l.top-nresults:l.top]...)
	return l.th.Yield(vs)
}

func (l *State) Resume(nargs int) ([]Value, *RuntimeError) {
	args := append([]Value(nil), l.th.stack[l.top-nargs:l.top]...)
	l.top -= nargs
	return l.th.Resume(l.gs.mainThread, args)
}

func (l *State) ThreadStatus() threadStatus { return l.th.status }
func (l *State) IsYieldable() bool          { return l.th.toChild != nil }

// ---- GC control ----

func (l *State) GCStop()        { l.gs.gc.running = false }
func (l *State) GCRestart()     { l.gs.gc.running = true }
func (l *State) GCCollect()     { l.gs.gc.fullCollect(false) }
func (l *State) GCCount() int64 { return l.gs.gc.count() }

func (l *State) GCStep(kbytes int) bool {
	l.gs.gc.step(kbytes * 1024)
	return l.gs.gc.phase == gcPhasePause
}

func (l *State) GCSetPause(p int)          { l.gs.gc.pause = p }
func (l *State) GCSetStepMultiplier(m int) { l.gs.gc.stepMul = m }
func (l *State) GCIsRunning() bool         { return l.gs.gc.running }

// ---- misc ----

// Error raises the value on top of the stack as a runtime error (spec.md
// §6.1 `error`), unwinding to the nearest pcall boundary.
func (l *State) Error() {
	v := l.th.stack[l.top-1]
	l.top--
	panic(protectedEscape{err: &RuntimeError{Status: StatusRuntimeError, Value: v, Message: v.String()}})
}

// Concat pops n values and pushes their concatenation, dispatching
// `__concat` as needed (spec.md §4.5).
func (l *State) Concat(n int) {
	vs := append([]Value(nil), l.th.stack[l.top-n:l.top]...)
	l.top -= n
	l.push(concatRange(l.th, vs))
}

func (l *State) Len(i int) {
	v := l.th.stack[l.slot(i)]
	l.push(lenOf(l.th, v))
}

// ArithOp names the operators `arith(op)` accepts (spec.md §6.1); reuses
// the VM's own opcode bytes.
type ArithOp = byte

// Arith pops one or two operands (per op) and pushes the result.
func (l *State) Arith(op ArithOp) {
	if op == opUnm || op == opBNot {
		v := l.th.stack[l.top-1]
		l.top--
		if op == opUnm {
			l.push(arithUnm(l.th, v))
		} else {
			l.push(arithBNot(l.th, v))
		}
		return
	}
	b := l.th.stack[l.top-1]
	a := l.th.stack[l.top-2]
	l.top -= 2
	l.push(arith(l.th, op, a, b))
}

// CompareOp names the operators `compare(i1, i2, op)` accepts.
type CompareOp int

const (
	CompareEQ CompareOp = iota
	CompareLT
	CompareLE
)

func (l *State) Compare(i1, i2 int, op CompareOp) bool {
	a := l.th.stack[l.slot(i1)]
	b := l.th.stack[l.slot(i2)]
	switch op {
	case CompareEQ:
		return valuesEqual(l.th, a, b)
	case CompareLT:
		return lessThan(l.th, a, b)
	default:
		return lessEqual(l.th, a, b)
	}
}

func (l *State) RawEqual(i1, i2 int) bool {
	return RawEqual(l.th.stack[l.slot(i1)], l.th.stack[l.slot(i2)])
}

// StringToNumber pushes the number s parses as, returning the number of
// bytes consumed (0 on failure, spec.md §6.1 `string-to-number`).
func (l *State) StringToNumber(s string) int {
	n, ok := stringToNumber(trimSpace(s))
	if !ok {
		return 0
	}
	l.push(n)
	return len(s)
}

func (l *State) Version() string { return Version }
