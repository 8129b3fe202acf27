package lumen

// upvalDesc describes where a closure captures one upvalue from: the
// enclosing function's local-variable register, or the enclosing
// function's own upvalue array (spec.md §3.6).
type upvalDesc struct {
	name      string
	fromLocal bool // true: enclosing-local; false: enclosing-upvalue
	index     int
}

// localDebug records a local variable's name and the instruction range in
// which its register is live, for the debug-table named in spec.md §3.6.
type localDebug struct {
	name        string
	startPC     int
	endPC       int
	register    int
}

// FunctionProto is a compiled function: code + constants + metadata, not
// itself callable (spec.md §3.6, glossary "Prototype").
type FunctionProto struct {
	gcHeader
	source      string
	lineDefined int

	numParams int
	isVararg  bool
	maxStack  int

	code  []Instruction
	lines []int32 // per-instruction source line, parallel to code

	constants []Value
	protos    []*FunctionProto
	upvals    []upvalDesc
	locals    []localDebug

	// cachedClosure is the one-slot per-prototype cache (spec.md §4.7):
	// "identical closures inside loops are not re-allocated" when every
	// upvalue still matches.
	cachedClosure *Closure
}

func (p *FunctionProto) traverse(gc *gcState) {
	for _, k := range p.constants {
		gc.markValue(k)
	}
	for _, sub := range p.protos {
		gc.markObject(sub)
	}
	if p.cachedClosure != nil {
		gc.markObject(p.cachedClosure)
	}
}

func (p *FunctionProto) lineAt(pc int) int {
	if pc >= 0 && pc < len(p.lines) {
		return int(p.lines[pc])
	}
	return 0
}

// upvalue is the shared cell described in spec.md §3.7: open (aliasing a
// thread's stack slot) or closed (owning its own value). refcount tracks
// sharing between sibling closures built from the same enclosing frame.
type upvalue struct {
	gcHeader
	closed bool
	value  Value // meaningful when closed
	thread *Thread
	index  int // meaningful when open: index into thread.stack
	refs   int

	// openNext threads this cell into the thread's open-upvalue list,
	// sorted by stack index descending (spec.md §8.1 "Upvalue openness").
	openNext *upvalue
}

func (u *upvalue) traverse(gc *gcState) {
	if u.closed {
		gc.markValue(u.value)
	} else if u.thread != nil {
		gc.markObject(u.thread)
	}
}

func (u *upvalue) get() Value {
	if u.closed {
		return u.value
	}
	return u.thread.stack[u.index]
}

func (u *upvalue) set(v Value) {
	if u.closed {
		u.value = v
	} else {
		u.thread.stack[u.index] = v
	}
}

// HostFunc is a host-implemented function callable from script code
// (spec.md §3.1 "host function pointer"). It manipulates arguments and
// results through the state's stack, matching spec.md §4.12's convention,
// and returns how many result slots it pushed (or a yield request).
type HostFunc func(l *State) int

// Closure is a callable value: either a scripted closure pointing at a
// FunctionProto with its own upvalue cells, or a host closure wrapping a
// HostFunc with an embedded, non-shared upvalue array (spec.md §3.7).
type Closure struct {
	gcHeader
	proto   *FunctionProto // nil for host closures
	upvals  []*upvalue     // scripted: shared cells
	host    HostFunc       // non-nil for host closures
	hostUps []Value        // host closures: embedded, unshared upvalues
	name    string         // best-effort, for debug visibility (spec.md §6.3)
}

func (c *Closure) traverse(gc *gcState) {
	if c.proto != nil {
		gc.markObject(c.proto)
	}
	for _, u := range c.upvals {
		gc.markObject(u)
	}
	for _, v := range c.hostUps {
		gc.markValue(v)
	}
}

func (c *Closure) IsHost() bool { return c.host != nil }

func NewHostClosure(fn HostFunc, name string, ups ...Value) *Closure {
	c := &Closure{host: fn, hostUps: ups, name: name}
	c.gcHeader.kind = objClosure
	return c
}

// UserData is the opaque host-data object of spec.md §3.4: a byte region
// with an attached metatable and a single user value of any type.
type UserData struct {
	gcHeader
	data      []byte
	metatable *Table
	userValue Value
}

func NewUserData(size int) *UserData {
	u := &UserData{data: make([]byte, size), userValue: Nil}
	u.gcHeader.kind = objUserData
	return u
}

func (u *UserData) traverse(gc *gcState) {
	if u.metatable != nil {
		gc.markObject(u.metatable)
	}
	gc.markValue(u.userValue)
}
