package lumen

// threadStatus enumerates a coroutine's lifecycle (spec.md §5, glossary
// "Thread"): suspended/running/normal (resumed another coroutine, itself
// parked)/dead.
type threadStatus int

const (
	threadSuspended threadStatus = iota
	threadRunning
	threadNormal
	threadDead
)

func (s threadStatus) String() string {
	switch s {
	case threadSuspended:
		return "suspended"
	case threadRunning:
		return "running"
	case threadNormal:
		return "normal"
	default:
		return "dead"
	}
}

// CallFrame is one activation record on a thread's call stack (spec.md §3.8
// "Call stack frame"). Register window [base, base+closure.proto.maxStack)
// aliases thread.stack.
type CallFrame struct {
	closure    *Closure
	base       int // first register of this frame within thread.stack
	pc         int
	nResults   int // results the caller asked for, -1 meaning "all"
	isTailCall bool
	varargs    []Value
	extraTop   int // highest register+1 live after a multret call/vararg/TFORCALL
}

// maxCCallsDefault bounds reentrant host->script->host nesting (spec.md
// §4.11 "Call depth") when the state has no config; otherwise the bound is
// read from config key vm.maxccalls.
const maxCCallsDefault = 200

// Thread is a coroutine: an independent register stack plus call-frame
// chain, rendezvousing with its resumer over a channel (spec.md §5
// "goroutine-per-thread, channel rendezvous is an acceptable stackful
// continuation implementation").
type Thread struct {
	gcHeader
	gs *GlobalState

	stack []Value
	frames []CallFrame

	status threadStatus

	// openUpvals is the sorted (descending stack index) list of upvalue
	// cells still aliasing this thread's stack (spec.md §3.7).
	openUpvals *upvalue

	resumer *Thread

	toChild  chan []Value
	fromChild chan coroutineResult

	ccalls int

	errHandler Value // set by xpcall for the duration of the protected call
}

type coroutineResult struct {
	values []Value
	err    *RuntimeError
	done   bool
}

func newThread(gs *GlobalState) *Thread {
	th := &Thread{
		gs:     gs,
		stack:  make([]Value, 64),
		status: threadRunning,
	}
	th.gcHeader.kind = objThread
	return th
}

// NewCoroutine creates a fresh suspended thread sharing gs but running its
// own goroutine once first resumed (spec.md §6.1 `coroutine-create`).
func NewCoroutine(gs *GlobalState, fn *Closure) *Thread {
	th := &Thread{
		gs:      gs,
		stack:   make([]Value, 32),
		status:  threadSuspended,
		toChild: make(chan []Value),
		fromChild: make(chan coroutineResult),
	}
	th.gcHeader.kind = objThread
	gs.gc.registerObject(th)
	go th.coroutineMain(fn)
	return th
}

func (th *Thread) traverse(gc *gcState) {
	for _, v := range th.stack {
		gc.markValue(v)
	}
	for i := range th.frames {
		if th.frames[i].closure != nil {
			gc.markObject(th.frames[i].closure)
		}
	}
	for u := th.openUpvals; u != nil; u = u.openNext {
		gc.markObject(u)
	}
}

func (th *Thread) ensureStack(top int) {
	if top <= len(th.stack) {
		return
	}
	limit := th.gs.config.GetInt("vm.maxusercap")
	grown := growVector(th.stack, top, limit, "registers")
	th.stack = grown[:top]
}

// findOrCreateUpvalue implements spec.md §3.7: return the existing open
// upvalue cell for stack index idx, or create and splice in a new one,
// keeping the list sorted by index descending.
func (th *Thread) findOrCreateUpvalue(idx int) *upvalue {
	var prev *upvalue
	cur := th.openUpvals
	for cur != nil && cur.index > idx {
		prev, cur = cur, cur.openNext
	}
	if cur != nil && cur.index == idx {
		return cur
	}
	u := &upvalue{thread: th, index: idx, openNext: cur}
	u.gcHeader.kind = objUpvalue
	if th.gs != nil && th.gs.gc != nil {
		th.gs.gc.registerObject(u)
	}
	if prev == nil {
		th.openUpvals = u
	} else {
		prev.openNext = u
	}
	return u
}

// closeUpvalues closes every open upvalue at or above stack index from,
// copying the current stack value into the cell and detaching it from this
// thread (spec.md §3.7 "Closing"). Called on block exit and function
// return.
func (th *Thread) closeUpvalues(from int) {
	for th.openUpvals != nil && th.openUpvals.index >= from {
		u := th.openUpvals
		th.openUpvals = u.openNext
		u.value = th.stack[u.index]
		u.closed = true
		u.thread = nil
		u.openNext = nil
		if th.gs != nil && th.gs.gc != nil {
			th.gs.gc.barrierForward(u, u.value)
		}
	}
}

// ---- calling convention ----

// call invokes fn with args already logically present, producing up to
// nResults values (-1 for "all"). Scripted closures push a CallFrame and
// hand control to the VM dispatch loop (vm.go); host closures are called
// directly through the stack-based HostFunc convention (spec.md §4.12).
func (th *Thread) call(fn Value, args []Value, nResults int) []Value {
	th.ccalls++
	maxCCalls := maxCCallsDefault
	if th.gs != nil && th.gs.config != nil {
		maxCCalls = th.gs.config.GetInt("vm.maxccalls")
	}
	if th.ccalls > maxCCalls {
		throwf(StatusRuntimeError, "stack overflow")
	}
	defer func() { th.ccalls-- }()

	callable := fn
	tail := args
	for depth := 0; depth < 100; depth++ {
		if !callable.IsFunction() {
			mm := getMetamethod(th.gs, callable, metaCall)
			if mm.IsNil() {
				throwf(StatusRuntimeError, "attempt to call a %s value", callable.TypeName())
			}
			newArgs := make([]Value, 0, len(tail)+1)
			newArgs = append(newArgs, callable)
			newArgs = append(newArgs, tail...)
			callable, tail = mm, newArgs
			continue
		}
		break
	}
	cl := callable.AsFunction()
	if cl.IsHost() {
		return th.callHost(cl, tail, nResults)
	}
	return th.callScripted(cl, tail, nResults)
}

func (th *Thread) callHost(cl *Closure, args []Value, nResults int) []Value {
	base := len(th.stack)
	th.ensureStack(base + len(args) + 1)
	copy(th.stack[base:], args)
	l := &State{th: th, gs: th.gs, base: base, top: base + len(args)}
	n := cl.host(l)
	results := append([]Value(nil), th.stack[base:base+n]...)
	th.stack = th.stack[:base]
	return adjustResults(results, nResults)
}

func (th *Thread) callScripted(cl *Closure, args []Value, nResults int) []Value {
	base := len(th.stack)
	proto := cl.proto
	th.ensureStack(base + proto.maxStack + 1)

	var varargs []Value
	np := proto.numParams
	for i := 0; i < np; i++ {
		if i < len(args) {
			th.stack[base+i] = args[i]
		} else {
			th.stack[base+i] = Nil
		}
	}
	if proto.isVararg && len(args) > np {
		varargs = append([]Value(nil), args[np:]...)
	}
	for i := np; i < proto.maxStack; i++ {
		th.stack[base+i] = Nil
	}

	frame := CallFrame{closure: cl, base: base, nResults: nResults, varargs: varargs}
	th.frames = append(th.frames, frame)
	results := runVM(th)
	th.closeUpvalues(base)
	th.stack = th.stack[:base]
	return adjustResults(results, nResults)
}

func adjustResults(vs []Value, want int) []Value {
	if want < 0 {
		return vs
	}
	if len(vs) == want {
		return vs
	}
	out := make([]Value, want)
	copy(out, vs)
	for i := len(vs); i < want; i++ {
		out[i] = Nil
	}
	return out
}

// pcall runs fn protected, converting a thrown protectedEscape into a
// returned *RuntimeError rather than propagating the Go panic (spec.md
// §4.11's seven-way status code convention realized via panic/recover
// standing in for setjmp/longjmp).
func (th *Thread) pcall(fn Value, args []Value, nResults int, handler Value) (results []Value, rerr *RuntimeError) {
	savedFrames := len(th.frames)
	savedStack := len(th.stack)
	savedHandler := th.errHandler
	th.errHandler = handler
	defer func() {
		th.errHandler = savedHandler
		if r := recover(); r != nil {
			esc, ok := r.(protectedEscape)
			if !ok {
				panic(r)
			}
			th.frames = th.frames[:savedFrames]
			th.stack = th.stack[:savedStack]
			rerr = esc.err
		}
	}()
	results = th.call(fn, args, nResults)
	return results, nil
}

// ---- coroutines (spec.md §5) ----

func (th *Thread) coroutineMain(fn *Closure) {
	args := <-th.toChild
	defer func() {
		if r := recover(); r != nil {
			if esc, ok := r.(protectedEscape); ok {
				th.status = threadDead
				th.fromChild <- coroutineResult{err: esc.err, done: true}
				return
			}
			panic(r)
		}
	}()
	results := th.call(FunctionValue(fn), args, -1)
	th.status = threadDead
	th.fromChild <- coroutineResult{values: results, done: true}
}

// Resume implements `coroutine-resume` (spec.md §6.1, §5): hand args to the
// coroutine's goroutine and block until it yields, returns, or errors.
func (th *Thread) Resume(caller *Thread, args []Value) ([]Value, *RuntimeError) {
	if th.status == threadDead {
		return nil, &RuntimeError{Status: StatusRuntimeError, Message: "cannot resume dead coroutine"}
	}
	if th.status != threadSuspended {
		return nil, &RuntimeError{Status: StatusRuntimeError, Message: "cannot resume non-suspended coroutine"}
	}
	th.status = threadRunning
	th.resumer = caller
	if caller != nil {
		caller.status = threadNormal
	}
	th.toChild <- args
	res := <-th.fromChild
	if caller != nil {
		caller.status = threadRunning
	}
	if !res.done {
		th.status = threadSuspended
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.values, nil
}

// Yield implements `coroutine-yield` (spec.md §6.1): suspend this
// goroutine, handing values back to the resumer, and block until resumed
// again.
func (th *Thread) Yield(values []Value) []Value {
	if th.toChild == nil {
		throwf(StatusRuntimeError, "attempt to yield from outside a coroutine")
	}
	th.fromChild <- coroutineResult{values: values, done: false}
	return <-th.toChild
}
