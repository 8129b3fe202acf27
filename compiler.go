package lumen

import "fmt"

// expKind tags an expression descriptor mid-compile, before it has been
// materialized into a register (spec.md §4.10 "Expression descriptors").
type expKind int

const (
	expVoid expKind = iota
	expNil
	expTrue
	expFalse
	expK          // constant-pool value, info = constant index
	expLocal      // info = register
	expUpval      // info = upvalue index
	expIndexed    // info = table register/upvalue, aux = key register-or-const
	expIndexedUp  // info = upvalue index (for _ENV-style global access), aux = key const idx
	expCall       // info = instruction pc of the OP_CALL
	expVararg     // info = instruction pc of the OP_VARARG
	expNonReloc   // already in a fixed register, info = register
	expRelocatable // info = pc of instruction whose A field still needs a register
)

// expDesc is the single-pass compiler's expression descriptor (spec.md
// §4.10): what an expression evaluates to, before code generation commits
// it to a specific register.
type expDesc struct {
	kind k2
	info int
	aux  int
	nval Value

	truelist  []int
	falselist []int
}

type k2 = expKind

func relocExp(kind expKind, info int) expDesc { return expDesc{kind: kind, info: info} }

// localVar tracks one active local variable's name and register.
type localVar struct {
	name string
	reg  int
}

// blockScope models a lexical block for break/goto/local-scope bookkeeping
// (spec.md §4.10 "Block scoping").
type blockScope struct {
	parent      *blockScope
	firstLocal  int // index into funcState.actives at block entry
	isLoop      bool
	breakList   []int
	labels      []labelDesc
	pendingGoto []gotoDesc
}

type labelDesc struct {
	name string
	pc   int
	nactive int
}

type gotoDesc struct {
	name    string
	pc      int
	nactive int
	line    int
}

// funcState is the compiler's per-function working state, one per nested
// function being compiled (spec.md §4.10, glossary "Prototype").
type funcState struct {
	gs    *GlobalState
	proto *FunctionProto
	prev  *funcState
	lx    *lexer
	tok   token
	ahead *token

	block *blockScope

	actives []localVar
	freereg int

	constIndex map[Value]int

	maxRegsLimit int
}

// Compile compiles source into a top-level FunctionProto (spec.md §4.10
// `compile`), a vararg function of zero parameters whose one upvalue is
// the environment table, matching the reference implementation's
// `_ENV`-upvalue convention this runtime also follows (SPEC_FULL.md §4.10).
func Compile(gs *GlobalState, source, chunkName string) (proto *FunctionProto, err *RuntimeError) {
	defer func() {
		if r := recover(); r != nil {
			esc, ok := r.(protectedEscape)
			if !ok {
				panic(r)
			}
			err = esc.err
		}
	}()
	lx := newLexer(chunkName, source)
	fs := &funcState{gs: gs, lx: lx, constIndex: map[Value]int{}, maxRegsLimit: gs.config.GetInt("compiler.maxregs")}
	fs.proto = &FunctionProto{source: chunkName, isVararg: true}
	fs.proto.gcHeader.kind = objPrototype
	fs.openBlock(false)
	fs.next()
	fs.statList()
	fs.expect(tkEOF)
	fs.closeBlock()
	fs.emitReturn(0, 0)
	gs.gc.registerObject(fs.proto)
	return fs.proto, nil
}

// ---- token stream ----

func (fs *funcState) next() {
	if fs.ahead != nil {
		fs.tok = *fs.ahead
		fs.ahead = nil
		return
	}
	fs.tok = fs.lx.next()
}

func (fs *funcState) peekAhead() token {
	if fs.ahead == nil {
		t := fs.lx.next()
		fs.ahead = &t
	}
	return *fs.ahead
}

func (fs *funcState) check(k tokenKind) bool { return fs.tok.kind == k }

func (fs *funcState) accept(k tokenKind) bool {
	if fs.tok.kind == k {
		fs.next()
		return true
	}
	return false
}

func (fs *funcState) expect(k tokenKind) token {
	if fs.tok.kind != k {
		fs.syntaxErrorf("'%s' expected near '%s'", tokenName(k), tokenName(fs.tok.kind))
	}
	t := fs.tok
	fs.next()
	return t
}

func (fs *funcState) syntaxErrorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	throw(StatusSyntaxError, newStringValue(msg), fmt.Sprintf("%s:%d: %s", fs.proto.source, fs.tok.line, msg))
}

func tokenName(k tokenKind) string {
	switch k {
	case tkEOF:
		return "<eof>"
	case tkName:
		return "<name>"
	case tkEnd:
		return "end"
	case tkThen:
		return "then"
	case tkDo:
		return "do"
	default:
		return fmt.Sprintf("token(%d)", k)
	}
}

// ---- code emission ----

func (fs *funcState) emit(i Instruction) int {
	fs.proto.code = append(fs.proto.code, i)
	fs.proto.lines = append(fs.proto.lines, int32(fs.tok.line))
	return len(fs.proto.code) - 1
}

func (fs *funcState) emitABC(op byte, a, b, c int) int { return fs.emit(encodeABC(op, a, b, c)) }
func (fs *funcState) emitABx(op byte, a, bx int) int   { return fs.emit(encodeABx(op, a, bx)) }
func (fs *funcState) emitAsBx(op byte, a, sbx int) int { return fs.emit(encodeAsBx(op, a, sbx)) }

func (fs *funcState) emitReturn(first, n int) int { return fs.emitABC(opReturn, first, n+1, 0) }

func (fs *funcState) addConst(v Value) int {
	if idx, ok := fs.constIndex[constKey(v)]; ok {
		return idx
	}
	fs.proto.constants = append(fs.proto.constants, v)
	idx := len(fs.proto.constants) - 1
	fs.constIndex[constKey(v)] = idx
	return idx
}

// constKey normalizes a Value for use as a Go map key: the raw Value
// struct is already comparable (its ptr field holds pointer-identity
// collectable references, and interned short strings compare by pointer),
// so it is its own key.
func constKey(v Value) Value { return v }

func (fs *funcState) reserveRegs(n int) {
	fs.freereg += n
	if fs.freereg > fs.proto.maxStack {
		fs.proto.maxStack = fs.freereg
	}
	if fs.freereg > fs.maxRegsLimit {
		fs.syntaxErrorf("function or expression needs too many registers")
	}
}

func (fs *funcState) freeReg(r int) {
	if r >= len(fs.actives)+0 && r == fs.freereg-1 {
		fs.freereg--
	}
}

// ---- scopes ----

func (fs *funcState) openBlock(isLoop bool) {
	fs.block = &blockScope{parent: fs.block, firstLocal: len(fs.actives), isLoop: isLoop}
}

func (fs *funcState) closeBlock() {
	b := fs.block
	for _, g := range b.pendingGoto {
		if b.parent != nil {
			b.parent.pendingGoto = append(b.parent.pendingGoto, g)
		} else {
			fs.syntaxErrorf("no visible label '%s' for goto", g.name)
		}
	}
	fs.actives = fs.actives[:b.firstLocal]
	fs.freereg = len(fs.actives)
	fs.block = b.parent
}

func (fs *funcState) newLocal(name string) int {
	reg := len(fs.actives)
	fs.actives = append(fs.actives, localVar{name: name, reg: reg})
	if reg >= fs.freereg {
		fs.reserveRegs(reg - fs.freereg + 1)
	}
	return reg
}

// resolveName looks a name up as local, then enclosing-function upvalue,
// then falls back to indexing the implicit _ENV upvalue (spec.md §4.10's
// "globals are sugar for indexing an upvalue" convention).
func (fs *funcState) resolveName(name string) expDesc {
	for i := len(fs.actives) - 1; i >= 0; i-- {
		if fs.actives[i].name == name {
			return expDesc{kind: expLocal, info: fs.actives[i].reg}
		}
	}
	if idx, ok := fs.findUpval(name); ok {
		return expDesc{kind: expUpval, info: idx}
	}
	envIdx, _ := fs.findUpval("_ENV")
	keyIdx := fs.addConst(StringValue(internName(fs, name)))
	return expDesc{kind: expIndexedUp, info: envIdx, aux: keyIdx}
}

func internName(fs *funcState, name string) *stringObj {
	return fs.gs.intern([]byte(name))
}

// findUpval returns the index of an existing upvalue named name, searching
// the enclosing function's locals/upvalues recursively and creating the
// chain of upvalDesc entries as needed (spec.md §3.6 "Upvalue capture").
func (fs *funcState) findUpval(name string) (int, bool) {
	for i, u := range fs.proto.upvals {
		if u.name == name {
			return i, true
		}
	}
	if fs.prev == nil {
		if name == "_ENV" {
			fs.proto.upvals = append(fs.proto.upvals, upvalDesc{name: name, fromLocal: false, index: 0})
			return len(fs.proto.upvals) - 1, true
		}
		return 0, false
	}
	for i := len(fs.prev.actives) - 1; i >= 0; i-- {
		if fs.prev.actives[i].name == name {
			fs.proto.upvals = append(fs.proto.upvals, upvalDesc{name: name, fromLocal: true, index: fs.prev.actives[i].reg})
			return len(fs.proto.upvals) - 1, true
		}
	}
	if idx, ok := fs.prev.findUpval(name); ok {
		fs.proto.upvals = append(fs.proto.upvals, upvalDesc{name: name, fromLocal: false, index: idx})
		return len(fs.proto.upvals) - 1, true
	}
	return 0, false
}

// ---- expression materialization ----

// toAnyReg forces e into some register, returning that register.
func (fs *funcState) toAnyReg(e expDesc) int {
	fs.dischargeVars(&e)
	if e.kind == expLocal {
		return e.info
	}
	reg := fs.freereg
	fs.reserveRegs(1)
	fs.toReg(&e, reg)
	return reg
}

func (fs *funcState) toNextReg(e expDesc) {
	fs.dischargeVars(&e)
	fs.freeExp(e)
	reg := fs.freereg
	fs.reserveRegs(1)
	fs.toReg(&e, reg)
}

func (fs *funcState) freeExp(e expDesc) {
	if e.kind == expNonReloc {
		fs.freeReg(e.info)
	}
}

// dischargeVars resolves an upvalue/indexed/call/vararg descriptor down to
// a relocatable or nonreloc form (spec.md §4.10 "single-pass codegen").
func (fs *funcState) dischargeVars(e *expDesc) {
	switch e.kind {
	case expUpval:
		pc := fs.emitABC(opGetUpval, 0, e.info, 0)
		*e = relocExp(expRelocatable, pc)
	case expIndexedUp:
		pc := fs.emitABC(opGetTabUp, 0, e.info, rkConst(e.aux))
		*e = relocExp(expRelocatable, pc)
	case expIndexed:
		pc := fs.emitABC(opGetTable, 0, e.info, e.aux)
		*e = relocExp(expRelocatable, pc)
	case expCall, expVararg:
		fs.setOneResult(*e)
	}
}

func (fs *funcState) setOneResult(e expDesc) {
	fs.proto.code[e.info] = patchA(fs.proto.code[e.info], fs.proto.code[e.info].A())
	if e.kind == expCall {
		fs.proto.code[e.info] = patchC(fs.proto.code[e.info], 2)
	} else {
		fs.proto.code[e.info] = patchB(fs.proto.code[e.info], 2)
	}
}

func patchA(i Instruction, a int) Instruction { return encodeABC(i.Op(), a, i.B(), i.C()) }
func patchB(i Instruction, b int) Instruction { return encodeABC(i.Op(), i.A(), b, i.C()) }
func patchC(i Instruction, c int) Instruction { return encodeABC(i.Op(), i.A(), i.B(), c) }

// toReg commits e into register reg, emitting whatever load/move
// instruction the descriptor's kind requires.
func (fs *funcState) toReg(e *expDesc, reg int) {
	fs.dischargeVars(e)
	switch e.kind {
	case expNil:
		fs.emitABC(opLoadNil, reg, 0, 0)
	case expTrue:
		fs.emitABC(opLoadBool, reg, 1, 0)
	case expFalse:
		fs.emitABC(opLoadBool, reg, 0, 0)
	case expK:
		fs.emitABx(opLoadK, reg, e.info)
	case expLocal:
		if e.info != reg {
			fs.emitABC(opMove, reg, e.info, 0)
		}
	case expNonReloc:
		if e.info != reg {
			fs.emitABC(opMove, reg, e.info, 0)
		}
	case expRelocatable:
		fs.proto.code[e.info] = patchA(fs.proto.code[e.info], reg)
	case expVoid:
		// nothing to do (e.g. unused result slot)
	}
	*e = expDesc{kind: expNonReloc, info: reg}
}

// ---- jump list patching (spec.md §4.10 "Jump-list patching") ----

func (fs *funcState) jump() int {
	return fs.emitAsBx(opJump, 0, -1)
}

func (fs *funcState) patchListTo(list []int, target int) {
	for _, pc := range list {
		offset := target - (pc + 1)
		fs.proto.code[pc] = encodeAsBx(opJump, fs.proto.code[pc].A(), offset)
	}
}

func (fs *funcState) patchHere(list []int) {
	fs.patchListTo(list, len(fs.proto.code))
}

func (fs *funcState) concatJump(list *[]int, pc int) {
	*list = append(*list, pc)
}
