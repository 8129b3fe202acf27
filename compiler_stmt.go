package lumen

// blockFollow reports whether tok ends a block (spec.md §4.10 "Block
// scoping").
func blockFollow(k tokenKind) bool {
	switch k {
	case tkEOF, tkEnd, tkElse, tkElseif, tkUntil:
		return true
	default:
		return false
	}
}

func (fs *funcState) statList() {
	for !blockFollow(fs.tok.kind) {
		if fs.tok.kind == tkReturn {
			fs.returnStat()
			return
		}
		fs.statement()
	}
}

func (fs *funcState) statement() {
	switch fs.tok.kind {
	case tkSemi:
		fs.next()
	case tkIf:
		fs.ifStat()
	case tkWhile:
		fs.whileStat()
	case tkDo:
		fs.next()
		fs.openBlock(false)
		fs.statList()
		fs.closeBlock()
		fs.expect(tkEnd)
	case tkFor:
		fs.forStat()
	case tkRepeat:
		fs.repeatStat()
	case tkFunction:
		fs.funcStat()
	case tkLocal:
		fs.next()
		if fs.accept(tkFunction) {
			fs.localFuncStat()
		} else {
			fs.localStat()
		}
	case tkDColon:
		fs.labelStat()
	case tkBreak:
		fs.breakStat()
	case tkGoto:
		fs.gotoStat()
	default:
		fs.exprStat()
	}
}

// ---- control flow ----

func (fs *funcState) ifStat() {
	var exitJumps []int
	fs.next() // if
	elsePc := fs.testThenBlock()
	for fs.check(tkElseif) {
		fs.next()
		exitJumps = append(exitJumps, fs.jump())
		fs.patchHere([]int{elsePc})
		elsePc = fs.testThenBlock()
	}
	if fs.accept(tkElse) {
		exitJumps = append(exitJumps, fs.jump())
		fs.patchHere([]int{elsePc})
		fs.openBlock(false)
		fs.statList()
		fs.closeBlock()
	} else {
		fs.patchHere([]int{elsePc})
	}
	fs.expect(tkEnd)
	fs.patchHere(exitJumps)
}

// testThenBlock parses `cond then block`, returning the pc of the jump
// taken when cond is false (to be patched to the next elseif/else/end).
func (fs *funcState) testThenBlock() int {
	cond := fs.expr(0)
	reg := fs.toAnyReg(cond)
	fs.emitABC(opTest, reg, 0, 0)
	elseJump := fs.jump()
	fs.expect(tkThen)
	fs.openBlock(false)
	fs.statList()
	fs.closeBlock()
	return elseJump
}

func (fs *funcState) whileStat() {
	fs.next()
	top := len(fs.proto.code)
	cond := fs.expr(0)
	reg := fs.toAnyReg(cond)
	fs.emitABC(opTest, reg, 0, 0)
	exitJump := fs.jump()
	fs.expect(tkDo)
	fs.openBlock(true)
	fs.statList()
	backJump := fs.jump()
	fs.patchListTo([]int{backJump}, top)
	b := fs.block
	fs.closeBlock()
	fs.expect(tkEnd)
	fs.patchHere([]int{exitJump})
	fs.patchHere(b.breakList)
}

func (fs *funcState) repeatStat() {
	fs.next()
	top := len(fs.proto.code)
	fs.openBlock(true)
	fs.statList()
	fs.expect(tkUntil)
	cond := fs.expr(0)
	reg := fs.toAnyReg(cond)
	fs.emitABC(opTest, reg, 0, 0)
	backJump := fs.jump()
	fs.patchListTo([]int{backJump}, top)
	b := fs.block
	fs.closeBlock()
	fs.patchHere(b.breakList)
}

func (fs *funcState) breakStat() {
	fs.next()
	b := fs.block
	for b != nil && !b.isLoop {
		b = b.parent
	}
	if b == nil {
		fs.syntaxErrorf("break outside a loop")
	}
	pc := fs.jump()
	b.breakList = append(b.breakList, pc)
}

func (fs *funcState) labelStat() {
	fs.next()
	name := fs.expect(tkName).text
	fs.expect(tkDColon)
	fs.block.labels = append(fs.block.labels, labelDesc{name: name, pc: len(fs.proto.code), nactive: len(fs.actives)})
	fs.resolvePendingGotos(name)
}

func (fs *funcState) gotoStat() {
	fs.next()
	name := fs.expect(tkName).text
	for b := fs.block; b != nil; b = b.parent {
		for _, l := range b.labels {
			if l.name == name {
				pc := fs.jump()
				fs.patchListTo([]int{pc}, l.pc)
				return
			}
		}
	}
	pc := fs.jump()
	fs.block.pendingGoto = append(fs.block.pendingGoto, gotoDesc{name: name, pc: pc, nactive: len(fs.actives), line: fs.tok.line})
}

func (fs *funcState) resolvePendingGotos(name string) {
	remaining := fs.block.pendingGoto[:0]
	target := len(fs.proto.code)
	for _, g := range fs.block.pendingGoto {
		if g.name == name {
			fs.patchListTo([]int{g.pc}, target)
		} else {
			remaining = append(remaining, g)
		}
	}
	fs.block.pendingGoto = remaining
}

// numericForStat / genericForStat implement spec.md §4.10's two for-loop
// forms, each lowered to OP_FORPREP/OP_FORLOOP or OP_TFORCALL/OP_TFORLOOP.
func (fs *funcState) forStat() {
	fs.next()
	name := fs.expect(tkName).text
	if fs.check(tkAssign) {
		fs.numericForStat(name)
	} else {
		names := []string{name}
		for fs.accept(tkComma) {
			names = append(names, fs.expect(tkName).text)
		}
		fs.genericForStat(names)
	}
}

func (fs *funcState) numericForStat(name string) {
	fs.expect(tkAssign)
	base := fs.freereg
	initE := fs.expr(0)
	fs.toNextReg(initE)
	fs.expect(tkComma)
	limitE := fs.expr(0)
	fs.toNextReg(limitE)
	if fs.accept(tkComma) {
		stepE := fs.expr(0)
		fs.toNextReg(stepE)
	} else {
		fs.toNextReg(expDesc{kind: expK, info: fs.addConst(IntValue(1))})
	}
	fs.expect(tkDo)
	prepPc := fs.emitAsBx(opForPrep, base, 0)
	fs.openBlock(true)
	fs.newLocal(name)
	fs.statList()
	b := fs.block
	fs.closeBlock()
	fs.expect(tkEnd)
	loopPc := fs.emitAsBx(opForLoop, base, 0)
	fs.proto.code[prepPc] = encodeAsBx(opForPrep, base, loopPc-prepPc-1)
	fs.proto.code[loopPc] = encodeAsBx(opForLoop, base, prepPc-loopPc)
	fs.patchHere(b.breakList)
}

func (fs *funcState) genericForStat(names []string) {
	fs.expect(tkIn)
	base := fs.freereg
	for i := 0; i < 3; i++ {
		var e expDesc
		if i == 0 {
			e = fs.expr(0)
		} else if fs.accept(tkComma) {
			e = fs.expr(0)
		} else {
			e = expDesc{kind: expNil}
		}
		fs.toNextReg(e)
	}
	fs.expect(tkDo)
	fs.openBlock(true)
	for _, n := range names {
		fs.newLocal(n)
	}
	bodyStart := fs.jump()
	loopTop := len(fs.proto.code)
	fs.statList()
	fs.patchHere([]int{bodyStart})
	fs.emitABC(opTForCall, base, 0, len(names))
	tforLoopPc := fs.emitAsBx(opTForLoop, base+2, 0)
	fs.proto.code[tforLoopPc] = encodeAsBx(opTForLoop, base+2, loopTop-tforLoopPc-1)
	b := fs.block
	fs.closeBlock()
	fs.expect(tkEnd)
	fs.patchHere(b.breakList)
}

// ---- declarations ----

func (fs *funcState) localStat() {
	var names []string
	var attribs []string
	names = append(names, fs.expect(tkName).text)
	attribs = append(attribs, fs.localAttrib())
	for fs.accept(tkComma) {
		names = append(names, fs.expect(tkName).text)
		attribs = append(attribs, fs.localAttrib())
	}
	n := len(names)
	if fs.accept(tkAssign) {
		fs.exprListInto(n)
	} else {
		for i := 0; i < n; i++ {
			fs.toNextReg(expDesc{kind: expNil})
		}
	}
	for _, nm := range names {
		fs.newLocal(nm)
	}
}

// localAttrib consumes an optional Lua 5.4-style `<const>`/`<close>`
// attribute. SPEC_FULL.md's runtime does not special-case `<close>`'s
// to-be-closed semantics beyond normal scope-exit upvalue closing; the
// attribute is accepted syntactically and otherwise ignored.
func (fs *funcState) localAttrib() string {
	if fs.accept(tkLt) {
		name := fs.expect(tkName).text
		fs.expect(tkGt)
		return name
	}
	return ""
}

func (fs *funcState) localFuncStat() {
	name := fs.expect(tkName).text
	fs.newLocal(name)
	e := fs.funcBody(false, name)
	reg := fs.freereg
	fs.toReg(&e, reg)
}

func (fs *funcState) funcStat() {
	fs.next()
	name := fs.expect(tkName).text
	e := fs.resolveName(name)
	isMethod := false
	fullName := name
	for fs.check(tkDot) || fs.check(tkColon) {
		isMethod = fs.tok.kind == tkColon
		fs.next()
		field := fs.expect(tkName).text
		fullName += "." + field
		e = fs.indexField(e, field)
		if isMethod {
			break
		}
	}
	body := fs.funcBody(isMethod, fullName)
	fs.assign(e, body)
}

// exprStat parses either a call statement or an assignment (spec.md
// §4.10 "Statements").
func (fs *funcState) exprStat() {
	first := fs.suffixedExpr()
	if fs.check(tkAssign) || fs.check(tkComma) {
		targets := []expDesc{first}
		for fs.accept(tkComma) {
			targets = append(targets, fs.suffixedExpr())
		}
		fs.expect(tkAssign)
		fs.exprListAssign(targets)
		return
	}
	if first.kind != expCall {
		fs.syntaxErrorf("syntax error (expected statement)")
	}
	fs.setMultRet(&first)
	fs.proto.code[first.info] = patchC(fs.proto.code[first.info], 1)
}

// exprListAssign evaluates targets' value expressions and assigns them,
// matching arity by padding with nil / discarding extras (spec.md §4.10
// "Multiple assignment").
func (fs *funcState) exprListAssign(targets []expDesc) {
	n := len(targets)
	savedTargets := make([]expDesc, n)
	for i, t := range targets {
		savedTargets[i] = fs.stabilizeTarget(t)
	}
	startReg := fs.freereg
	fs.exprListInto(n)
	for i := n - 1; i >= 0; i-- {
		valReg := startReg + i
		fs.assignFromReg(savedTargets[i], valReg)
	}
	fs.freereg = startReg
}

// stabilizeTarget returns the target unchanged: an indexed target's table
// and key were already placed in registers or constants when the target
// was parsed, before the right-hand side is evaluated.
func (fs *funcState) stabilizeTarget(e expDesc) expDesc {
	return e
}

func (fs *funcState) assignFromReg(target expDesc, reg int) {
	switch target.kind {
	case expLocal:
		if target.info != reg {
			fs.emitABC(opMove, target.info, reg, 0)
		}
	case expUpval:
		fs.emitABC(opSetUpval, reg, target.info, 0)
	case expIndexedUp:
		fs.emitABC(opSetTabUp, target.info, rkConst(target.aux), reg)
	case expIndexed:
		fs.emitABC(opSetTable, target.info, target.aux, reg)
	default:
		fs.syntaxErrorf("cannot assign to this expression")
	}
}

func (fs *funcState) assign(target, value expDesc) {
	reg := fs.toAnyReg(value)
	fs.assignFromReg(target, reg)
}

// exprListInto parses a comma-separated expression list, pushing exactly
// want values onto consecutive fresh registers (padding nil / expanding
// the final multret expression as needed).
func (fs *funcState) exprListInto(want int) {
	n := 0
	var last expDesc
	for {
		last = fs.expr(0)
		n++
		if !fs.accept(tkComma) {
			break
		}
		fs.toNextReg(last)
	}
	if n >= want {
		if n == want && (last.kind == expCall || last.kind == expVararg) {
			fs.toNextReg(last)
			return
		}
		fs.toNextReg(last)
		return
	}
	// n < want: expand the last expression if it is multret-capable.
	if last.kind == expCall || last.kind == expVararg {
		extra := want - n + 1
		fs.setFixedRet(&last, extra)
		fs.toNextRegMulti(last, extra)
		return
	}
	fs.toNextReg(last)
	for i := n; i < want; i++ {
		fs.toNextReg(expDesc{kind: expNil})
	}
}

func (fs *funcState) setFixedRet(e *expDesc, n int) {
	if e.kind == expCall {
		fs.proto.code[e.info] = patchC(fs.proto.code[e.info], n+1)
	} else {
		fs.proto.code[e.info] = patchB(fs.proto.code[e.info], n+1)
	}
}

func (fs *funcState) toNextRegMulti(e expDesc, n int) {
	base := fs.freereg
	fs.proto.code[e.info] = patchA(fs.proto.code[e.info], base)
	fs.reserveRegs(n)
}

func (fs *funcState) returnStat() {
	fs.next()
	base := fs.freereg
	n := 0
	multret := false
	if !blockFollow(fs.tok.kind) && !fs.check(tkSemi) {
		for {
			e := fs.expr(0)
			n++
			atEnd := !fs.check(tkComma)
			if atEnd && (e.kind == expCall || e.kind == expVararg) {
				fs.setMultRet(&e)
				if e.kind == expCall {
					fs.proto.code[e.info] = patchA(fs.proto.code[e.info], fs.freereg)
				} else {
					fs.proto.code[e.info] = patchA(fs.proto.code[e.info], fs.freereg)
				}
				multret = true
				break
			}
			fs.toNextReg(e)
			if !fs.accept(tkComma) {
				break
			}
		}
	}
	fs.accept(tkSemi)
	if multret {
		fs.emitReturnMulti(base)
	} else {
		fs.emitReturn(base, n)
	}
}

func (fs *funcState) emitReturnMulti(base int) { fs.emitABC(opReturn, base, 0, 0) }

// ---- function bodies ----

// funcBody parses `( paramlist ) block end`, compiling a nested
// FunctionProto and emitting OP_CLOSURE in the enclosing function (spec.md
// §4.10, §3.6).
func (fs *funcState) funcBody(isMethod bool, name string) expDesc {
	sub := &funcState{gs: fs.gs, prev: fs, lx: fs.lx, constIndex: map[Value]int{}, maxRegsLimit: fs.maxRegsLimit}
	sub.proto = &FunctionProto{source: fs.proto.source, lineDefined: fs.tok.line}
	sub.proto.gcHeader.kind = objPrototype
	sub.tok = fs.tok
	sub.ahead = fs.ahead
	sub.openBlock(false)

	sub.expect(tkLParen)
	if isMethod {
		sub.newLocal("self")
	}
	if !sub.check(tkRParen) {
		for {
			if sub.check(tkEllipsis) {
				sub.next()
				sub.proto.isVararg = true
				break
			}
			pname := sub.expect(tkName).text
			sub.newLocal(pname)
			if !sub.accept(tkComma) {
				break
			}
		}
	}
	sub.expect(tkRParen)
	sub.proto.numParams = len(sub.actives)
	sub.statList()
	sub.closeBlock()
	sub.expect(tkEnd)
	sub.emitReturn(0, 0)

	fs.tok = sub.tok
	fs.ahead = sub.ahead
	fs.proto.protos = append(fs.proto.protos, sub.proto)
	protoIdx := len(fs.proto.protos) - 1
	pc := fs.emitABx(opClosure, 0, protoIdx)
	_ = name
	return relocExp(expRelocatable, pc)
}
