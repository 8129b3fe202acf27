package lumen

// binPriority is the left/right binding power of each binary operator,
// per spec.md §4.10's operator-precedence table (Lua's usual 12 levels,
// concat and exponentiation right-associative).
type binPriority struct{ left, right int }

var binPriorities = map[tokenKind]binPriority{
	tkOr:      {1, 1},
	tkAnd:     {2, 2},
	tkLt:      {3, 3}, tkGt: {3, 3}, tkLe: {3, 3}, tkGe: {3, 3}, tkNe: {3, 3}, tkEq: {3, 3},
	tkPipe:    {4, 4},
	tkTilde:   {5, 5},
	tkAmp:     {6, 6},
	tkLtLt:    {7, 7}, tkGtGt: {7, 7},
	tkConcat:  {9, 8}, // right-assoc
	tkPlus:    {10, 10}, tkMinus: {10, 10},
	tkStar:    {11, 11}, tkSlash: {11, 11}, tkDSlash: {11, 11}, tkPercent: {11, 11},
	tkCaret:   {14, 13}, // right-assoc
}

const unaryPriority = 12

// expr parses an expression with operator-precedence climbing (spec.md
// §4.10).
func (fs *funcState) expr(limit int) expDesc {
	var e expDesc
	switch fs.tok.kind {
	case tkNot, tkMinus, tkHash, tkTilde:
		op := fs.tok.kind
		fs.next()
		operand := fs.expr(unaryPriority)
		e = fs.emitUnary(op, operand)
	default:
		e = fs.simpleExpr()
	}
	for {
		pri, ok := binPriorities[fs.tok.kind]
		if !ok || pri.left <= limit {
			break
		}
		op := fs.tok.kind
		fs.next()
		if op == tkAnd {
			e = fs.andExpr(e)
			continue
		}
		if op == tkOr {
			e = fs.orExpr(e)
			continue
		}
		rhs := fs.expr(pri.right)
		e = fs.emitBinary(op, e, rhs)
	}
	return e
}

func (fs *funcState) simpleExpr() expDesc {
	switch fs.tok.kind {
	case tkNumber:
		v := fs.tok.numVal
		fs.next()
		return expDesc{kind: expK, info: fs.addConst(v)}
	case tkString:
		v := fs.tok.numVal
		fs.next()
		return expDesc{kind: expK, info: fs.addConst(v)}
	case tkNil:
		fs.next()
		return expDesc{kind: expNil}
	case tkTrue:
		fs.next()
		return expDesc{kind: expTrue}
	case tkFalse:
		fs.next()
		return expDesc{kind: expFalse}
	case tkEllipsis:
		fs.next()
		pc := fs.emitABC(opVararg, 0, 2, 0)
		return expDesc{kind: expVararg, info: pc}
	case tkLBrace:
		return fs.tableConstructor()
	case tkFunction:
		fs.next()
		return fs.funcBody(false, "")
	default:
		return fs.suffixedExpr()
	}
}

// primaryExpr parses a name or parenthesized expression, the base of a
// suffixedExpr chain.
func (fs *funcState) primaryExpr() expDesc {
	switch fs.tok.kind {
	case tkLParen:
		fs.next()
		e := fs.expr(0)
		fs.expect(tkRParen)
		fs.dischargeVars(&e)
		if e.kind == expCall || e.kind == expVararg {
			fs.setOneResult(e)
		}
		return e
	case tkName:
		name := fs.tok.text
		fs.next()
		return fs.resolveName(name)
	default:
		fs.syntaxErrorf("unexpected symbol")
		return expDesc{}
	}
}

// suffixedExpr parses primaryExpr followed by any chain of `.name`,
// `[expr]`, `:name(args)`, and call-argument suffixes (spec.md §4.10
// "Suffixed expressions").
func (fs *funcState) suffixedExpr() expDesc {
	e := fs.primaryExpr()
	for {
		switch fs.tok.kind {
		case tkDot:
			fs.next()
			name := fs.expect(tkName).text
			e = fs.indexField(e, name)
		case tkLBracket:
			fs.next()
			key := fs.expr(0)
			fs.expect(tkRBracket)
			e = fs.indexExpr(e, key)
		case tkColon:
			fs.next()
			name := fs.expect(tkName).text
			e = fs.methodCall(e, name)
		case tkLParen, tkString, tkLBrace:
			e = fs.callExpr(e)
		default:
			return e
		}
	}
}

func (fs *funcState) indexField(e expDesc, name string) expDesc {
	key := expDesc{kind: expK, info: fs.addConst(StringValue(internName(fs, name)))}
	return fs.indexExpr(e, key)
}

func (fs *funcState) indexExpr(e, key expDesc) expDesc {
	tableReg := fs.toAnyReg(e)
	kRK := fs.expToRK(key)
	return expDesc{kind: expIndexed, info: tableReg, aux: kRK}
}

// expToRK materializes an expression into either a constant-pool RK slot
// (if it is a literal) or an actual register, returning the packed RK
// operand (spec.md §4.10 "register-vs-constant operand").
func (fs *funcState) expToRK(e expDesc) int {
	if e.kind == expK && e.info <= maxIndexRK {
		return rkConst(e.info)
	}
	return fs.toAnyReg(e)
}

func (fs *funcState) methodCall(obj expDesc, name string) expDesc {
	objReg := fs.toAnyReg(obj)
	fs.reserveRegs(1)
	selfBase := fs.freereg - 1
	keyConst := fs.addConst(StringValue(internName(fs, name)))
	fs.emitABC(opSelf, selfBase, objReg, rkConst(keyConst))
	fs.reserveRegs(1)
	return fs.finishCall(selfBase, 2)
}

func (fs *funcState) callExpr(fn expDesc) expDesc {
	fnReg := fs.toAnyReg(fn)
	if fnReg != fs.freereg {
		fs.freereg = fnReg
		fs.reserveRegs(1)
	} else {
		fs.reserveRegs(1)
	}
	return fs.finishCall(fnReg, 1)
}

// finishCall parses the call's argument list (already-placed callee/self
// occupies [base, base+selfOffset)) and emits OP_CALL.
func (fs *funcState) finishCall(base int, selfOffset int) expDesc {
	nargs := fs.argList()
	var b int
	if nargs < 0 {
		b = 0 // variable argument count: last arg was multret
	} else {
		b = nargs + selfOffset
	}
	pc := fs.emitABC(opCall, base, b, 2)
	fs.freereg = base + 1
	return expDesc{kind: expCall, info: pc}
}

// argList parses a call's `(args)`, a single string literal, or a single
// table constructor (spec.md §4.10 call-argument sugar). Returns the
// number of fixed args pushed, or -1 if the last argument is a multret
// call/vararg whose result count the VM must determine at run time.
func (fs *funcState) argList() int {
	switch fs.tok.kind {
	case tkString:
		v := fs.tok.numVal
		fs.next()
		fs.toNextReg(expDesc{kind: expK, info: fs.addConst(v)})
		return 1
	case tkLBrace:
		e := fs.tableConstructor()
		fs.toNextReg(e)
		return 1
	case tkLParen:
		fs.next()
		if fs.accept(tkRParen) {
			return 0
		}
		n := 0
		multret := false
		for {
			e := fs.expr(0)
			n++
			if fs.check(tkRParen) {
				if e.kind == expCall || e.kind == expVararg {
					fs.setMultRet(&e)
					multret = true
				}
			}
			fs.toNextReg(e)
			if !fs.accept(tkComma) {
				break
			}
		}
		fs.expect(tkRParen)
		if multret {
			return -1
		}
		return n
	default:
		fs.syntaxErrorf("function arguments expected")
		return 0
	}
}

func (fs *funcState) setMultRet(e *expDesc) {
	if e.kind == expCall {
		fs.proto.code[e.info] = patchC(fs.proto.code[e.info], 0)
	} else if e.kind == expVararg {
		fs.proto.code[e.info] = patchB(fs.proto.code[e.info], 0)
	}
}

// ---- table constructors (spec.md §4.10 "Table constructors") ----

func (fs *funcState) tableConstructor() expDesc {
	fs.expect(tkLBrace)
	tableReg := fs.freereg
	pc := fs.emitABC(opNewTable, tableReg, 0, 0)
	fs.reserveRegs(1)

	nArr, nRec := 0, 0
	pending := 0
	flushArray := func(force bool) {
		if pending == 0 {
			return
		}
		if pending >= setlistBatchSize || force {
			fs.emitABC(opSetList, tableReg, pending, nArr-pending+1)
			fs.freereg = tableReg + 1
			pending = 0
		}
	}
	for !fs.check(tkRBrace) {
		if fs.check(tkLBracket) {
			fs.next()
			key := fs.expr(0)
			fs.expect(tkRBracket)
			fs.expect(tkAssign)
			val := fs.expr(0)
			kRK := fs.expToRK(key)
			vRK := fs.expToRK(val)
			fs.emitABC(opSetTable, tableReg, kRK, vRK)
			nRec++
		} else if fs.check(tkName) && fs.peekAhead().kind == tkAssign {
			name := fs.tok.text
			fs.next()
			fs.next()
			val := fs.expr(0)
			kIdx := fs.addConst(StringValue(internName(fs, name)))
			vRK := fs.expToRK(val)
			fs.emitABC(opSetTable, tableReg, rkConst(kIdx), vRK)
			nRec++
		} else {
			val := fs.expr(0)
			if fs.check(tkRBrace) && (val.kind == expCall || val.kind == expVararg) {
				fs.setMultRet(&val)
				fs.toNextReg(val)
				nArr++
				pending++
				flushArray(true)
				break
			}
			fs.toNextReg(val)
			nArr++
			pending++
			if pending >= setlistBatchSize {
				flushArray(true)
			}
		}
		if !fs.accept(tkComma) && !fs.accept(tkSemi) {
			break
		}
	}
	fs.expect(tkRBrace)
	flushArray(true)
	fs.proto.code[pc] = encodeABC(opNewTable, tableReg, nArr, nRec)
	fs.freereg = tableReg + 1
	return expDesc{kind: expNonReloc, info: tableReg}
}

// ---- unary/binary operator codegen ----

func (fs *funcState) emitUnary(op tokenKind, e expDesc) expDesc {
	r := fs.expToRK(e)
	reg := fs.freereg
	fs.reserveRegs(1)
	var opc byte
	switch op {
	case tkMinus:
		opc = opUnm
	case tkNot:
		opc = opNot
	case tkHash:
		opc = opLen
	case tkTilde:
		opc = opBNot
	}
	fs.emitABC(opc, reg, r, 0)
	return expDesc{kind: expNonReloc, info: reg}
}

func (fs *funcState) emitBinary(op tokenKind, lhs, rhs expDesc) expDesc {
	if op == tkConcat {
		return fs.emitConcat(lhs, rhs)
	}
	if isRelational(op) {
		return fs.emitRelational(op, lhs, rhs)
	}
	a := fs.expToRK(lhs)
	b := fs.expToRK(rhs)
	reg := fs.freereg
	fs.reserveRegs(1)
	fs.emitABC(arithOpcodeFor(op), reg, a, b)
	return expDesc{kind: expNonReloc, info: reg}
}

func arithOpcodeFor(op tokenKind) byte {
	switch op {
	case tkPlus:
		return opAdd
	case tkMinus:
		return opSub
	case tkStar:
		return opMul
	case tkSlash:
		return opDiv
	case tkDSlash:
		return opIDiv
	case tkPercent:
		return opMod
	case tkCaret:
		return opPow
	case tkAmp:
		return opBAnd
	case tkPipe:
		return opBOr
	case tkTilde:
		return opBXor
	case tkLtLt:
		return opShl
	case tkGtGt:
		return opShr
	default:
		return opAdd
	}
}

func isRelational(op tokenKind) bool {
	switch op {
	case tkEq, tkNe, tkLt, tkLe, tkGt, tkGe:
		return true
	default:
		return false
	}
}

// emitRelational materializes a boolean comparison result into a fresh
// register (spec.md §4.10): emit the comparison opcode, then a
// JMP/LOADBOOL/LOADBOOL triple so the result is an ordinary value rather
// than a deferred jump list (a simpler, unoptimized rendition of the
// reference compiler's jump-list based scheme).
func (fs *funcState) emitRelational(op tokenKind, lhs, rhs expDesc) expDesc {
	a := fs.expToRK(lhs)
	b := fs.expToRK(rhs)
	var opc byte
	want := 1
	switch op {
	case tkEq:
		opc = opEq
	case tkNe:
		opc = opEq
		want = 0
	case tkLt:
		opc = opLt
	case tkGt:
		opc, a, b = opLt, b, a
	case tkLe:
		opc = opLe
	case tkGe:
		opc, a, b = opLe, b, a
	}
	reg := fs.freereg
	fs.reserveRegs(1)
	fs.emitABC(opc, want, a, b)
	jpc := fs.jump()
	trueLoad := fs.emitABC(opLoadBool, reg, 1, 1)
	falseLoad := fs.emitABC(opLoadBool, reg, 0, 0)
	_ = trueLoad
	fs.patchListTo([]int{jpc}, falseLoad)
	return expDesc{kind: expNonReloc, info: reg}
}

// emitConcat places lhs and rhs in consecutive registers and emits one
// OP_CONCAT over that two-register range (spec.md §4.10, glossary "Concat
// range"); a chain a..b..c becomes nested two-operand CONCATs, not a single
// range.
func (fs *funcState) emitConcat(lhs, rhs expDesc) expDesc {
	fs.toNextReg(lhs)
	base := fs.freereg - 1
	fs.toNextReg(rhs)
	top := fs.freereg - 1
	reg := base
	fs.emitABC(opConcat, reg, base, top)
	fs.freereg = base + 1
	return expDesc{kind: expNonReloc, info: reg}
}

// andExpr/orExpr implement short-circuit evaluation by discharging the
// left operand into a register, testing it, and conditionally evaluating
// the right operand into that same register (spec.md §4.10).
func (fs *funcState) andExpr(lhs expDesc) expDesc {
	fs.toNextReg(lhs)
	reg := fs.freereg - 1
	fs.emitABC(opTest, reg, 0, 0)
	jpc := fs.jump()
	fs.freereg = reg
	rhs := fs.expr(2)
	fs.toReg(&rhs, reg)
	fs.freereg = reg + 1
	fs.patchHere([]int{jpc})
	return expDesc{kind: expNonReloc, info: reg}
}

func (fs *funcState) orExpr(lhs expDesc) expDesc {
	fs.toNextReg(lhs)
	reg := fs.freereg - 1
	fs.emitABC(opTest, reg, 1, 0)
	jpc := fs.jump()
	fs.freereg = reg
	rhs := fs.expr(1)
	fs.toReg(&rhs, reg)
	fs.freereg = reg + 1
	fs.patchHere([]int{jpc})
	return expDesc{kind: expNonReloc, info: reg}
}
