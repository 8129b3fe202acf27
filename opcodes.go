package lumen

// Instruction is a fixed 32-bit VM instruction (spec.md §4.10 "Instruction
// format"), packed as:
//
//	iABC:  op(6) | A(8) | C(9) | B(9)   -- 3 register/const operands
//	iABx:  op(6) | A(8) | Bx(18)        -- unsigned payload (constants, closures)
//	iAsBx: op(6) | A(8) | sBx(18)       -- signed payload (jumps)
//
// B and C each reserve their high bit (bit 8 of the 9-bit field) as the
// "is this a constant-pool index rather than a register" flag, exactly the
// teacher's opChar/opRange style of squeezing an operand descriptor into a
// fixed-width field (vm.go's decodeU16 family generalized to a real
// register machine).
type Instruction uint32

const (
	sizeOp  = 6
	sizeA   = 8
	sizeB   = 9
	sizeC   = 9
	sizeBx  = sizeB + sizeC
	posOp   = 0
	posA    = posOp + sizeOp
	posC    = posA + sizeA
	posB    = posC + sizeC
	posBx   = posC
	maxArgA = 1<<sizeA - 1
	maxArgB = 1<<sizeB - 1
	maxArgC = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1
	biasSBx  = maxArgBx >> 1

	// bitK is the constant-operand flag within a 9-bit B/C field.
	bitK    = 1 << (sizeB - 1)
	maxIndexRK = bitK - 1
)

func encodeABC(op byte, a, b, c int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(b)<<posB | uint32(c)<<posC)
}

func encodeABx(op byte, a, bx int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(bx)<<posBx)
}

func encodeAsBx(op byte, a, sbx int) Instruction {
	return encodeABx(op, a, sbx+biasSBx)
}

func (i Instruction) Op() byte { return byte(i >> posOp & (1<<sizeOp - 1)) }
func (i Instruction) A() int   { return int(i >> posA & maxArgA) }
func (i Instruction) B() int   { return int(i >> posB & maxArgB) }
func (i Instruction) C() int   { return int(i >> posC & maxArgC) }
func (i Instruction) Bx() int  { return int(i >> posBx & maxArgBx) }
func (i Instruction) SBx() int { return i.Bx() - biasSBx }

// isK/indexK decode the "register vs constant" operand flag carried in the
// high bit of a B/C field (spec.md §4.10 "one of: iABC ... with a flag bit
// on B/C choosing register vs. constant operand").
func isK(rk int) bool     { return rk&bitK != 0 }
func indexK(rk int) int   { return rk &^ bitK }
func rkConst(k int) int   { return k | bitK }

// opcodes, per spec.md §4.10's named list.
const (
	opMove byte = iota
	opLoadK
	opLoadKX
	opLoadBool
	opLoadNil
	opGetUpval
	opGetTabUp
	opGetTable
	opSetUpval
	opSetTabUp
	opSetTable
	opNewTable
	opSelf
	opAdd
	opSub
	opMul
	opMod
	opPow
	opDiv
	opIDiv
	opBAnd
	opBOr
	opBXor
	opShl
	opShr
	opUnm
	opBNot
	opNot
	opLen
	opConcat
	opJump
	opEq
	opLt
	opLe
	opTest
	opTestSet
	opCall
	opTailCall
	opReturn
	opForLoop
	opForPrep
	opTForCall
	opTForLoop
	opSetList
	opClosure
	opVararg
	opExtraArg
	opCount
)

var opNames = [opCount]string{
	opMove: "MOVE", opLoadK: "LOADK", opLoadKX: "LOADKX", opLoadBool: "LOADBOOL",
	opLoadNil: "LOADNIL", opGetUpval: "GETUPVAL", opGetTabUp: "GETTABUP",
	opGetTable: "GETTABLE", opSetUpval: "SETUPVAL", opSetTabUp: "SETTABUP",
	opSetTable: "SETTABLE", opNewTable: "NEWTABLE", opSelf: "SELF",
	opAdd: "ADD", opSub: "SUB", opMul: "MUL", opMod: "MOD", opPow: "POW",
	opDiv: "DIV", opIDiv: "IDIV", opBAnd: "BAND", opBOr: "BOR", opBXor: "BXOR",
	opShl: "SHL", opShr: "SHR", opUnm: "UNM", opBNot: "BNOT", opNot: "NOT",
	opLen: "LEN", opConcat: "CONCAT", opJump: "JMP", opEq: "EQ", opLt: "LT",
	opLe: "LE", opTest: "TEST", opTestSet: "TESTSET", opCall: "CALL",
	opTailCall: "TAILCALL", opReturn: "RETURN", opForLoop: "FORLOOP",
	opForPrep: "FORPREP", opTForCall: "TFORCALL", opTForLoop: "TFORLOOP",
	opSetList: "SETLIST", opClosure: "CLOSURE", opVararg: "VARARG",
	opExtraArg: "EXTRAARG",
}

// setlistBatchSize bounds SETLIST flush batches without an intermediate
// rehash (spec.md §8.3).
const setlistBatchSize = 50

// maxTagLoopDefault bounds __index/__newindex chain length (spec.md §4.11).
const maxTagLoopDefault = 2000
