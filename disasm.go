package lumen

import (
	"fmt"
	"strings"

	"github.com/lumen-lang/lumen/ascii"
)

// DisassembleSource compiles source and renders every nested function
// prototype's bytecode listing (spec.md §6.3 "Bytecode vocabulary"),
// reusing the teacher's string-builder-based printer idiom (tree_printer.go)
// instead of its indentation-tree shape, since a flat per-instruction
// listing is what a bytecode dump calls for.
func DisassembleSource(l *State, source, chunkName string) (string, *RuntimeError) {
	return disassembleSource(l, source, chunkName, false)
}

// DisassembleSourceColor is DisassembleSource with the teacher's `ascii`
// theme applied to opcode names and constant literals, for terminal `dump`
// output (cmd/main.go's `--color` flag).
func DisassembleSourceColor(l *State, source, chunkName string) (string, *RuntimeError) {
	return disassembleSource(l, source, chunkName, true)
}

func disassembleSource(l *State, source, chunkName string, color bool) (string, *RuntimeError) {
	proto, err := Compile(l.gs, source, chunkName)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	disassembleProto(&b, proto, 0, color)
	return b.String(), nil
}

func disassembleProto(b *strings.Builder, p *FunctionProto, depth int, color bool) {
	indent := strings.Repeat("  ", depth)
	kind := "function"
	if p.isVararg {
		kind = "vararg function"
	}
	header := fmt.Sprintf("%s <%s:%d> (%d instructions, %d params, %d upvalues)",
		kind, p.source, p.lineDefined, len(p.code), p.numParams, len(p.upvals))
	if color {
		header = ascii.Color(ascii.DefaultTheme.Accent, "%s", header)
	}
	fmt.Fprintf(b, "%s%s\n", indent, header)

	for pc, instr := range p.code {
		line := p.lineAt(pc)
		opName := opNames[instr.Op()]
		if color {
			opName = ascii.Color(ascii.DefaultTheme.Operator, "%-8s", opName)
		} else {
			opName = fmt.Sprintf("%-8s", opName)
		}
		fmt.Fprintf(b, "%s  [%d] %-4d %s %s\n", indent, pc+1, line, opName, operandsOf(p, instr, color))
	}
	if len(p.constants) > 0 {
		label := "constants:"
		if color {
			label = ascii.Color(ascii.DefaultTheme.Comment, "%s", label)
		}
		fmt.Fprintf(b, "%s%s\n", indent, label)
		for i, k := range p.constants {
			fmt.Fprintf(b, "%s  %d\t%s\n", indent, i, constantLiteral(k, color))
		}
	}
	for _, sub := range p.protos {
		disassembleProto(b, sub, depth+1, color)
	}
}

func operandsOf(p *FunctionProto, instr Instruction, color bool) string {
	switch instr.Op() {
	case opLoadK:
		return fmt.Sprintf("%d %d  ; %s", instr.A(), instr.Bx(), constantLiteral(p.constants[instr.Bx()], color))
	case opJump, opForPrep, opForLoop:
		return fmt.Sprintf("%d %d", instr.A(), instr.SBx())
	case opLoadBool, opLoadNil:
		return fmt.Sprintf("%d %d %d", instr.A(), instr.B(), instr.C())
	case opClosure:
		return fmt.Sprintf("%d %d", instr.A(), instr.Bx())
	default:
		return fmt.Sprintf("%d %d %d", instr.A(), instr.B(), instr.C())
	}
}

func constantLiteral(v Value, color bool) string {
	s := v.String()
	if v.IsString() {
		s = `"` + escapeLiteral(v.AsString().text()) + `"`
	}
	if color {
		return ascii.Color(ascii.DefaultTheme.Literal, "%s", s)
	}
	return s
}
