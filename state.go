package lumen

import (
	"fmt"
	"os"
)

func defaultStdout(s string) { fmt.Fprint(os.Stdout, s) }

// GlobalState is the one-per-runtime shared record of spec.md §3.9: every
// operation reaches it (directly or via its current thread), and there is
// no language-level process-wide global — supporting multiple independent
// instances in one host process is a correctness requirement (spec.md §9
// "Global state").
type GlobalState struct {
	mainThread *Thread

	strings      *stringTable
	literals     *literalCache
	registry     *Table
	metaNames    [metaEventCount]*stringObj
	typeMetatables [10]*Table // indexed by kind

	gc *gcState

	config *Config

	panicHandler HostFunc

	pinnedMemoryError Value // spec.md §7 "memory" error payload

	allocBytes int64

	// stdout is where the base library's `print` writes; NewState sets it
	// to defaultStdout (os.Stdout). The field is unexported and has no
	// setter, so only code inside this package can replace it.
	stdout func(s string)
}

// registry integer keys (spec.md §6.2).
const (
	registryMainThread = 1
	registryGlobals    = 2
)

// NewState creates a fresh, isolated runtime instance (spec.md §6.1
// `new-state`). Each call is independent: no state shares heap objects
// with another (spec.md §9).
func NewState() *State {
	gs := &GlobalState{
		strings:  newStringTable(),
		literals: newLiteralCache(),
		config:   NewConfig(),
		stdout:   defaultStdout,
	}
	gs.gc = newGCState(gs)
	gs.registry = NewTable(gs)
	gs.gc.registerObject(gs.registry)

	for ev := metaEvent(0); ev < metaEventCount; ev++ {
		gs.metaNames[ev] = gs.strings.intern(gs.gc, []byte(metaEventNames[ev]))
	}
	gs.pinnedMemoryError = newStringValue(memoryErrorMessageText)

	globals := NewTable(gs)
	gs.gc.registerObject(globals)
	gs.registry.Set(IntValue(registryGlobals), TableValue(globals))

	th := newThread(gs)
	gs.mainThread = th
	gs.gc.registerObject(th)
	gs.registry.Set(IntValue(registryMainThread), ThreadValue(th))

	gs.gc.addRoot(gs.registry)

	l := &State{th: th, gs: gs}
	OpenBase(l)
	OpenCoroutine(l)
	return l
}

// Globals returns the globals table reachable at registry key 2 (spec.md
// §6.2).
func (gs *GlobalState) Globals() *Table {
	return gs.registry.Get(IntValue(registryGlobals)).AsTable()
}

// intern is the shared entry point every string-producing operation
// (lexer, API pushes, concat) funnels through (spec.md §4.3).
func (gs *GlobalState) intern(b []byte) *stringObj {
	return gs.strings.intern(gs.gc, b)
}

func (gs *GlobalState) internLiteral(s string) *stringObj {
	return gs.intern([]byte(s))
}
