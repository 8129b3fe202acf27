package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkObjectGraysWhiteOnly(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	gs.gc.registerObject(tbl)

	assert.True(t, tbl.gcHeader.color == gcWhite0 || tbl.gcHeader.color == gcWhite1)
	gs.gc.markObject(tbl)
	assert.Equal(t, gcGray, tbl.gcHeader.color)

	// already gray/black: markObject is a no-op
	gs.gc.markObject(tbl)
	assert.Equal(t, gcGray, tbl.gcHeader.color)
}

func TestBarrierForwardOnlyFiresWhenOwnerBlack(t *testing.T) {
	gs := testGlobalState()
	owner := NewTable(gs)
	gs.gc.registerObject(owner)
	child := NewTable(gs)
	gs.gc.registerObject(child)

	gs.gc.phase = gcPhasePropagate
	owner.gcHeader.color = gcWhite0
	gs.gc.barrierForward(owner, TableValue(child))
	assert.NotEqual(t, gcGray, child.gcHeader.color)

	owner.gcHeader.color = gcBlack
	gs.gc.barrierForward(owner, TableValue(child))
	assert.Equal(t, gcGray, child.gcHeader.color)
}

func TestBarrierBackwardRequeuesBlackTable(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	gs.gc.registerObject(tbl)
	gs.gc.phase = gcPhasePropagate

	tbl.gcHeader.color = gcBlack
	gs.gc.barrierBackward(tbl)
	assert.Equal(t, gcGray, tbl.gcHeader.color)
	assert.Contains(t, gs.gc.grayAgain, gcObject(tbl))
}

func TestFullCollectReclaimsUnreachableTable(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	gs.gc.registerObject(tbl)

	// not rooted, so a full collect should sweep it away.
	gs.gc.fullCollect(false)
	assert.Equal(t, gcPhasePause, gs.gc.phase)
}

func TestFullCollectKeepsRootedTable(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	gs.gc.registerObject(tbl)
	gs.gc.addRoot(tbl)

	gs.gc.fullCollect(false)

	found := false
	for o := gs.gc.allHead; o != nil; o = o.header().next {
		if o == gcObject(tbl) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStepAdvancesPhasesAndFlipsWhite(t *testing.T) {
	gs := testGlobalState()
	start := gs.gc.currentWhite
	gs.gc.phase = gcPhasePause
	gs.gc.step(1) // pause -> propagate
	for i := 0; i < 100000 && gs.gc.phase != gcPhasePause; i++ {
		gs.gc.step(1)
	}
	assert.Equal(t, gcPhasePause, gs.gc.phase)
	assert.NotEqual(t, start, gs.gc.currentWhite)
}

func TestAccountAllocTriggersStep(t *testing.T) {
	gs := testGlobalState()
	gs.gc.stepMul = 10
	gs.gc.phase = gcPhasePause
	gs.gc.accountAlloc(0, 1000)
	assert.Equal(t, int64(0), gs.gc.debt)
}
