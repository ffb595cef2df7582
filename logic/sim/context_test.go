package sim

import (
	"bytes"
	"testing"

	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorld(seed uint64) *Context {
	ctx := NewContext(Map{Width: 32, Height: 32}, seed)
	ctx.AddHouse(HouseAtreides, 0, 2000)
	ctx.AddHouse(HouseHarkonnen, 1, 2000)
	return ctx
}

func TestContext_ProductionSpendsAndSpawns(t *testing.T) {
	ctx := newWorld(1)
	id := ctx.Objects.Add(NewStructure(KindLightFactory, HouseAtreides, Coord{5, 5}))
	f := ctx.Objects.Get(id).(*Structure)
	f.DoProduceItem(KindTrike, false)

	ctx.Tick()
	assert.Equal(t, int32(2000-KindTrike.Price()), ctx.House(HouseAtreides).Credits)
	for i := int32(1); i < KindTrike.BuildTime(); i++ {
		ctx.Tick()
	}
	assert.Equal(t, 2, ctx.Objects.Len())
	assert.Empty(t, f.Queue())
}

func TestContext_CancelRefundsPaidItem(t *testing.T) {
	ctx := newWorld(1)
	id := ctx.Objects.Add(NewStructure(KindBarracks, HouseHarkonnen, Coord{}))
	b := ctx.Objects.Get(id).(*Structure)
	b.DoProduceItem(KindSoldier, false)
	ctx.Tick()
	require.Equal(t, int32(2000-KindSoldier.Price()), ctx.House(HouseHarkonnen).Credits)

	b.DoCancelItem(ctx, KindSoldier, false)
	assert.Equal(t, int32(2000), ctx.House(HouseHarkonnen).Credits)
	assert.Empty(t, b.Queue())
}

func TestContext_SeedHistory(t *testing.T) {
	ctx := newWorld(5)
	ctx.BeginCycle()
	s0 := ctx.Random.Seed()
	ctx.Random.IntN(10)
	ctx.Tick()
	ctx.BeginCycle()

	got, ok := ctx.SeedAt(0)
	require.True(t, ok)
	assert.Equal(t, s0, got)
	_, ok = ctx.SeedAt(7)
	assert.False(t, ok)
}

func TestContext_SaveLoad(t *testing.T) {
	ctx := newWorld(3)
	u := ctx.Objects.Add(NewUnit(KindTank, HouseAtreides, Coord{1, 1}))
	gone := ctx.Objects.Add(NewUnit(KindTrike, HouseHarkonnen, Coord{2, 2}))
	ctx.Objects.Add(NewStructure(KindHeavyFactory, HouseHarkonnen, Coord{8, 8}))
	ctx.Objects.Remove(gone)
	ctx.Objects.Get(u).(*Unit).DoMove2Pos(Coord{10, 1}, true)
	for i := 0; i < 3; i++ {
		ctx.BeginCycle()
		ctx.Tick()
	}

	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	ctx.Save(w)
	require.NoError(t, w.Flush())

	loaded := NewContext(ctx.Map, 3)
	require.NoError(t, loaded.Load(stream.NewReader(&buf)))
	assert.Equal(t, ctx.Objects.Len(), loaded.Objects.Len())
	h, ok := loaded.HouseOfPlayer(1)
	require.True(t, ok)
	assert.Equal(t, HouseHarkonnen, h)

	lu := loaded.Objects.Get(u).(*Unit)
	assert.Equal(t, Coord{4, 1}, lu.Position())
	assert.Equal(t, Coord{10, 1}, lu.Destination())
	assert.Nil(t, loaded.Objects.Get(gone))

	// the free list survives, so the next id matches on both sides
	next := ctx.Objects.Add(NewUnit(KindSoldier, HouseAtreides, Coord{}))
	assert.Equal(t, next, loaded.Objects.Add(NewUnit(KindSoldier, HouseAtreides, Coord{})))

	seed, ok := loaded.SeedAt(2)
	require.True(t, ok)
	want, _ := ctx.SeedAt(2)
	assert.Equal(t, want, seed)
}
