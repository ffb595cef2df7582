package savegame

import (
	"bytes"
	"testing"

	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/lockstep"
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func world() (*sim.Context, sim.ObjectID) {
	ctx := sim.NewContext(sim.Map{Width: 32, Height: 32}, 77)
	ctx.AddHouse(sim.HouseOrdos, 1, 500)
	ctx.AddHouse(sim.HouseHarkonnen, 2, 500)
	id := ctx.Objects.Add(sim.NewUnit(sim.KindQuad, sim.HouseOrdos, sim.Coord{X: 3, Y: 3}))
	ctx.Objects.Add(sim.NewStructure(sim.KindConstructionYard, sim.HouseHarkonnen, sim.Coord{X: 20, Y: 20}))
	return ctx, id
}

// play runs n cycles with one local command per cycle and no remote peers.
func play(t *testing.T, ctx *sim.Context, m *lockstep.Manager, id sim.ObjectID, n uint32) {
	for i := uint32(0); i < n; i++ {
		m.AddCommand(command.NewMove2Pos(1, id, int32(i%30), int32(ctx.Random.IntN(30)), false))
		m.Update()
		ctx.BeginCycle()
		require.NoError(t, m.ExecuteCommands(ctx, m.Cursor()))
		ctx.Tick()
	}
}

func TestSaveLoad(t *testing.T) {
	ctx, id := world()
	m := lockstep.NewManager("me", 1, 0)
	m.SetNetworkCycleBuffer(2)
	play(t, ctx, m, id, 40)
	m.AddCommand(command.NewSendToRepair(1, id))

	var buf bytes.Buffer
	h := Header{Settings: []byte("settings"), HouseInfo: []byte("houses"), GameType: 2, TechLevel: 7}
	require.NoError(t, Write(&buf, h, ctx, m))

	loaded := lockstep.NewManager("me", 1, 0)
	got, ctx2, err := Read(bytes.NewReader(buf.Bytes()), loaded)
	require.NoError(t, err)

	assert.Equal(t, []byte("settings"), got.Settings)
	assert.Equal(t, []byte("houses"), got.HouseInfo)
	assert.Equal(t, uint8(2), got.GameType)
	assert.Equal(t, uint8(7), got.TechLevel)
	assert.Equal(t, uint32(40), got.Cycle)

	assert.Equal(t, ctx.Cycle, ctx2.Cycle)
	assert.Equal(t, ctx.Random.State(), ctx2.Random.State())
	assert.Equal(t, ctx.Random.Seed(), ctx2.Random.Seed())
	assert.Equal(t, ctx.Objects.Len(), ctx2.Objects.Len())
	assert.Equal(t, ctx.Objects.Get(id).Position(), ctx2.Objects.Get(id).Position())

	assert.Equal(t, m.Cursor(), loaded.Cursor())
	assert.Equal(t, m.Cycles(), loaded.Cycles())
	for _, c := range m.Cycles() {
		want, got := m.Log(c), loaded.Log(c)
		require.Len(t, got, len(want), "cycle %d", c)
		for name, l := range want {
			assert.True(t, l.Equal(got[name]), "cycle %d peer %s", c, name)
		}
	}

	// both continue identically
	play(t, ctx, m, id, 10)
	play(t, ctx2, loaded, id, 10)
	assert.Equal(t, ctx.Random.State(), ctx2.Random.State())
	assert.Equal(t, ctx.Objects.Get(id).Position(), ctx2.Objects.Get(id).Position())
}

func TestRead_Rejects(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	w.WriteUint32(0x12345678)
	w.WriteUint32(Version)
	require.NoError(t, w.Flush())
	_, _, err := Read(bytes.NewReader(buf.Bytes()), lockstep.NewManager("me", 1, 0))
	assert.True(t, errors.Is(err, ErrBadMagic))

	buf.Reset()
	w = stream.NewWriter(&buf)
	w.WriteUint32(SaveMagic)
	w.WriteUint32(Version + 1)
	require.NoError(t, w.Flush())
	_, _, err = Read(bytes.NewReader(buf.Bytes()), lockstep.NewManager("me", 1, 0))
	assert.True(t, errors.Is(err, ErrVersion))

	ctx, _ := world()
	buf.Reset()
	require.NoError(t, Write(&buf, Header{}, ctx, lockstep.NewManager("me", 1, 0)))
	truncated := buf.Bytes()[:buf.Len()-6]
	_, _, err = Read(bytes.NewReader(truncated), lockstep.NewManager("me", 1, 0))
	assert.Error(t, err, "a cut command log fails the load")
}

func TestReplay(t *testing.T) {
	ctx, id := world()
	m := lockstep.NewManager("me", 1, 0)
	m.SetNetworkCycleBuffer(1)

	var buf bytes.Buffer
	require.NoError(t, WriteReplayHeader(&buf, ReplayHeader{LocalPlayer: "me", Settings: []byte{1, 2, 3}, Save: []byte{7, 7}}))
	m.StartRecording(&buf)
	play(t, ctx, m, id, 25)
	require.NoError(t, m.StopRecording())

	replay := lockstep.NewManager("viewer", 0, 0)
	h, err := ReadReplay(bytes.NewReader(buf.Bytes()), replay)
	require.NoError(t, err)
	assert.Equal(t, "me", h.LocalPlayer)
	assert.Equal(t, []byte{1, 2, 3}, h.Settings)
	assert.Equal(t, []byte{7, 7}, h.Save)
	assert.True(t, replay.IsReadOnly())

	ctx2, _ := world()
	for replay.Cursor() < 25 {
		ctx2.BeginCycle()
		require.NoError(t, replay.ExecuteCommands(ctx2, replay.Cursor()))
		ctx2.Tick()
	}
	assert.Equal(t, ctx.Random.State(), ctx2.Random.State())
	assert.Equal(t, ctx.Objects.Get(id).Position(), ctx2.Objects.Get(id).Position())

	_, err = ReadReplay(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}), lockstep.NewManager("x", 0, 0))
	assert.True(t, errors.Is(err, ErrBadMagic))
}
