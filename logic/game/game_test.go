package game

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const speed = 10 * time.Millisecond

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GameSpeed = speed
	cfg.TestSyncInterval = 8
	cfg.WaitGrace = 50 * time.Millisecond
	cfg.FrameBudget = time.Second
	return cfg
}

// pipeNet delivers lists straight into the other games.
type pipeNet struct {
	t    *testing.T
	from string
	to   []*Game
	drop bool
}

func (n *pipeNet) Update(time.Time) {}

func (n *pipeNet) SendCommandList(cycle uint32, list command.List) {
	if n.drop {
		return
	}
	for _, g := range n.to {
		require.NoError(n.t, g.OnReceiveCommandList(n.from, cycle, list))
	}
}

func (n *pipeNet) MaxPeerRoundTripTime() time.Duration { return 0 }

func firstUnit(t *testing.T, g *Game, h sim.HouseID) sim.ObjectID {
	var id sim.ObjectID
	g.Context().Objects.Each(func(o sim.Object) {
		if 0 == id && o.Owner() == h && o.Kind() == sim.KindTank {
			id = o.ID()
		}
	})
	require.NotZero(t, id)
	return id
}

// frames runs n frames of one game speed each, starting at t0.
func frames(t *testing.T, t0 time.Time, n int, games ...*Game) time.Time {
	now := t0
	for i := 0; i < n; i++ {
		now = now.Add(speed)
		for _, g := range games {
			require.NoError(t, g.RunFrame(now))
		}
	}
	return now
}

func TestGame_Local(t *testing.T) {
	s := twoPlayerSettings()
	t0 := time.Now()
	g, err := New(testConfig(), s, "alice", nil, t0)
	require.NoError(t, err)

	tank := firstUnit(t, g, sim.HouseAtreides)
	at := g.AddCommand(command.NewMove2Pos(1, tank, 30, 30, true))
	assert.Equal(t, uint32(0), at, "no network, no buffer")

	frames(t, t0, 20, g)
	assert.Equal(t, uint32(20), g.Cycle())
	u := g.Context().Objects.Get(tank).(*sim.Unit)
	assert.Equal(t, sim.Coord{X: 30, Y: 30}, u.Destination())

	st := g.Status()
	assert.Equal(t, "gaming", st.State)
	assert.Equal(t, uint32(20), st.Cycle)
}

func TestGame_PauseHoldsCycles(t *testing.T) {
	t0 := time.Now()
	g, err := New(testConfig(), twoPlayerSettings(), "alice", nil, t0)
	require.NoError(t, err)

	now := frames(t, t0, 5, g)
	g.Pause(now)
	now = frames(t, now, 50, g)
	assert.Equal(t, uint32(5), g.Cycle())
	assert.True(t, g.Status().Paused)

	g.Resume(now)
	frames(t, now, 3, g)
	assert.Equal(t, uint32(8), g.Cycle())
}

func pair(t *testing.T, cfg Config, t0 time.Time) (a, b *Game, na, nb *pipeNet) {
	na = &pipeNet{t: t, from: "alice"}
	nb = &pipeNet{t: t, from: "bob"}
	var err error
	a, err = New(cfg, twoPlayerSettings(), "alice", na, t0)
	require.NoError(t, err)
	b, err = New(cfg, twoPlayerSettings(), "bob", nb, t0)
	require.NoError(t, err)
	na.to = []*Game{b}
	nb.to = []*Game{a}
	return
}

func TestGame_TwoPeersInSync(t *testing.T) {
	t0 := time.Now()
	a, b, _, _ := pair(t, testConfig(), t0)
	tankA := firstUnit(t, a, sim.HouseAtreides)
	tankB := firstUnit(t, b, sim.HouseOrdos)

	now := t0
	for i := 0; i < 150; i++ {
		if 0 == i%9 {
			a.AddCommand(command.NewMove2Pos(1, tankA, int32(i%40), 5, false))
		}
		if 0 == i%13 {
			b.AddCommand(command.NewAttackPos(2, tankB, 3, int32(i%40), false))
		}
		now = frames(t, now, 1, a, b)
	}

	assert.Greater(t, a.Cycle(), uint32(100))
	assert.Zero(t, a.Status().Desyncs)
	assert.Zero(t, b.Status().Desyncs)

	// one of them may be a cycle ahead; compare at the same cycle
	for a.Cycle() != b.Cycle() {
		now = frames(t, now, 1, a, b)
		require.Less(t, now.Sub(t0), time.Minute)
	}
	assert.Equal(t, a.Context().Random.State(), b.Context().Random.State())
	assert.Equal(t,
		a.Context().Objects.Get(tankB).Position(),
		b.Context().Objects.Get(tankB).Position())
}

func TestGame_WaitsForSilentPeer(t *testing.T) {
	t0 := time.Now()
	a, _, _, nb := pair(t, testConfig(), t0)
	nb.drop = true

	var waiting []string
	a.OnWaiting = func(w bool, laggards []string) {
		if w {
			waiting = laggards
		}
	}
	frames(t, t0, 30, a)
	assert.Equal(t, uint32(0), a.Cycle(), "never runs ahead of a peer")
	assert.Equal(t, []string{"bob"}, waiting)
	st := a.Status()
	assert.True(t, st.Stalled)
	assert.Equal(t, []string{"bob"}, st.Waiting)

	a.OnPeerDisconnected("bob")
	frames(t, t0.Add(30*speed), 5, a)
	assert.Greater(t, a.Cycle(), uint32(0))
	assert.False(t, a.Status().Stalled)
	assert.Equal(t, []string{"alice"}, a.Status().Players)
}

func TestGame_DesyncSaved(t *testing.T) {
	cfg := testConfig()
	cfg.DesyncSaveDir = t.TempDir()
	t0 := time.Now()
	a, b, _, _ := pair(t, cfg, t0)
	b.Context().Random.IntN(100)

	var cycles []uint32
	a.OnDesync = func(cycle, want, got uint32) { cycles = append(cycles, cycle) }
	frames(t, t0, 100, a, b)

	require.NotEmpty(t, cycles)
	assert.Greater(t, a.Status().Desyncs, 0)
	files, err := filepath.Glob(filepath.Join(cfg.DesyncSaveDir, "desync-alice-*.sav"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}

func TestGame_SaveLoad(t *testing.T) {
	t0 := time.Now()
	g, err := New(testConfig(), twoPlayerSettings(), "alice", nil, t0)
	require.NoError(t, err)
	tank := firstUnit(t, g, sim.HouseAtreides)
	g.AddCommand(command.NewMove2Pos(1, tank, 40, 2, false))
	now := frames(t, t0, 12, g)

	var buf bytes.Buffer
	require.NoError(t, g.Save(&buf))

	l, err := Load(testConfig(), bytes.NewReader(buf.Bytes()), "alice", nil, now)
	require.NoError(t, err)
	assert.Equal(t, g.Cycle(), l.Cycle())
	assert.Equal(t, g.Context().Random.State(), l.Context().Random.State())
	assert.Equal(t, g.Settings(), l.Settings())

	frames(t, now, 10, g)
	frames(t, now, 10, l)
	assert.Equal(t, g.Cycle(), l.Cycle())
	assert.Equal(t, g.Context().Objects.Get(tank).Position(), l.Context().Objects.Get(tank).Position())
	assert.Equal(t, g.Context().Random.State(), l.Context().Random.State())

	_, err = Load(testConfig(), bytes.NewReader(buf.Bytes()), "nobody", nil, now)
	assert.Error(t, err)
}

func TestGame_SaveLoadKeepsPendingCommands(t *testing.T) {
	t0 := time.Now()
	g, err := New(testConfig(), twoPlayerSettings(), "alice", nil, t0)
	require.NoError(t, err)
	tank := firstUnit(t, g, sim.HouseAtreides)
	now := frames(t, t0, 12, g)
	at := g.AddCommand(command.NewMove2Pos(1, tank, 40, 2, false))

	var buf bytes.Buffer
	require.NoError(t, g.Save(&buf))
	l, err := Load(testConfig(), bytes.NewReader(buf.Bytes()), "alice", nil, now)
	require.NoError(t, err)
	assert.NotEmpty(t, l.Commands().Log(at)["alice"], "command scheduled at %d, cursor %d", at, l.Cycle())

	frames(t, now, 5, g)
	frames(t, now, 5, l)
	want := g.Context().Objects.Get(tank).(*sim.Unit)
	got := l.Context().Objects.Get(tank).(*sim.Unit)
	assert.Equal(t, sim.Coord{X: 40, Y: 2}, want.Destination())
	assert.Equal(t, want.Destination(), got.Destination())
	assert.Equal(t, want.Position(), got.Position())
	assert.Equal(t, g.Context().Random.State(), l.Context().Random.State())
}

func TestGame_ReplayOfLoadedGame(t *testing.T) {
	t0 := time.Now()
	g, err := New(testConfig(), twoPlayerSettings(), "alice", nil, t0)
	require.NoError(t, err)
	tank := firstUnit(t, g, sim.HouseAtreides)
	g.AddCommand(command.NewMove2Pos(1, tank, 5, 30, false))
	now := frames(t, t0, 20, g)
	g.AddCommand(command.NewMove2Pos(1, tank, 8, 22, false))

	var buf bytes.Buffer
	require.NoError(t, g.Save(&buf))

	cfg := testConfig()
	cfg.ReplayDir = filepath.Join(t.TempDir(), "replays")
	l, err := Load(cfg, bytes.NewReader(buf.Bytes()), "alice", nil, now)
	require.NoError(t, err)
	now = frames(t, now, 10, l)
	l.AddCommand(command.NewMove2Pos(1, tank, 30, 12, false))
	frames(t, now, 10, l)
	l.Stop()

	files, err := filepath.Glob(filepath.Join(cfg.ReplayDir, "alice-*.rpl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	r, err := NewReplay(cfg, f)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), r.Cycle(), "playback starts at the saved cycle")
	require.NoError(t, r.RunReplay())
	for r.Cycle() < l.Cycle() {
		require.NoError(t, r.step())
	}
	assert.Equal(t, l.Cycle(), r.Cycle())
	assert.Equal(t, l.Context().Objects.Get(tank).Position(), r.Context().Objects.Get(tank).Position())
	assert.Equal(t, l.Context().Random.State(), r.Context().Random.State())
}

func TestGame_ReplayRecording(t *testing.T) {
	cfg := testConfig()
	cfg.ReplayDir = filepath.Join(t.TempDir(), "replays")
	t0 := time.Now()
	g, err := New(cfg, twoPlayerSettings(), "alice", nil, t0)
	require.NoError(t, err)
	tank := firstUnit(t, g, sim.HouseAtreides)
	now := t0
	for i := 0; i < 30; i++ {
		if 0 == i%4 {
			g.AddCommand(command.NewMove2Pos(1, tank, int32(i), int32(40-i), false))
		}
		now = frames(t, now, 1, g)
	}
	g.Stop()
	assert.Equal(t, StateOver, g.State)

	files, err := filepath.Glob(filepath.Join(cfg.ReplayDir, "alice-*.rpl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	r, err := NewReplay(cfg, f)
	require.NoError(t, err)
	require.NoError(t, r.RunReplay())
	assert.Equal(t, "alice", r.LocalPlayer().Name())

	// the replay stops after the last recorded command
	for r.Cycle() < g.Cycle() {
		require.NoError(t, r.step())
	}
	assert.Equal(t, g.Context().Objects.Get(tank).Position(), r.Context().Objects.Get(tank).Position())
	assert.Equal(t, g.Context().Random.State(), r.Context().Random.State())
}

func TestGame_ReplayDirFailureKeepsPlaying(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg := testConfig()
	cfg.ReplayDir = filepath.Join(blocker, "replays")

	t0 := time.Now()
	g, err := New(cfg, twoPlayerSettings(), "alice", nil, t0)
	require.NoError(t, err)
	frames(t, t0, 5, g)
	assert.Equal(t, uint32(5), g.Cycle())
}
