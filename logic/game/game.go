// Package game runs one lockstep game on a peer: it paces cycles against
// wall time, waits for the network, executes the command log against the
// simulation and records replays.
package game

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/lockstep"
	"github.com/dunelegacy/dunelockstep/logic/savegame"
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

// GameState is the lifecycle of a game.
type GameState int

const (
	StateGaming GameState = iota // cycles are executing
	StateOver                    // stopped by an error or by the player
)

func (s GameState) String() string {
	if StateGaming == s {
		return "gaming"
	}
	return "over"
}

// idleSleep is how long Run waits between frames.
const idleSleep = 2 * time.Millisecond

// Network is what a game needs from the peer mesh.
type Network interface {
	Update(now time.Time)
	SendCommandList(cycle uint32, list command.List)
	MaxPeerRoundTripTime() time.Duration
}

type Config struct {
	GameSpeed              time.Duration
	FrameBudget            time.Duration
	DiscontinuityThreshold time.Duration
	WaitGrace              time.Duration
	TestSyncInterval       uint32
	BufferMin              uint32
	BufferMax              uint32
	SafetyMargin           uint32
	ReplayDir              string
	DesyncSaveDir          string
}

func DefaultConfig() Config {
	return Config{
		GameSpeed:              16 * time.Millisecond,
		FrameBudget:            25 * time.Millisecond,
		DiscontinuityThreshold: time.Second,
		WaitGrace:              time.Second,
		TestSyncInterval:       32,
		BufferMin:              2,
		BufferMax:              60,
		SafetyMargin:           2,
	}
}

// Status is a snapshot other goroutines may read.
type Status struct {
	State   string   `json:"state"`
	Cycle   uint32   `json:"cycle"`
	Target  uint32   `json:"target"`
	Buffer  uint32   `json:"networkCycleBuffer"`
	Waiting []string `json:"waitingFor,omitempty"`
	Stalled bool     `json:"stalled"`
	Paused  bool     `json:"paused"`
	Desyncs int      `json:"desyncs"`
	Players []string `json:"players"`
}

// Game is one running game. Everything but Status must be called from the
// goroutine that runs frames.
type Game struct {
	cfg      Config
	settings *InitSettings
	local    *Player
	players  map[string]*Player

	ctx   *sim.Context
	cmds  *lockstep.Manager
	clock *Clock
	net   Network

	State GameState
	err   error

	waiting      bool
	waitingSince time.Time
	stalled      bool

	desyncs     int
	desyncSaves []uint32
	replay      io.WriteCloser
	replayEnd   uint32
	loadedFrom  []byte

	statusMu sync.Mutex
	status   Status

	// OnWaiting fires when waiting for other peers outlasts the grace
	// period, and again with false once they caught up.
	OnWaiting func(waiting bool, laggards []string)
	// OnDesync fires after a failed sync check.
	OnDesync func(cycle uint32, want, got uint32)
}

// New creates a game from lobby settings. It starts executing at start;
// net may be nil for a local game.
func New(cfg Config, settings *InitSettings, local string, net Network, start time.Time) (*Game, error) {
	ctx, err := NewWorld(settings)
	if nil != err {
		return nil, err
	}
	id, ok := settings.PlayerID(local)
	if !ok {
		return nil, errors.Errorf("player %q has no slot", local)
	}
	g := newGame(cfg, settings.Clone(), local, id, ctx, lockstep.NewManager(local, id, 0), net, start)
	if nil != net {
		for _, name := range settings.Players() {
			g.cmds.AddPeer(name, 0)
		}
	}
	g.startRecording()
	l4g.Info("[game(%s)] %s game with %v, seed %d", local, settings.Type, settings.Players(), settings.Seed)
	return g, nil
}

func newGame(cfg Config, s *InitSettings, local string, id uint8, ctx *sim.Context, cmds *lockstep.Manager, net Network, start time.Time) *Game {
	g := &Game{
		cfg:      cfg,
		settings: s,
		players:  newPlayers(s, local),
		ctx:      ctx,
		cmds:     cmds,
		clock:    NewClock(cfg.GameSpeed, cfg.DiscontinuityThreshold, start, ctx.Cycle),
		net:      net,
	}
	g.local = g.players[local]
	if nil == g.local {
		g.local = NewPlayer(local, id, sim.HouseNone, true)
	}
	ctx.OnDesync = g.onDesync
	if nil != net {
		cmds.SetSender(net)
		cmds.SetTestSync(ctx, cfg.TestSyncInterval)
		cmds.SetNetworkCycleBuffer(cfg.BufferMin)
	}
	g.publish()
	return g
}

// Load resumes a saved game. A single player game keeps the lists pending
// at save time. Every peer of a network game loads the same save, so there
// the pending lists are dropped and all peers submit again from the saved
// cycle.
func Load(cfg Config, r io.Reader, local string, net Network, start time.Time) (*Game, error) {
	blob, err := io.ReadAll(r)
	if nil != err {
		return nil, errors.Wrap(err, "read save")
	}
	cmds := lockstep.NewManager(local, 0, 0)
	h, ctx, err := savegame.Read(bytes.NewReader(blob), cmds)
	if nil != err {
		return nil, err
	}
	settings, err := UnmarshalSettings(h.Settings)
	if nil != err {
		return nil, err
	}
	id, ok := settings.PlayerID(local)
	if !ok {
		return nil, errors.Errorf("player %q has no slot in the save", local)
	}
	if nil != net {
		cmds.Rebase(local, id, settings.Players())
	} else {
		cmds.Resume(local, id)
	}
	g := newGame(cfg, settings, local, id, ctx, cmds, net, start)
	g.loadedFrom = blob
	g.startRecording()
	l4g.Info("[game(%s)] loaded game at cycle %d", local, ctx.Cycle)
	return g, nil
}

// NewReplay prepares a read only game that plays a recorded log as fast
// as RunReplay is called.
func NewReplay(cfg Config, r io.Reader) (*Game, error) {
	cmds := lockstep.NewManager("", 0, 0)
	h, err := savegame.ReadReplay(r, cmds)
	if nil != err {
		return nil, err
	}
	settings, err := UnmarshalSettings(h.Settings)
	if nil != err {
		return nil, err
	}
	var ctx *sim.Context
	if len(h.Save) > 0 {
		if _, ctx, err = savegame.Read(bytes.NewReader(h.Save), lockstep.NewManager("", 0, 0)); nil != err {
			return nil, errors.Wrap(err, "replay start")
		}
		cmds.Seek(ctx.Cycle)
	} else if ctx, err = NewWorld(settings); nil != err {
		return nil, err
	}
	cfg.ReplayDir = ""
	g := newGame(cfg, settings, h.LocalPlayer, 0, ctx, cmds, nil, time.Now())
	if cycles := cmds.Cycles(); len(cycles) > 0 {
		g.replayEnd = cycles[len(cycles)-1] + 1
	}
	l4g.Info("[game(replay)] %s recorded by %s, %d cycles", settings.Type, h.LocalPlayer, g.replayEnd)
	return g, nil
}

func (g *Game) startRecording() {
	if "" == g.cfg.ReplayDir {
		return
	}
	f, err := g.openReplay()
	if nil != err {
		l4g.Error("[game(%s)] replay recording disabled: %v", g.local.name, err)
		return
	}
	g.replay = f
	g.cmds.StartRecording(f)
}

func (g *Game) openReplay() (io.WriteCloser, error) {
	if err := os.MkdirAll(g.cfg.ReplayDir, 0o755); nil != err {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s.rpl", g.local.name, time.Now().Format("20060102-150405"))
	f, err := os.Create(filepath.Join(g.cfg.ReplayDir, name))
	if nil != err {
		return nil, err
	}
	blob, err := g.settings.Marshal()
	if nil == err {
		err = savegame.WriteReplayHeader(f, savegame.ReplayHeader{
			LocalPlayer: g.local.name,
			Settings:    blob,
			Save:        g.loadedFrom,
		})
	}
	if nil != err {
		f.Close()
		return nil, err
	}
	return f, nil
}

// AddCommand schedules a local command and returns its cycle.
func (g *Game) AddCommand(c command.Command) uint32 {
	return g.cmds.AddCommand(c)
}

// OnReceiveCommandList merges a list a peer sent.
func (g *Game) OnReceiveCommandList(name string, cycle uint32, list command.List) error {
	return g.cmds.AddCommandList(name, cycle, list)
}

// OnPeerDisconnected stops waiting for name.
func (g *Game) OnPeerDisconnected(name string) {
	if p, ok := g.players[name]; ok && !p.isLocal {
		p.Leave(g.cmds.Cursor())
		g.cmds.RemovePeer(name)
		l4g.Warn("[game(%s)] %s left at cycle %d", g.local.name, name, g.cmds.Cursor())
	}
}

func (g *Game) Pause(now time.Time)  { g.clock.Pause(now) }
func (g *Game) Resume(now time.Time) { g.clock.Resume(now) }

func (g *Game) Context() *sim.Context       { return g.ctx }
func (g *Game) Commands() *lockstep.Manager { return g.cmds }
func (g *Game) Settings() *InitSettings     { return g.settings }
func (g *Game) LocalPlayer() *Player        { return g.local }
func (g *Game) Err() error                  { return g.err }
func (g *Game) Cycle() uint32               { return g.cmds.Cursor() }

// Player returns the slot of name.
func (g *Game) Player(name string) *Player {
	return g.players[name]
}

// RunFrame does one frame of work: service the network, advance the
// clock and execute every due cycle that is ready, within the frame
// budget.
func (g *Game) RunFrame(now time.Time) error {
	if StateGaming != g.State {
		return g.err
	}
	if nil != g.net {
		g.net.Update(now)
		g.cmds.SetNetworkCycleBuffer(lockstep.ComputeNetworkCycleBuffer(
			g.net.MaxPeerRoundTripTime(), g.clock.Speed(), g.cfg.SafetyMargin, g.cfg.BufferMin, g.cfg.BufferMax))
	}
	g.cmds.Update()

	target := g.clock.Advance(now)
	deadline := time.Now().Add(g.cfg.FrameBudget)
	for g.cmds.Cursor() < target && !g.clock.Paused() {
		if !g.cmds.IsCycleReady(g.cmds.Cursor()) {
			break
		}
		if err := g.step(); nil != err {
			return g.fail(err)
		}
		g.cmds.Update()
		if time.Now().After(deadline) {
			break
		}
	}
	g.updateWaiting(now, target)
	g.publish()
	return nil
}

// step executes exactly one cycle and the simulation tick after it.
func (g *Game) step() error {
	start := time.Now()
	cycle := g.cmds.Cursor()
	g.ctx.BeginCycle()
	if err := g.cmds.ExecuteCommands(g.ctx, cycle); nil != err {
		return err
	}
	g.ctx.Tick()
	metrics.IncrCounter([]string{"lockstep", "cycles"}, 1)
	metrics.AddSample([]string{"lockstep", "cycle_ms"}, float32(time.Since(start))/float32(time.Millisecond))

	for _, c := range g.desyncSaves {
		g.saveDesync(c)
	}
	g.desyncSaves = g.desyncSaves[:0]
	return nil
}

// updateWaiting tracks peers that hold back due cycles.
func (g *Game) updateWaiting(now time.Time, target uint32) {
	var laggards []string
	if g.cmds.Cursor() < target && !g.cmds.IsReadOnly() {
		laggards = g.cmds.Laggards(g.cmds.Cursor())
	}
	if 0 == len(laggards) {
		if g.stalled && nil != g.OnWaiting {
			g.OnWaiting(false, nil)
		}
		g.waiting, g.stalled = false, false
		return
	}
	if !g.waiting {
		g.waiting = true
		g.waitingSince = now
	}
	if !g.stalled && now.Sub(g.waitingSince) > g.cfg.WaitGrace {
		g.stalled = true
		metrics.IncrCounter([]string{"lockstep", "stalls"}, 1)
		l4g.Warn("[game(%s)] waiting for %v at cycle %d", g.local.name, laggards, g.cmds.Cursor())
		if nil != g.OnWaiting {
			g.OnWaiting(true, laggards)
		}
	}
}

func (g *Game) onDesync(cycle uint32, want, got uint32) {
	g.desyncs++
	metrics.IncrCounter([]string{"lockstep", "desync"}, 1)
	l4g.Warn("[game(%s)] desync at cycle %d: seed %#08x, peer saw %#08x", g.local.name, cycle, want, got)
	if "" != g.cfg.DesyncSaveDir {
		g.desyncSaves = append(g.desyncSaves, cycle)
	}
	if nil != g.OnDesync {
		g.OnDesync(cycle, want, got)
	}
}

func (g *Game) saveDesync(cycle uint32) {
	if err := os.MkdirAll(g.cfg.DesyncSaveDir, 0o755); nil != err {
		l4g.Error("[game(%s)] desync save: %v", g.local.name, err)
		return
	}
	path := filepath.Join(g.cfg.DesyncSaveDir, fmt.Sprintf("desync-%s-%d.sav", g.local.name, cycle))
	f, err := os.Create(path)
	if nil != err {
		l4g.Error("[game(%s)] desync save: %v", g.local.name, err)
		return
	}
	defer f.Close()
	if err := g.Save(f); nil != err {
		l4g.Error("[game(%s)] desync save %s: %v", g.local.name, path, err)
		return
	}
	l4g.Warn("[game(%s)] desync state saved to %s", g.local.name, path)
}

// Save writes a save game of the current state. Call it between frames.
func (g *Game) Save(w io.Writer) error {
	settings, err := g.settings.Marshal()
	if nil != err {
		return err
	}
	houses, err := MarshalHouses(g.settings.Houses)
	if nil != err {
		return err
	}
	return savegame.Write(w, savegame.Header{
		Settings:  settings,
		HouseInfo: houses,
		GameType:  uint8(g.settings.Type),
		TechLevel: g.settings.TechLevel,
	}, g.ctx, g.cmds)
}

// RunReplay executes the whole recorded log.
func (g *Game) RunReplay() error {
	if !g.cmds.IsReadOnly() {
		return errors.New("game: not a replay")
	}
	for g.cmds.Cursor() < g.replayEnd {
		if err := g.step(); nil != err {
			return g.fail(err)
		}
	}
	g.publish()
	return nil
}

// Run executes frames until ctx is done or the game fails.
func (g *Game) Run(ctx context.Context) error {
	ticker := time.NewTicker(idleSleep)
	defer ticker.Stop()

	l4g.Info("[game(%s)] running...", g.local.name)
	for {
		select {
		case <-ctx.Done():
			g.Stop()
			return nil
		case now := <-ticker.C:
			if err := g.RunFrame(now); nil != err {
				return err
			}
		}
	}
}

func (g *Game) fail(err error) error {
	g.err = errors.Wrapf(err, "game stopped at cycle %d", g.cmds.Cursor())
	l4g.Error("[game(%s)] %v", g.local.name, g.err)
	g.Stop()
	return g.err
}

// Stop ends the game and closes the replay recording.
func (g *Game) Stop() {
	if StateOver == g.State {
		return
	}
	g.State = StateOver
	if nil != g.replay {
		if err := g.cmds.StopRecording(); nil != err {
			l4g.Error("[game(%s)] finish replay: %v", g.local.name, err)
		}
		g.replay.Close()
		g.replay = nil
	}
	g.publish()
}

func (g *Game) publish() {
	var names []string
	for name, p := range g.players {
		if p.isOnline {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	s := Status{
		State:   g.State.String(),
		Cycle:   g.cmds.Cursor(),
		Target:  g.clock.Target(),
		Buffer:  g.cmds.NetworkCycleBuffer(),
		Stalled: g.stalled,
		Paused:  g.clock.Paused(),
		Desyncs: g.desyncs,
		Players: names,
	}
	if g.waiting {
		s.Waiting = g.cmds.Laggards(g.cmds.Cursor())
	}
	g.statusMu.Lock()
	g.status = s
	g.statusMu.Unlock()
}

// Status may be called from any goroutine.
func (g *Game) Status() Status {
	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	return g.status
}
