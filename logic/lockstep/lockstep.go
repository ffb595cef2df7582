// Package lockstep keeps the per-cycle command log every peer executes in
// the same order.
package lockstep

import (
	"io"
	"sort"
	"time"

	"github.com/armon/go-metrics"
	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

var (
	// ErrDoubleSubmission is returned when a peer sends a second list for a
	// cycle it already reported.
	ErrDoubleSubmission = errors.New("lockstep: command list already received for cycle")
	ErrUnknownPeer      = errors.New("lockstep: unknown peer")
	ErrReadOnly         = errors.New("lockstep: manager is read only")
	ErrNotReady         = errors.New("lockstep: cycle is not ready")
	ErrOutOfOrder       = errors.New("lockstep: cycle executed out of order")
)

// Sender distributes the local peer's lists to the other peers.
type Sender interface {
	SendCommandList(cycle uint32, list command.List)
}

// SeedSource yields the random seed recorded at the start of a cycle.
type SeedSource interface {
	SeedAt(cycle uint32) (uint32, bool)
}

type cycleData struct {
	cycle uint32
	lists map[string]command.List
}

func newCycleData(cycle uint32) *cycleData {
	return &cycleData{
		cycle: cycle,
		lists: make(map[string]command.List),
	}
}

// peerNames returns the submitters in canonical execution order.
func (d *cycleData) peerNames() []string {
	names := make([]string, 0, len(d.lists))
	for name := range d.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type peer struct {
	name         string
	nextExpected uint32
}

// Manager owns the command log: executed cycles kept for save and replay,
// and future cycles filled by the local peer and by remote peers.
type Manager struct {
	local       string
	localPlayer uint8

	cycles map[uint32]*cycleData
	peers  map[string]*peer

	cursor    uint32 // next cycle to execute
	nextLocal uint32 // next cycle the local peer has not submitted
	buffer    uint32

	readOnly    bool
	keepHistory bool

	sender       Sender
	seeds        SeedSource
	syncInterval uint32

	recorder *stream.Writer
}

// NewManager creates a manager whose first cycle to execute is start.
func NewManager(local string, localPlayer uint8, start uint32) *Manager {
	return &Manager{
		local:       local,
		localPlayer: localPlayer,
		cycles:      make(map[uint32]*cycleData),
		peers:       make(map[string]*peer),
		cursor:      start,
		nextLocal:   start,
		keepHistory: true,
	}
}

// SetSender installs the network fan-out. nil means single player.
func (m *Manager) SetSender(s Sender) {
	m.sender = s
}

// SetTestSync enables a test-sync command in every local list whose cycle
// is a multiple of interval. interval 0 disables it.
func (m *Manager) SetTestSync(src SeedSource, interval uint32) {
	m.seeds = src
	m.syncInterval = interval
}

// SetReadOnly switches replay playback on: local commands are dropped and
// every cycle executes whatever the loaded log holds.
func (m *Manager) SetReadOnly(readOnly bool) {
	m.readOnly = readOnly
}

func (m *Manager) IsReadOnly() bool {
	return m.readOnly
}

// SetKeepHistory controls whether executed lists stay in memory.
func (m *Manager) SetKeepHistory(keep bool) {
	m.keepHistory = keep
}

// SetNetworkCycleBuffer changes how far ahead new local commands are
// scheduled. Cycles already submitted are not touched.
func (m *Manager) SetNetworkCycleBuffer(n uint32) {
	if n != m.buffer {
		l4g.Info("[lockstep] network cycle buffer %d -> %d", m.buffer, n)
		metrics.SetGauge([]string{"lockstep", "network_cycle_buffer"}, float32(n))
	}
	m.buffer = n
}

func (m *Manager) NetworkCycleBuffer() uint32 {
	return m.buffer
}

// Cursor is the next cycle to execute.
func (m *Manager) Cursor() uint32 {
	return m.cursor
}

// AddPeer registers a remote submitter whose first expected list is for
// cycle first.
func (m *Manager) AddPeer(name string, first uint32) {
	if name == m.local {
		return
	}
	m.peers[name] = &peer{name: name, nextExpected: first}
	m.advance(m.peers[name])
}

// Rebase prepares a loaded log for a resumed game. Cycles from the cursor
// on are dropped and every submitter, the local one included, starts again
// at the cursor.
func (m *Manager) Rebase(local string, localPlayer uint8, peers []string) {
	m.local, m.localPlayer = local, localPlayer
	for c := range m.cycles {
		if c >= m.cursor {
			delete(m.cycles, c)
		}
	}
	m.nextLocal = m.cursor
	m.peers = make(map[string]*peer)
	for _, name := range peers {
		m.AddPeer(name, m.cursor)
	}
}

// Resume prepares a loaded log for a single player game. Lists pending at
// save time stay and execute at their cycles; no remote submitter is
// waited for.
func (m *Manager) Resume(local string, localPlayer uint8) {
	m.local, m.localPlayer = local, localPlayer
	if m.nextLocal < m.cursor {
		m.nextLocal = m.cursor
	}
	m.peers = make(map[string]*peer)
}

// Seek moves the cursor of a replay log to cycle, the cycle its world
// starts from.
func (m *Manager) Seek(cycle uint32) {
	m.cursor, m.nextLocal = cycle, cycle
}

// RemovePeer stops waiting for name. Lists it already delivered stay in the
// log and execute normally.
func (m *Manager) RemovePeer(name string) {
	if _, ok := m.peers[name]; ok {
		delete(m.peers, name)
		l4g.Info("[lockstep] peer %s removed at cycle %d", name, m.cursor)
	}
}

// Peers returns the remote submitters in canonical order.
func (m *Manager) Peers() []string {
	names := make([]string, 0, len(m.peers))
	for name := range m.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextExpectedCycle is the lowest cycle name has not supplied a list for.
func (m *Manager) NextExpectedCycle(name string) (uint32, bool) {
	if name == m.local {
		return m.nextLocal, true
	}
	p, ok := m.peers[name]
	if !ok {
		return 0, false
	}
	return p.nextExpected, true
}

func (m *Manager) getCycle(cycle uint32) *cycleData {
	d, ok := m.cycles[cycle]
	if !ok {
		d = newCycleData(cycle)
		m.cycles[cycle] = d
	}
	return d
}

// AddCommand schedules a locally issued command at cursor+buffer, or at the
// first cycle not yet submitted when the buffer shrank.
func (m *Manager) AddCommand(c command.Command) uint32 {
	if m.readOnly {
		return 0
	}
	target := max(m.cursor+m.buffer, m.nextLocal)
	d := m.getCycle(target)
	d.lists[m.local] = append(d.lists[m.local], c)
	return target
}

// AddCommandList merges a remote peer's list for cycle. A second list for
// a cycle the peer already reported is rejected and leaves the log as is.
func (m *Manager) AddCommandList(name string, cycle uint32, list command.List) error {
	if m.readOnly {
		return ErrReadOnly
	}
	p, ok := m.peers[name]
	if !ok {
		return errors.Wrapf(ErrUnknownPeer, "%q", name)
	}
	if cycle < p.nextExpected {
		return errors.Wrapf(ErrDoubleSubmission, "peer %s cycle %d (next expected %d)", name, cycle, p.nextExpected)
	}
	d := m.getCycle(cycle)
	if _, dup := d.lists[name]; dup {
		return errors.Wrapf(ErrDoubleSubmission, "peer %s cycle %d", name, cycle)
	}
	if nil == list {
		list = command.List{}
	}
	d.lists[name] = list
	m.advance(p)
	return nil
}

func (m *Manager) advance(p *peer) {
	for {
		d, ok := m.cycles[p.nextExpected]
		if !ok {
			return
		}
		if _, ok := d.lists[p.name]; !ok {
			return
		}
		p.nextExpected++
	}
}

// IsCycleReady reports whether every expected submitter, the local peer
// included, has delivered its list for cycle.
func (m *Manager) IsCycleReady(cycle uint32) bool {
	if m.readOnly {
		return true
	}
	if m.nextLocal <= cycle {
		return false
	}
	for _, p := range m.peers {
		if p.nextExpected <= cycle {
			return false
		}
	}
	return true
}

// Laggards returns the peers that have not yet delivered cycle.
func (m *Manager) Laggards(cycle uint32) []string {
	var names []string
	for _, p := range m.peers {
		if p.nextExpected <= cycle {
			names = append(names, p.name)
		}
	}
	sort.Strings(names)
	return names
}

// Update submits the local list of every cycle up to cursor+buffer and
// flushes the replay recording.
func (m *Manager) Update() {
	if m.readOnly {
		return
	}
	horizon := m.cursor + m.buffer
	for m.nextLocal <= horizon {
		cycle := m.nextLocal
		d := m.getCycle(cycle)
		list := d.lists[m.local]
		if nil == list {
			list = command.List{}
		}
		if c, ok := m.testSyncFor(cycle); ok {
			list = append(list, c)
		}
		d.lists[m.local] = list
		if nil != m.sender {
			m.sender.SendCommandList(cycle, list)
		}
		m.nextLocal++
	}

	if nil != m.recorder {
		if err := m.recorder.Flush(); nil != err {
			l4g.Error("[lockstep] replay flush failed, recording stopped: %v", err)
			m.recorder = nil
		}
	}
}

func (m *Manager) testSyncFor(cycle uint32) (command.Command, bool) {
	if nil == m.seeds || 0 == m.syncInterval || 0 != cycle%m.syncInterval || cycle < command.SyncLag {
		return command.Command{}, false
	}
	seed, ok := m.seeds.SeedAt(cycle - command.SyncLag)
	if !ok {
		return command.Command{}, false
	}
	return command.NewTestSync(m.localPlayer, seed), true
}

// ExecuteCommands runs every command of cycle, peers in ascending name
// order and each list in submission order.
func (m *Manager) ExecuteCommands(ctx *sim.Context, cycle uint32) error {
	if cycle != m.cursor {
		return errors.Wrapf(ErrOutOfOrder, "cycle %d, cursor %d", cycle, m.cursor)
	}
	if !m.IsCycleReady(cycle) {
		return errors.Wrapf(ErrNotReady, "cycle %d waiting for %v", cycle, m.Laggards(cycle))
	}
	defer metrics.MeasureSince([]string{"lockstep", "execute"}, time.Now())

	d, ok := m.cycles[cycle]
	if ok {
		n := 0
		for _, name := range d.peerNames() {
			for _, c := range d.lists[name] {
				if err := c.Execute(ctx); nil != err {
					return errors.Wrapf(err, "cycle %d peer %s", cycle, name)
				}
				n++
			}
		}
		if n > 0 {
			metrics.IncrCounter([]string{"lockstep", "commands"}, float32(n))
		}
		m.retire(d)
	}
	m.cursor++
	return nil
}

// retire drops empty lists of an executed cycle and records the rest.
func (m *Manager) retire(d *cycleData) {
	for name, l := range d.lists {
		if 0 == len(l) {
			delete(d.lists, name)
		}
	}
	if 0 == len(d.lists) || !m.keepHistory {
		delete(m.cycles, d.cycle)
	}
	if 0 != len(d.lists) && nil != m.recorder {
		writeCycle(m.recorder, d)
	}
}

// Log returns a copy of the lists stored for cycle.
func (m *Manager) Log(cycle uint32) map[string]command.List {
	d, ok := m.cycles[cycle]
	if !ok {
		return nil
	}
	out := make(map[string]command.List, len(d.lists))
	for k, v := range d.lists {
		out[k] = append(command.List(nil), v...)
	}
	return out
}

// Cycles returns every cycle number held in the log, ascending.
func (m *Manager) Cycles() []uint32 {
	keys := make([]uint32, 0, len(m.cycles))
	for k := range m.cycles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// StartRecording appends every executed non-empty cycle to w.
func (m *Manager) StartRecording(w io.Writer) {
	m.recorder = stream.NewWriter(w)
}

// StopRecording terminates the recorded log.
func (m *Manager) StopRecording() error {
	if nil == m.recorder {
		return nil
	}
	m.recorder.WriteUint32(endOfLog)
	err := m.recorder.Flush()
	m.recorder = nil
	return err
}

// ComputeNetworkCycleBuffer sizes the scheduling horizon from the largest
// peer round trip: whole cycles covering rtt, plus margin, clamped.
func ComputeNetworkCycleBuffer(rtt, gameSpeed time.Duration, margin, lo, hi uint32) uint32 {
	var n uint32
	if gameSpeed > 0 && rtt > 0 {
		n = uint32((rtt + gameSpeed - 1) / gameSpeed)
	}
	n += margin
	hi = min(hi, command.SyncLag-1)
	return min(max(n, lo), hi)
}
