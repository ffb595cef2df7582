package lockstep

import (
	"io"

	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
)

// endOfLog terminates a command log on disk.
const endOfLog uint32 = 0xFFFFFFFF

const maxPeersPerCycle = 64

// CommandLog := (cycle:uint32 peerCount:uint32 (name:string CommandList)*)* endOfLog

func writeCycle(w *stream.Writer, d *cycleData) {
	w.WriteUint32(d.cycle)
	names := d.peerNames()
	w.WriteUint32(uint32(len(names)))
	for _, name := range names {
		w.WriteString(name)
		d.lists[name].Write(w)
	}
}

// readCycle returns nil at the terminator. eofOK accepts a clean end of
// input at an entry boundary, as left by an interrupted recording.
func readCycle(r *stream.Reader, eofOK bool) (*cycleData, error) {
	cycle := r.ReadUint32()
	if err := r.Err(); nil != err {
		if eofOK && errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read cycle header")
	}
	if endOfLog == cycle {
		return nil, nil
	}
	n := r.ReadUint32()
	if n > maxPeersPerCycle {
		return nil, errors.Wrapf(command.ErrDecode, "cycle %d has %d submitters", cycle, n)
	}
	d := newCycleData(cycle)
	for i := uint32(0); i < n; i++ {
		name := r.ReadString()
		list, err := command.ReadList(r)
		if nil != err {
			return nil, errors.Wrapf(err, "cycle %d peer %q", cycle, name)
		}
		if _, dup := d.lists[name]; dup {
			return nil, errors.Wrapf(ErrDoubleSubmission, "cycle %d peer %q twice in log", cycle, name)
		}
		d.lists[name] = list
	}
	return d, errors.Wrap(r.Err(), "read cycle")
}

// WriteLog writes every stored cycle followed by the terminator.
func (m *Manager) WriteLog(w *stream.Writer) {
	for _, c := range m.Cycles() {
		writeCycle(w, m.cycles[c])
	}
	w.WriteUint32(endOfLog)
}

// Save persists cursor, scheduling state, peers and the whole log.
func (m *Manager) Save(w *stream.Writer) error {
	w.WriteUint32(m.cursor)
	w.WriteUint32(m.nextLocal)
	w.WriteUint32(m.buffer)
	names := m.Peers()
	w.WriteUint32(uint32(len(names)))
	for _, name := range names {
		w.WriteString(name)
		w.WriteUint32(m.peers[name].nextExpected)
	}
	m.WriteLog(w)
	return w.Flush()
}

// Load replaces the manager state with what Save wrote. A corrupt log
// fails the whole load.
func (m *Manager) Load(r *stream.Reader) error {
	cursor := r.ReadUint32()
	nextLocal := r.ReadUint32()
	buffer := r.ReadUint32()
	n := r.ReadUint32()
	if err := r.Err(); nil != err {
		return errors.Wrap(err, "read command manager header")
	}
	if n > maxPeersPerCycle {
		return errors.Wrapf(command.ErrDecode, "%d peers", n)
	}
	peers := make(map[string]*peer, n)
	for i := uint32(0); i < n; i++ {
		name := r.ReadString()
		peers[name] = &peer{name: name, nextExpected: r.ReadUint32()}
	}
	if err := r.Err(); nil != err {
		return errors.Wrap(err, "read peers")
	}
	cycles, err := readLog(r, false)
	if nil != err {
		return err
	}
	m.cursor, m.nextLocal, m.buffer = cursor, nextLocal, buffer
	m.peers = peers
	m.cycles = cycles
	return nil
}

// LoadReplay fills the log from a recorded replay and makes the manager
// read only.
func (m *Manager) LoadReplay(r *stream.Reader) error {
	cycles, err := readLog(r, true)
	if nil != err {
		return err
	}
	m.cycles = cycles
	m.peers = make(map[string]*peer)
	m.readOnly = true
	return nil
}

func readLog(r *stream.Reader, eofOK bool) (map[uint32]*cycleData, error) {
	cycles := make(map[uint32]*cycleData)
	for {
		d, err := readCycle(r, eofOK)
		if nil != err {
			return nil, err
		}
		if nil == d {
			return cycles, nil
		}
		if _, dup := cycles[d.cycle]; dup {
			return nil, errors.Wrapf(command.ErrDecode, "cycle %d appears twice", d.cycle)
		}
		cycles[d.cycle] = d
	}
}
