// Package savegame reads and writes save games and replays. Both end with
// the command log, so a loaded game resumes with the exact pending and
// historical cycles it was saved with.
package savegame

import (
	"io"

	"github.com/dunelegacy/dunelockstep/logic/lockstep"
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
)

const (
	SaveMagic   uint32 = 0xD0CA5A7E
	ReplayMagic uint32 = 0xD0CA2E91
	Version     uint32 = 1
)

var (
	ErrBadMagic = errors.New("savegame: not a save file")
	ErrVersion  = errors.New("savegame: unsupported version")
)

// Header is the part of a save game read before the world state.
type Header struct {
	Settings    []byte // encoded game init settings
	HouseInfo   []byte // encoded house slot table
	MapWidth    int32
	MapHeight   int32
	Cycle       uint32
	GameType    uint8
	TechLevel   uint8
	Seed        uint64
	RandomState []uint32
}

func checkMagic(r *stream.Reader, magic uint32) error {
	got := r.ReadUint32()
	version := r.ReadUint32()
	if err := r.Err(); nil != err {
		return errors.Wrap(err, "read file header")
	}
	if got != magic {
		return errors.Wrapf(ErrBadMagic, "magic %#08x", got)
	}
	if version != Version {
		return errors.Wrapf(ErrVersion, "version %d", version)
	}
	return nil
}

func writeHeader(w *stream.Writer, h Header) {
	w.WriteUint32(SaveMagic)
	w.WriteUint32(Version)
	w.WriteBytes(h.Settings)
	w.WriteBytes(h.HouseInfo)
	w.WriteUint32(uint32(h.MapWidth))
	w.WriteUint32(uint32(h.MapHeight))
	w.WriteUint32(h.Cycle)
	w.WriteUint8(h.GameType)
	w.WriteUint8(h.TechLevel)
	w.WriteUint64(h.Seed)
	w.WriteUint32Vector(h.RandomState)
}

// ReadHeader reads the save game header only.
func ReadHeader(r *stream.Reader) (Header, error) {
	if err := checkMagic(r, SaveMagic); nil != err {
		return Header{}, err
	}
	h := Header{
		Settings:    r.ReadBytes(),
		HouseInfo:   r.ReadBytes(),
		MapWidth:    int32(r.ReadUint32()),
		MapHeight:   int32(r.ReadUint32()),
		Cycle:       r.ReadUint32(),
		GameType:    r.ReadUint8(),
		TechLevel:   r.ReadUint8(),
		Seed:        r.ReadUint64(),
		RandomState: r.ReadUint32Vector(),
	}
	return h, errors.Wrap(r.Err(), "read save header")
}

// Write stores a game: header, world, then the command log last. The
// header's cycle and random fields are taken from ctx.
func Write(out io.Writer, h Header, ctx *sim.Context, cmds *lockstep.Manager) error {
	h.MapWidth, h.MapHeight = ctx.Map.Width, ctx.Map.Height
	h.Cycle = ctx.Cycle
	h.Seed = ctx.Random.InitialSeed()
	h.RandomState = ctx.Random.State()

	w := stream.NewWriter(out)
	writeHeader(w, h)
	ctx.Save(w)
	if err := cmds.Save(w); nil != err {
		return errors.Wrap(err, "write save game")
	}
	return nil
}

// Read loads a save game. The world is rebuilt from the file and cmds
// takes over the saved command log. Any decode error fails the load.
func Read(in io.Reader, cmds *lockstep.Manager) (Header, *sim.Context, error) {
	r := stream.NewReader(in)
	h, err := ReadHeader(r)
	if nil != err {
		return Header{}, nil, err
	}
	if h.MapWidth <= 0 || h.MapHeight <= 0 {
		return Header{}, nil, errors.Errorf("bad map size %dx%d", h.MapWidth, h.MapHeight)
	}
	ctx := sim.NewContext(sim.Map{Width: h.MapWidth, Height: h.MapHeight}, h.Seed)
	if err := ctx.Random.SetState(h.Seed, h.RandomState); nil != err {
		return Header{}, nil, err
	}
	ctx.Cycle = h.Cycle
	if err := ctx.Load(r); nil != err {
		return Header{}, nil, errors.Wrap(err, "load world")
	}
	if err := cmds.Load(r); nil != err {
		return Header{}, nil, errors.Wrap(err, "load command log")
	}
	if cmds.Cursor() != ctx.Cycle {
		return Header{}, nil, errors.Errorf("command log at cycle %d, world at %d", cmds.Cursor(), ctx.Cycle)
	}
	return h, ctx, nil
}

// ReplayHeader precedes the recorded command log of a replay.
type ReplayHeader struct {
	LocalPlayer string
	Settings    []byte
	// Save holds the save game a loaded game resumed from. Playback
	// starts from its world; empty for games started from the lobby.
	Save []byte
}

// WriteReplayHeader writes the replay preamble. The caller appends the
// command log, usually through lockstep.Manager.StartRecording.
func WriteReplayHeader(out io.Writer, h ReplayHeader) error {
	w := stream.NewWriter(out)
	w.WriteUint32(ReplayMagic)
	w.WriteUint32(Version)
	w.WriteString(h.LocalPlayer)
	w.WriteBytes(h.Settings)
	w.WriteBytes(h.Save)
	return w.Flush()
}

// ReadReplay reads the preamble and loads the log into cmds, which becomes
// read only.
func ReadReplay(in io.Reader, cmds *lockstep.Manager) (ReplayHeader, error) {
	r := stream.NewReader(in)
	if err := checkMagic(r, ReplayMagic); nil != err {
		return ReplayHeader{}, err
	}
	h := ReplayHeader{
		LocalPlayer: r.ReadString(),
		Settings:    r.ReadBytes(),
		Save:        r.ReadBytes(),
	}
	if err := r.Err(); nil != err {
		return ReplayHeader{}, errors.Wrap(err, "read replay header")
	}
	if err := cmds.LoadReplay(r); nil != err {
		return ReplayHeader{}, errors.Wrap(err, "load replay log")
	}
	return h, nil
}
