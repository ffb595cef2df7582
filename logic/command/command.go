// Package command defines player commands, their binary encodings and the
// dispatch that applies them to the simulation.
package command

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
)

var (
	// ErrDecode marks malformed command input: short buffers, unknown
	// opcodes or a parameter count that does not match the opcode.
	ErrDecode = errors.New("command decode error")
	// ErrInvalidArgument marks a command that cannot be executed as given.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ID is a command opcode.
type ID uint32

const (
	None ID = iota
	PlaceStructure
	UnitMove2Pos
	UnitMove2Object
	UnitAttackPos
	UnitAttackObject
	InfantryCapture
	UnitRequestCarryallDrop
	UnitSendToRepair
	UnitSetMode
	DevastatorStartDevastate
	MCVDeploy
	HarvesterReturn
	StructureSetDeployPosition
	StructureRepair
	BuilderUpgrade
	BuilderProduceItem
	BuilderCancelItem
	BuilderSetOnHold
	PalaceSpecialWeapon
	PalaceDeathhand
	StarportPlaceOrder
	StarportCancelOrder
	TurretAttackObject
	TestSync

	NumCommands
)

type opcodeInfo struct {
	name  string
	arity int
}

// catalog holds the fixed parameter count of every opcode. None has no
// entry and is never valid.
var catalog = [NumCommands]opcodeInfo{
	PlaceStructure:             {"CMD_PLACE_STRUCTURE", 3},
	UnitMove2Pos:               {"CMD_UNIT_MOVE2POS", 4},
	UnitMove2Object:            {"CMD_UNIT_MOVE2OBJECT", 2},
	UnitAttackPos:              {"CMD_UNIT_ATTACKPOS", 4},
	UnitAttackObject:           {"CMD_UNIT_ATTACKOBJECT", 2},
	InfantryCapture:            {"CMD_INFANTRY_CAPTURE", 2},
	UnitRequestCarryallDrop:    {"CMD_UNIT_REQUESTCARRYALLDROP", 3},
	UnitSendToRepair:           {"CMD_UNIT_SENDTOREPAIR", 1},
	UnitSetMode:                {"CMD_UNIT_SETMODE", 2},
	DevastatorStartDevastate:   {"CMD_DEVASTATOR_STARTDEVASTATE", 1},
	MCVDeploy:                  {"CMD_MCV_DEPLOY", 1},
	HarvesterReturn:            {"CMD_HARVESTER_RETURN", 1},
	StructureSetDeployPosition: {"CMD_STRUCTURE_SETDEPLOYPOSITION", 3},
	StructureRepair:            {"CMD_STRUCTURE_REPAIR", 1},
	BuilderUpgrade:             {"CMD_BUILDER_UPGRADE", 1},
	BuilderProduceItem:         {"CMD_BUILDER_PRODUCEITEM", 3},
	BuilderCancelItem:          {"CMD_BUILDER_CANCELITEM", 3},
	BuilderSetOnHold:           {"CMD_BUILDER_SETONHOLD", 2},
	PalaceSpecialWeapon:        {"CMD_PALACE_SPECIALWEAPON", 1},
	PalaceDeathhand:            {"CMD_PALACE_DEATHHAND", 3},
	StarportPlaceOrder:         {"CMD_STARPORT_PLACEORDER", 1},
	StarportCancelOrder:        {"CMD_STARPORT_CANCELORDER", 1},
	TurretAttackObject:         {"CMD_TURRET_ATTACKOBJECT", 2},
	TestSync:                   {"CMD_TEST_SYNC", 1},
}

// Valid reports whether id is a known opcode.
func (id ID) Valid() bool {
	return id > None && id < NumCommands
}

// Arity returns the fixed parameter count of id.
func Arity(id ID) (int, bool) {
	if !id.Valid() {
		return 0, false
	}
	return catalog[id].arity, true
}

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("CMD_UNKNOWN(%d)", uint32(id))
	}
	return catalog[id].name
}

// Validate checks that params has exactly the arity of id.
func Validate(id ID, params []uint32) error {
	n, ok := Arity(id)
	if !ok {
		return errors.Wrapf(ErrInvalidArgument, "unknown opcode %d", uint32(id))
	}
	if len(params) != n {
		return errors.Wrapf(ErrInvalidArgument, "%s takes %d parameters, got %d", id, n, len(params))
	}
	return nil
}

// Command is one player action. It is immutable once constructed.
type Command struct {
	playerID uint8
	id       ID
	params   []uint32
}

// New builds a command from an opcode and its parameters.
func New(playerID uint8, id ID, params ...uint32) (Command, error) {
	return NewFromParams(playerID, id, params)
}

// NewFromParams builds a command, copying params.
func NewFromParams(playerID uint8, id ID, params []uint32) (Command, error) {
	if err := Validate(id, params); nil != err {
		return Command{}, err
	}
	p := make([]uint32, len(params))
	copy(p, params)
	return Command{playerID: playerID, id: id, params: p}, nil
}

func mustNew(playerID uint8, id ID, params ...uint32) Command {
	c, err := NewFromParams(playerID, id, params)
	if nil != err {
		panic(err)
	}
	return c
}

// Decode parses the raw buffer form: opcode followed by parameters, all
// little endian uint32.
func Decode(playerID uint8, buf []byte) (Command, error) {
	if len(buf) < 4 {
		return Command{}, errors.Wrapf(ErrDecode, "buffer of %d bytes", len(buf))
	}
	id := ID(binary.LittleEndian.Uint32(buf))
	if !id.Valid() {
		return Command{}, errors.Wrapf(ErrDecode, "unknown opcode %d", uint32(id))
	}
	rest := buf[4:]
	if 0 != len(rest)%4 {
		return Command{}, errors.Wrapf(ErrDecode, "parameter block of %d bytes", len(rest))
	}
	params := make([]uint32, len(rest)/4)
	for i := range params {
		params[i] = binary.LittleEndian.Uint32(rest[i*4:])
	}
	if err := Validate(id, params); nil != err {
		return Command{}, errors.Wrap(ErrDecode, err.Error())
	}
	return Command{playerID: playerID, id: id, params: params}, nil
}

// Encode produces the raw buffer form read by Decode.
func (c Command) Encode() []byte {
	buf := make([]byte, 4+4*len(c.params))
	binary.LittleEndian.PutUint32(buf, uint32(c.id))
	for i, p := range c.params {
		binary.LittleEndian.PutUint32(buf[4+4*i:], p)
	}
	return buf
}

// Read parses the stream form: submitter, opcode, parameter vector.
func Read(r *stream.Reader) (Command, error) {
	playerID := r.ReadUint8()
	id := ID(r.ReadUint32())
	params := r.ReadUint32Vector()
	if err := r.Err(); nil != err {
		return Command{}, errors.Wrap(ErrDecode, err.Error())
	}
	if !id.Valid() {
		return Command{}, errors.Wrapf(ErrDecode, "unknown opcode %d", uint32(id))
	}
	if err := Validate(id, params); nil != err {
		return Command{}, errors.Wrap(ErrDecode, err.Error())
	}
	return Command{playerID: playerID, id: id, params: params}, nil
}

// Save writes the stream form and flushes w.
func (c Command) Save(w *stream.Writer) error {
	c.write(w)
	return w.Flush()
}

func (c Command) write(w *stream.Writer) {
	w.WriteUint8(c.playerID)
	w.WriteUint32(uint32(c.id))
	w.WriteUint32Vector(c.params)
}

func (c Command) PlayerID() uint8 { return c.playerID }
func (c Command) ID() ID          { return c.id }

// Params returns a copy of the parameters.
func (c Command) Params() []uint32 {
	p := make([]uint32, len(c.params))
	copy(p, c.params)
	return p
}

// Equal reports whether both commands have the same submitter, opcode and
// parameters.
func (c Command) Equal(o Command) bool {
	if c.playerID != o.playerID || c.id != o.id || len(c.params) != len(o.params) {
		return false
	}
	for i := range c.params {
		if c.params[i] != o.params[i] {
			return false
		}
	}
	return true
}

func (c Command) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s(player=%d", c.id, c.playerID)
	for _, p := range c.params {
		fmt.Fprintf(&b, ",%d", p)
	}
	b.WriteByte(')')
	return b.String()
}
