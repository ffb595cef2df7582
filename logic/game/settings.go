package game

import (
	"sort"
	"strconv"

	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// GameType tells how a game was set up.
type GameType uint8

const (
	GameTypeSkirmish GameType = iota + 1
	GameTypeCustomMultiplayer
	GameTypeLoadMultiplayer
)

func (t GameType) String() string {
	switch t {
	case GameTypeSkirmish:
		return "skirmish"
	case GameTypeCustomMultiplayer:
		return "custom-multiplayer"
	case GameTypeLoadMultiplayer:
		return "load-multiplayer"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

const MaxHouses = int(sim.NumHouses)

// HouseInfo is one slot of the lobby: a house, its team and the player
// commanding it. An empty Player leaves the slot closed.
type HouseInfo struct {
	House   sim.HouseID
	Team    uint8
	Player  string
	Credits int32
}

// InitSettings is everything every peer needs to build the same world.
type InitSettings struct {
	Type      GameType
	TechLevel uint8
	Seed      uint64
	MapWidth  int32
	MapHeight int32
	Houses    []HouseInfo
}

// DefaultSettings is a two slot skirmish on a 64x64 map.
func DefaultSettings(seed uint64) *InitSettings {
	return &InitSettings{
		Type:      GameTypeCustomMultiplayer,
		TechLevel: 8,
		Seed:      seed,
		MapWidth:  64,
		MapHeight: 64,
	}
}

// Validate checks the slot table.
func (s *InitSettings) Validate() error {
	if s.MapWidth <= 0 || s.MapHeight <= 0 || s.MapWidth > 1024 || s.MapHeight > 1024 {
		return errors.Errorf("bad map size %dx%d", s.MapWidth, s.MapHeight)
	}
	if len(s.Houses) > MaxHouses {
		return errors.Errorf("%d houses, at most %d", len(s.Houses), MaxHouses)
	}
	houses := make(map[sim.HouseID]bool)
	players := make(map[string]bool)
	for _, h := range s.Houses {
		if sim.HouseNone == h.House && "" == h.Player {
			continue
		}
		if h.House >= sim.NumHouses {
			return errors.Errorf("bad house %d", h.House)
		}
		if houses[h.House] {
			return errors.Errorf("house %s used twice", h.House)
		}
		houses[h.House] = true
		if "" == h.Player {
			continue
		}
		if players[h.Player] {
			return errors.Errorf("player %q in two slots", h.Player)
		}
		players[h.Player] = true
	}
	return nil
}

// PlayerID is the command submitter id of name: its slot index plus one.
func (s *InitSettings) PlayerID(name string) (uint8, bool) {
	for i, h := range s.Houses {
		if "" != h.Player && h.Player == name {
			return uint8(i + 1), true
		}
	}
	return 0, false
}

// Players returns the names of the occupied slots, sorted.
func (s *InitSettings) Players() []string {
	var names []string
	for _, h := range s.Houses {
		if "" != h.Player {
			names = append(names, h.Player)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (s *InitSettings) Clone() *InitSettings {
	c := *s
	c.Houses = append([]HouseInfo(nil), s.Houses...)
	return &c
}

func (h HouseInfo) value() map[string]interface{} {
	return map[string]interface{}{
		"house":   float64(h.House),
		"team":    float64(h.Team),
		"player":  h.Player,
		"credits": float64(h.Credits),
	}
}

func houseValues(houses []HouseInfo) []interface{} {
	out := make([]interface{}, 0, len(houses))
	for _, h := range houses {
		out = append(out, h.value())
	}
	return out
}

func readHouses(l *structpb.ListValue) []HouseInfo {
	var houses []HouseInfo
	for _, v := range l.GetValues() {
		hf := v.GetStructValue().GetFields()
		houses = append(houses, HouseInfo{
			House:   sim.HouseID(hf["house"].GetNumberValue()),
			Team:    uint8(hf["team"].GetNumberValue()),
			Player:  hf["player"].GetStringValue(),
			Credits: int32(hf["credits"].GetNumberValue()),
		})
	}
	return houses
}

// MarshalHouses encodes a slot table on its own, as save games store it.
func MarshalHouses(houses []HouseInfo) ([]byte, error) {
	lv, err := structpb.NewList(houseValues(houses))
	if nil != err {
		return nil, errors.Wrap(err, "encode houses")
	}
	return proto.Marshal(lv)
}

func UnmarshalHouses(b []byte) ([]HouseInfo, error) {
	lv := &structpb.ListValue{}
	if err := proto.Unmarshal(b, lv); nil != err {
		return nil, errors.Wrap(err, "decode houses")
	}
	return readHouses(lv), nil
}

// Marshal encodes the settings as a protobuf Struct. The seed travels as
// a decimal string since Struct numbers are doubles.
func (s *InitSettings) Marshal() ([]byte, error) {
	st, err := structpb.NewStruct(map[string]interface{}{
		"type":      float64(s.Type),
		"techLevel": float64(s.TechLevel),
		"seed":      strconv.FormatUint(s.Seed, 10),
		"mapWidth":  float64(s.MapWidth),
		"mapHeight": float64(s.MapHeight),
		"houses":    houseValues(s.Houses),
	})
	if nil != err {
		return nil, errors.Wrap(err, "encode settings")
	}
	return proto.Marshal(st)
}

// UnmarshalSettings decodes what Marshal produced.
func UnmarshalSettings(b []byte) (*InitSettings, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(b, st); nil != err {
		return nil, errors.Wrap(err, "decode settings")
	}
	f := st.GetFields()
	seed, err := strconv.ParseUint(f["seed"].GetStringValue(), 10, 64)
	if nil != err {
		return nil, errors.Wrap(err, "decode settings seed")
	}
	s := &InitSettings{
		Type:      GameType(f["type"].GetNumberValue()),
		TechLevel: uint8(f["techLevel"].GetNumberValue()),
		Seed:      seed,
		MapWidth:  int32(f["mapWidth"].GetNumberValue()),
		MapHeight: int32(f["mapHeight"].GetNumberValue()),
		Houses:    readHouses(f["houses"].GetListValue()),
	}
	return s, s.Validate()
}

// ChangeType names what a lobby change event modifies.
type ChangeType uint8

const (
	ChangeHouse ChangeType = iota + 1
	ChangeTeam
	ChangePlayer
	ChangeCredits
)

// ChangeEvent edits one lobby slot.
type ChangeEvent struct {
	Type   ChangeType
	Slot   uint32
	Value  uint32
	Player string
}

// ChangeEventList is a batch of lobby edits sent by the host.
type ChangeEventList []ChangeEvent

func (l ChangeEventList) Marshal() ([]byte, error) {
	items := make([]interface{}, 0, len(l))
	for _, e := range l {
		items = append(items, map[string]interface{}{
			"type":   float64(e.Type),
			"slot":   float64(e.Slot),
			"value":  float64(e.Value),
			"player": e.Player,
		})
	}
	lv, err := structpb.NewList(items)
	if nil != err {
		return nil, errors.Wrap(err, "encode change events")
	}
	return proto.Marshal(lv)
}

func UnmarshalChangeEvents(b []byte) (ChangeEventList, error) {
	lv := &structpb.ListValue{}
	if err := proto.Unmarshal(b, lv); nil != err {
		return nil, errors.Wrap(err, "decode change events")
	}
	var l ChangeEventList
	for _, v := range lv.GetValues() {
		f := v.GetStructValue().GetFields()
		l = append(l, ChangeEvent{
			Type:   ChangeType(f["type"].GetNumberValue()),
			Slot:   uint32(f["slot"].GetNumberValue()),
			Value:  uint32(f["value"].GetNumberValue()),
			Player: f["player"].GetStringValue(),
		})
	}
	return l, nil
}

// Apply edits s in place. A batch that leaves the slot table invalid is
// rolled back as a whole.
func (l ChangeEventList) Apply(s *InitSettings) error {
	backup := s.Clone()
	for _, e := range l {
		if e.Slot > uint32(MaxHouses) {
			*s = *backup
			return errors.Errorf("change event for slot %d", e.Slot)
		}
		for uint32(len(s.Houses)) <= e.Slot {
			s.Houses = append(s.Houses, HouseInfo{House: sim.HouseNone})
		}
		slot := &s.Houses[e.Slot]
		switch e.Type {
		case ChangeHouse:
			slot.House = sim.HouseID(e.Value)
		case ChangeTeam:
			slot.Team = uint8(e.Value)
		case ChangePlayer:
			slot.Player = e.Player
		case ChangeCredits:
			slot.Credits = int32(e.Value)
		default:
			*s = *backup
			return errors.Errorf("unknown change event type %d", e.Type)
		}
	}
	if err := s.Validate(); nil != err {
		*s = *backup
		return err
	}
	return nil
}

// startPositions are the construction yard sites, one per slot, as
// fractions of the map size in eighths.
var startPositions = [MaxHouses]sim.Coord{
	{X: 1, Y: 1}, {X: 6, Y: 6}, {X: 6, Y: 1}, {X: 1, Y: 6}, {X: 4, Y: 1}, {X: 4, Y: 6},
}

// NewWorld builds the initial simulation every peer starts from. The same
// settings always give the same world.
func NewWorld(s *InitSettings) (*sim.Context, error) {
	if err := s.Validate(); nil != err {
		return nil, err
	}
	ctx := sim.NewContext(sim.Map{Width: s.MapWidth, Height: s.MapHeight}, s.Seed)
	for i, h := range s.Houses {
		if "" == h.Player {
			continue
		}
		ctx.AddHouse(h.House, uint8(i+1), h.Credits).Team = h.Team
		base := ctx.Map.Clamp(sim.Coord{
			X: startPositions[i].X * s.MapWidth / 8,
			Y: startPositions[i].Y * s.MapHeight / 8,
		})
		ctx.Objects.Add(sim.NewStructure(sim.KindConstructionYard, h.House, base))
		ctx.Objects.Add(sim.NewUnit(sim.KindHarvester, h.House, ctx.Map.Clamp(sim.Coord{X: base.X + 2, Y: base.Y})))
		ctx.Objects.Add(sim.NewUnit(sim.KindTank, h.House, ctx.Map.Clamp(sim.Coord{X: base.X, Y: base.Y + 2})))
	}
	return ctx, nil
}
