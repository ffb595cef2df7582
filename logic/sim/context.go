// Package sim holds the authoritative simulation state a lockstep peer
// mutates: objects, houses, the map and the random generator. All mutation
// happens on the game loop goroutine.
package sim

import (
	"sort"

	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
)

// SyncHistoryLen bounds how far back seed snapshots are kept.
const SyncHistoryLen = 128

// Map holds the playfield dimensions.
type Map struct {
	Width, Height int32
}

func (m Map) InBounds(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < m.Width && c.Y < m.Height
}

// Clamp moves c onto the map.
func (m Map) Clamp(c Coord) Coord {
	return Coord{X: min(max(c.X, 0), m.Width-1), Y: min(max(c.Y, 0), m.Height-1)}
}

type syncPoint struct {
	cycle uint32
	seed  uint32
	valid bool
}

// DesyncFunc is called when a sync check fails.
type DesyncFunc func(cycle uint32, want, got uint32)

// Context is the explicit game state passed to everything that reads or
// mutates the simulation.
type Context struct {
	Cycle   uint32
	Map     Map
	Objects *ObjectManager
	Houses  [NumHouses]*House
	Random  *Random

	// players maps a player id to the house it commands.
	players map[uint8]HouseID
	history [SyncHistoryLen]syncPoint

	OnDesync DesyncFunc
}

// NewContext creates an empty world.
func NewContext(m Map, seed uint64) *Context {
	return &Context{
		Map:     m,
		Objects: NewObjectManager(),
		Random:  NewRandom(seed),
		players: make(map[uint8]HouseID),
	}
}

// AddHouse creates house h with the given credits and binds playerID to it.
func (c *Context) AddHouse(h HouseID, playerID uint8, credits int32) *House {
	house := &House{ID: h, Credits: credits, Team: uint8(h)}
	c.Houses[h] = house
	c.players[playerID] = h
	return house
}

func (c *Context) House(h HouseID) *House {
	if h >= NumHouses {
		return nil
	}
	return c.Houses[h]
}

// HouseOfPlayer returns the house playerID controls.
func (c *Context) HouseOfPlayer(playerID uint8) (HouseID, bool) {
	h, ok := c.players[playerID]
	return h, ok
}

// BeginCycle records the random seed at the start of the current cycle.
func (c *Context) BeginCycle() {
	c.history[c.Cycle%SyncHistoryLen] = syncPoint{cycle: c.Cycle, seed: c.Random.Seed(), valid: true}
}

// SeedAt returns the seed recorded at the start of cycle.
func (c *Context) SeedAt(cycle uint32) (uint32, bool) {
	p := c.history[cycle%SyncHistoryLen]
	if !p.valid || p.cycle != cycle {
		return 0, false
	}
	return p.seed, true
}

// ReportDesync forwards a failed sync check.
func (c *Context) ReportDesync(want, got uint32) {
	if nil != c.OnDesync {
		c.OnDesync(c.Cycle, want, got)
	}
}

// Damage applies damage and removes the object when it is destroyed.
func (c *Context) Damage(o Object, amount int32) {
	o.damage(amount)
	if o.Health() <= 0 {
		c.Destroy(o)
	}
}

func (c *Context) Destroy(o Object) {
	c.Objects.Remove(o.ID())
}

func (c *Context) explode(at Coord, radius, damage int32) {
	var hit []Object
	c.Objects.Each(func(o Object) {
		if o.Position().Distance(at) <= radius {
			hit = append(hit, o)
		}
	})
	for _, o := range hit {
		c.Damage(o, damage)
	}
}

// Tick advances the simulation by one cycle.
func (c *Context) Tick() {
	c.Objects.Each(func(o Object) {
		o.tick(c)
	})
	c.Cycle++
}

// Save writes houses, players and objects.
func (c *Context) Save(w *stream.Writer) {
	var houses []*House
	for _, h := range c.Houses {
		if nil != h {
			houses = append(houses, h)
		}
	}
	w.WriteUint32(uint32(len(houses)))
	for _, h := range houses {
		h.save(w)
	}

	ids := make([]int, 0, len(c.players))
	for id := range c.players {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	w.WriteUint32(uint32(len(ids)))
	for _, id := range ids {
		w.WriteUint8(uint8(id))
		w.WriteUint8(uint8(c.players[uint8(id)]))
	}

	c.Objects.save(w)

	var points []syncPoint
	for _, p := range c.history {
		if p.valid {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].cycle < points[j].cycle })
	w.WriteUint32(uint32(len(points)))
	for _, p := range points {
		w.WriteUint32(p.cycle)
		w.WriteUint32(p.seed)
	}
}

// Load restores what Save wrote. Map, cycle and random state are stored by
// the save game header.
func (c *Context) Load(r *stream.Reader) error {
	c.Houses = [NumHouses]*House{}
	n := r.ReadUint32()
	if n > uint32(NumHouses) {
		return errors.Errorf("save has %d houses", n)
	}
	for i := uint32(0); i < n; i++ {
		h := &House{}
		h.load(r)
		if h.ID >= NumHouses {
			return errors.Errorf("bad house id %d", h.ID)
		}
		c.Houses[h.ID] = h
	}

	c.players = make(map[uint8]HouseID)
	n = r.ReadUint32()
	if n > 256 {
		return errors.Errorf("save has %d players", n)
	}
	for i := uint32(0); i < n; i++ {
		id := r.ReadUint8()
		c.players[id] = HouseID(r.ReadUint8())
	}

	c.Objects = NewObjectManager()
	c.Objects.load(r)
	if err := r.Err(); nil != err {
		return errors.Wrap(err, "load objects")
	}

	c.history = [SyncHistoryLen]syncPoint{}
	n = r.ReadUint32()
	if n > SyncHistoryLen {
		return errors.Errorf("save has %d sync points", n)
	}
	for i := uint32(0); i < n; i++ {
		p := syncPoint{cycle: r.ReadUint32(), seed: r.ReadUint32(), valid: true}
		c.history[p.cycle%SyncHistoryLen] = p
	}
	return errors.Wrap(r.Err(), "load sync history")
}
