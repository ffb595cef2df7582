package sim

import (
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
)

// ObjectID identifies an object. The low 20 bits hold slot index+1, the
// upper 12 bits the slot generation, so a recycled slot never resolves
// under an id handed out for its previous occupant.
type ObjectID uint32

const (
	NoObject ObjectID = 0

	idIndexBits = 20
	idIndexMask = 1<<idIndexBits - 1
	idGenMask   = 1<<(32-idIndexBits) - 1
)

func makeID(idx uint32, gen uint16) ObjectID {
	return ObjectID(uint32(gen)<<idIndexBits | (idx + 1))
}

func (id ObjectID) index() (uint32, bool) {
	low := uint32(id) & idIndexMask
	if 0 == low {
		return 0, false
	}
	return low - 1, true
}

func (id ObjectID) generation() uint16 {
	return uint16(uint32(id) >> idIndexBits)
}

// Coord is a map tile position.
type Coord struct {
	X, Y int32
}

// Invalid is the "no position" coordinate.
var Invalid = Coord{-1, -1}

func (c Coord) IsValid() bool {
	return c.X >= 0 && c.Y >= 0
}

// Distance is the chebyshev tile distance.
func (c Coord) Distance(o Coord) int32 {
	return max(abs(c.X-o.X), abs(c.Y-o.Y))
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Object is anything living in the object manager.
type Object interface {
	ID() ObjectID
	Kind() Kind
	Owner() HouseID
	Position() Coord
	Health() int32

	setID(ObjectID)
	damage(amount int32)
	tick(ctx *Context)
	save(w *stream.Writer)
	load(r *stream.Reader)
}

// Capability interfaces. A command resolves its target through Lookup with
// the matching Capability; an object whose kind lacks it is skipped.

type Movable interface {
	Object
	DoMove2Pos(pos Coord, forced bool)
	DoMove2Object(target Object)
}

type Attacker interface {
	Object
	DoAttackPos(pos Coord, forced bool)
	DoAttackObject(target Object, forced bool)
	DoSetAttackMode(mode AttackMode)
}

type Capturer interface {
	Object
	DoCaptureStructure(target *Structure)
}

type CarryallRequester interface {
	Object
	DoRequestCarryallDrop(pos Coord)
}

type RepairSender interface {
	Object
	DoSendToRepair(ctx *Context)
}

type DevastateStarter interface {
	Object
	DoStartDevastate()
}

type Deployer interface {
	Object
	DoDeploy(ctx *Context)
}

type HarvesterReturner interface {
	Object
	DoReturn(ctx *Context)
}

type Repairable interface {
	Object
	DoRepair()
}

type DeployPositioner interface {
	Object
	DoSetDeployPosition(pos Coord)
}

type Builder interface {
	Object
	DoUpgrade(ctx *Context)
	DoProduceItem(item Kind, multiple bool)
	DoCancelItem(ctx *Context, item Kind, multiple bool)
	DoSetOnHold(hold bool)
}

type StructurePlacer interface {
	Object
	DoPlaceStructure(ctx *Context, pos Coord)
}

type PalaceWeapon interface {
	Object
	DoSpecialWeapon(ctx *Context)
	DoLaunchDeathhand(ctx *Context, pos Coord)
}

type StarportOrderer interface {
	Object
	DoPlaceOrder(ctx *Context)
	DoCancelOrder(ctx *Context)
}

type TurretAttacker interface {
	Object
	DoTurretAttackObject(target Object)
}

// Lookup resolves id to an object of capability c. ok is false when the id
// is stale, the kind lacks c, or the object does not implement T.
func Lookup[T Object](om *ObjectManager, id ObjectID, c Capability) (T, bool) {
	var zero T
	o := om.Get(id)
	if nil == o || !o.Kind().Has(c) {
		return zero, false
	}
	t, ok := o.(T)
	return t, ok
}

type slot struct {
	obj Object
	gen uint16
}

// ObjectManager stores objects in dense slots with a free list of recycled
// slots. Iteration is in ascending slot order on every peer.
type ObjectManager struct {
	slots []slot
	free  []uint32
	count int
}

func NewObjectManager() *ObjectManager {
	return &ObjectManager{}
}

// Add stores o and assigns its id.
func (m *ObjectManager) Add(o Object) ObjectID {
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = uint32(len(m.slots))
		m.slots = append(m.slots, slot{})
	}
	s := &m.slots[idx]
	s.obj = o
	id := makeID(idx, s.gen)
	o.setID(id)
	m.count++
	return id
}

// Get returns the object for id or nil if it no longer exists.
func (m *ObjectManager) Get(id ObjectID) Object {
	idx, ok := id.index()
	if !ok || idx >= uint32(len(m.slots)) {
		return nil
	}
	s := m.slots[idx]
	if nil == s.obj || s.gen != id.generation() {
		return nil
	}
	return s.obj
}

// Remove deletes the object. Removing a stale id is a no-op.
func (m *ObjectManager) Remove(id ObjectID) bool {
	if nil == m.Get(id) {
		return false
	}
	idx, _ := id.index()
	s := &m.slots[idx]
	s.obj = nil
	s.gen = (s.gen + 1) & idGenMask
	m.free = append(m.free, idx)
	m.count--
	return true
}

func (m *ObjectManager) Len() int {
	return m.count
}

// Each calls fn for every live object in slot order. Objects removed by fn
// are not visited afterwards; objects added by fn are.
func (m *ObjectManager) Each(fn func(o Object)) {
	for i := 0; i < len(m.slots); i++ {
		if o := m.slots[i].obj; nil != o {
			fn(o)
		}
	}
}

// StructureAt returns the structure occupying pos, if any.
func (m *ObjectManager) StructureAt(pos Coord) *Structure {
	for i := range m.slots {
		if s, ok := m.slots[i].obj.(*Structure); ok && s.pos == pos {
			return s
		}
	}
	return nil
}

func (m *ObjectManager) save(w *stream.Writer) {
	w.WriteUint32(uint32(len(m.slots)))
	for _, s := range m.slots {
		w.WriteUint16(s.gen)
		if nil == s.obj {
			w.WriteUint8(uint8(KindNone))
			continue
		}
		w.WriteUint8(uint8(s.obj.Kind()))
		s.obj.save(w)
	}
	free := make([]uint32, len(m.free))
	copy(free, m.free)
	w.WriteUint32Vector(free)
}

func (m *ObjectManager) load(r *stream.Reader) {
	n := r.ReadUint32()
	if n > idIndexMask {
		r.Fail(errors.Errorf("object table of %d slots", n))
		return
	}
	m.slots = make([]slot, 0, n)
	m.count = 0
	for i := uint32(0); i < n && nil == r.Err(); i++ {
		gen := r.ReadUint16()
		kind := Kind(r.ReadUint8())
		s := slot{gen: gen}
		if KindNone != kind {
			if !kind.Valid() {
				r.Fail(errors.Errorf("object slot %d has kind %d", i, kind))
				return
			}
			o := newObject(kind)
			o.load(r)
			o.setID(makeID(i, gen))
			s.obj = o
			m.count++
		}
		m.slots = append(m.slots, s)
	}
	m.free = r.ReadUint32Vector()
	for _, idx := range m.free {
		if idx >= uint32(len(m.slots)) || nil != m.slots[idx].obj {
			r.Fail(errors.Errorf("bad free slot %d", idx))
			return
		}
	}
}

func newObject(k Kind) Object {
	if k.IsUnit() {
		return &Unit{kind: k}
	}
	return &Structure{kind: k}
}
