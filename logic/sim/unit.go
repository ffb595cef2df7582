package sim

import "github.com/dunelegacy/dunelockstep/pkg/stream"

// AttackMode is a unit's standing order.
type AttackMode uint8

const (
	ModeGuard AttackMode = iota
	ModeAreaGuard
	ModeAmbush
	ModeHunt
	ModeRetreat
	ModeStop

	NumAttackModes
)

const (
	devastateDelay    = 25
	carryallDelay     = 10
	harvesterCapacity = 100
	explosionDamage   = 120
)

// Unit is a mobile object.
type Unit struct {
	id     ObjectID
	kind   Kind
	owner  HouseID
	pos    Coord
	health int32

	dest         Coord
	destObject   ObjectID
	forced       bool
	attackPos    Coord
	target       ObjectID
	attackForced bool
	mode         AttackMode
	capture      ObjectID
	repairYard   ObjectID
	drop         Coord
	dropTimer    int32
	devastate    int32
	returning    bool
	cargo        int32
}

// NewUnit creates a full health unit with no orders.
func NewUnit(kind Kind, owner HouseID, pos Coord) *Unit {
	u := &Unit{kind: kind, owner: owner, pos: pos, health: kinds[kind].health}
	u.clearOrders()
	return u
}

func (u *Unit) ID() ObjectID        { return u.id }
func (u *Unit) Kind() Kind          { return u.kind }
func (u *Unit) Owner() HouseID      { return u.owner }
func (u *Unit) Position() Coord     { return u.pos }
func (u *Unit) Health() int32       { return u.health }
func (u *Unit) setID(id ObjectID)   { u.id = id }
func (u *Unit) damage(amount int32) { u.health -= amount }

func (u *Unit) Destination() Coord     { return u.dest }
func (u *Unit) IsForced() bool         { return u.forced }
func (u *Unit) Target() ObjectID       { return u.target }
func (u *Unit) AttackPosition() Coord  { return u.attackPos }
func (u *Unit) AttackMode() AttackMode { return u.mode }
func (u *Unit) Cargo() int32           { return u.cargo }
func (u *Unit) IsDevastating() bool    { return u.devastate > 0 }

func (u *Unit) clearOrders() {
	u.dest = Invalid
	u.destObject = NoObject
	u.forced = false
	u.attackPos = Invalid
	u.target = NoObject
	u.attackForced = false
	u.capture = NoObject
	u.repairYard = NoObject
	u.returning = false
}

func (u *Unit) DoMove2Pos(pos Coord, forced bool) {
	u.clearOrders()
	u.dest = pos
	u.forced = forced
}

func (u *Unit) DoMove2Object(target Object) {
	u.clearOrders()
	u.destObject = target.ID()
}

func (u *Unit) DoAttackPos(pos Coord, forced bool) {
	u.clearOrders()
	u.attackPos = pos
	u.attackForced = forced
}

func (u *Unit) DoAttackObject(target Object, forced bool) {
	if target.Owner() == u.owner && !forced {
		return
	}
	u.clearOrders()
	u.target = target.ID()
	u.attackForced = forced
}

func (u *Unit) DoSetAttackMode(mode AttackMode) {
	if mode >= NumAttackModes {
		return
	}
	u.mode = mode
	if ModeStop == mode {
		u.clearOrders()
	}
}

func (u *Unit) DoCaptureStructure(target *Structure) {
	if target.owner == u.owner {
		return
	}
	u.clearOrders()
	u.capture = target.id
}

func (u *Unit) DoRequestCarryallDrop(pos Coord) {
	u.drop = pos
	u.dropTimer = carryallDelay
}

func (u *Unit) DoSendToRepair(ctx *Context) {
	if u.health >= kinds[u.kind].health {
		return
	}
	var best *Structure
	ctx.Objects.Each(func(o Object) {
		s, ok := o.(*Structure)
		if !ok || KindRepairYard != s.kind || s.owner != u.owner {
			return
		}
		if nil == best || u.pos.Distance(s.pos) < u.pos.Distance(best.pos) {
			best = s
		}
	})
	if nil != best {
		u.clearOrders()
		u.repairYard = best.id
	}
}

func (u *Unit) DoStartDevastate() {
	if 0 == u.devastate {
		u.clearOrders()
		u.devastate = devastateDelay
	}
}

func (u *Unit) DoDeploy(ctx *Context) {
	if !ctx.Map.InBounds(u.pos) || nil != ctx.Objects.StructureAt(u.pos) {
		return
	}
	ctx.Objects.Remove(u.id)
	ctx.Objects.Add(NewStructure(KindConstructionYard, u.owner, u.pos))
}

func (u *Unit) DoReturn(ctx *Context) {
	u.clearOrders()
	u.returning = true
}

func (u *Unit) moveToward(ctx *Context, to Coord) bool {
	if u.pos == to {
		return true
	}
	next := Coord{u.pos.X + sign(to.X-u.pos.X), u.pos.Y + sign(to.Y-u.pos.Y)}
	if ctx.Map.InBounds(next) {
		u.pos = next
	}
	return u.pos == to
}

func (u *Unit) tick(ctx *Context) {
	info := &kinds[u.kind]

	if u.devastate > 0 {
		u.devastate--
		if 0 == u.devastate {
			ctx.explode(u.pos, 1, explosionDamage)
			ctx.Destroy(u)
		}
		return
	}

	if u.dropTimer > 0 {
		u.dropTimer--
		if 0 == u.dropTimer && ctx.Map.InBounds(u.drop) {
			u.pos = u.drop
			u.dest = Invalid
		}
	}

	switch {
	case NoObject != u.target:
		t := ctx.Objects.Get(u.target)
		if nil == t {
			u.target = NoObject
			return
		}
		if u.pos.Distance(t.Position()) <= info.weaponRng {
			ctx.Damage(t, info.damage+ctx.Random.IntN(3))
		} else {
			u.moveToward(ctx, t.Position())
		}
	case u.attackPos.IsValid():
		if u.pos.Distance(u.attackPos) <= info.weaponRng {
			ctx.explode(u.attackPos, 0, info.damage+ctx.Random.IntN(3))
			if !u.attackForced {
				u.attackPos = Invalid
			}
		} else {
			u.moveToward(ctx, u.attackPos)
		}
	case NoObject != u.capture:
		s, ok := ctx.Objects.Get(u.capture).(*Structure)
		if !ok || s.owner == u.owner {
			u.capture = NoObject
			return
		}
		if u.pos.Distance(s.pos) <= 1 {
			s.owner = u.owner
			ctx.Destroy(u)
			return
		}
		u.moveToward(ctx, s.pos)
	case NoObject != u.repairYard:
		s, ok := ctx.Objects.Get(u.repairYard).(*Structure)
		if !ok || s.owner != u.owner {
			u.repairYard = NoObject
			return
		}
		if u.pos.Distance(s.pos) <= 1 {
			u.health = info.health
			u.repairYard = NoObject
			return
		}
		u.moveToward(ctx, s.pos)
	case NoObject != u.destObject:
		o := ctx.Objects.Get(u.destObject)
		if nil == o {
			u.destObject = NoObject
			return
		}
		u.moveToward(ctx, o.Position())
	case u.dest.IsValid():
		if u.moveToward(ctx, u.dest) {
			u.dest = Invalid
			u.forced = false
		}
	case KindHarvester == u.kind:
		u.harvest(ctx)
	}
}

func (u *Unit) harvest(ctx *Context) {
	if !u.returning {
		if u.cargo < harvesterCapacity {
			u.cargo = min(harvesterCapacity, u.cargo+1+ctx.Random.IntN(2))
			return
		}
		u.returning = true
	}
	var refinery *Structure
	ctx.Objects.Each(func(o Object) {
		s, ok := o.(*Structure)
		if !ok || KindRefinery != s.kind || s.owner != u.owner {
			return
		}
		if nil == refinery || u.pos.Distance(s.pos) < u.pos.Distance(refinery.pos) {
			refinery = s
		}
	})
	if nil == refinery {
		return
	}
	if u.pos.Distance(refinery.pos) <= 1 {
		if h := ctx.House(u.owner); nil != h {
			h.Credits += u.cargo * 5
		}
		u.cargo = 0
		u.returning = false
		return
	}
	u.moveToward(ctx, refinery.pos)
}

func writeCoord(w *stream.Writer, c Coord) {
	w.WriteSint32(c.X)
	w.WriteSint32(c.Y)
}

func readCoord(r *stream.Reader) Coord {
	return Coord{X: r.ReadSint32(), Y: r.ReadSint32()}
}

func (u *Unit) save(w *stream.Writer) {
	w.WriteUint8(uint8(u.owner))
	writeCoord(w, u.pos)
	w.WriteSint32(u.health)
	writeCoord(w, u.dest)
	w.WriteUint32(uint32(u.destObject))
	w.WriteBool(u.forced)
	writeCoord(w, u.attackPos)
	w.WriteUint32(uint32(u.target))
	w.WriteBool(u.attackForced)
	w.WriteUint8(uint8(u.mode))
	w.WriteUint32(uint32(u.capture))
	w.WriteUint32(uint32(u.repairYard))
	writeCoord(w, u.drop)
	w.WriteSint32(u.dropTimer)
	w.WriteSint32(u.devastate)
	w.WriteBool(u.returning)
	w.WriteSint32(u.cargo)
}

func (u *Unit) load(r *stream.Reader) {
	u.owner = HouseID(r.ReadUint8())
	u.pos = readCoord(r)
	u.health = r.ReadSint32()
	u.dest = readCoord(r)
	u.destObject = ObjectID(r.ReadUint32())
	u.forced = r.ReadBool()
	u.attackPos = readCoord(r)
	u.target = ObjectID(r.ReadUint32())
	u.attackForced = r.ReadBool()
	u.mode = AttackMode(r.ReadUint8())
	u.capture = ObjectID(r.ReadUint32())
	u.repairYard = ObjectID(r.ReadUint32())
	u.drop = readCoord(r)
	u.dropTimer = r.ReadSint32()
	u.devastate = r.ReadSint32()
	u.returning = r.ReadBool()
	u.cargo = r.ReadSint32()
}
