package sim

import "github.com/dunelegacy/dunelockstep/pkg/stream"

const (
	maxUpgradeLevel   = 2
	upgradeTime       = 60
	palaceChargeTime  = 300
	starportDelay     = 40
	multipleItemCount = 5
	repairStep        = 5
	repairCost        = 2
	deathhandRadius   = 2
	deathhandDamage   = 150
)

// Structure is an immobile object. Builders, the palace, the starport and
// turrets are structures whose kind carries the matching capability.
type Structure struct {
	id     ObjectID
	kind   Kind
	owner  HouseID
	pos    Coord
	health int32

	repairing bool
	deployPos Coord

	queue     []Kind
	progress  int32
	paid      bool
	onHold    bool
	readyItem Kind

	upgradeLevel uint8
	upgrading    bool
	upgradeTicks int32

	charge int32
	target ObjectID

	cart     []Kind
	delivery []Kind
	arrival  int32
}

// NewStructure creates a full health structure.
func NewStructure(kind Kind, owner HouseID, pos Coord) *Structure {
	return &Structure{kind: kind, owner: owner, pos: pos, health: kinds[kind].health, deployPos: Invalid}
}

func (s *Structure) ID() ObjectID      { return s.id }
func (s *Structure) Kind() Kind        { return s.kind }
func (s *Structure) Owner() HouseID    { return s.owner }
func (s *Structure) Position() Coord   { return s.pos }
func (s *Structure) Health() int32     { return s.health }
func (s *Structure) setID(id ObjectID) { s.id = id }
func (s *Structure) damage(amount int32) {
	s.health -= amount
	s.repairing = s.repairing && s.health > 0
}

func (s *Structure) IsRepairing() bool       { return s.repairing }
func (s *Structure) DeployPosition() Coord   { return s.deployPos }
func (s *Structure) Queue() []Kind           { return append([]Kind(nil), s.queue...) }
func (s *Structure) IsOnHold() bool          { return s.onHold }
func (s *Structure) ReadyItem() Kind         { return s.readyItem }
func (s *Structure) UpgradeLevel() uint8     { return s.upgradeLevel }
func (s *Structure) IsUpgrading() bool       { return s.upgrading }
func (s *Structure) Cart() []Kind            { return append([]Kind(nil), s.cart...) }
func (s *Structure) PendingDelivery() []Kind { return append([]Kind(nil), s.delivery...) }
func (s *Structure) Charged() bool           { return s.charge >= palaceChargeTime }
func (s *Structure) Target() ObjectID        { return s.target }

func (s *Structure) DoRepair() {
	if s.health < kinds[s.kind].health {
		s.repairing = !s.repairing
	}
}

func (s *Structure) DoSetDeployPosition(pos Coord) {
	s.deployPos = pos
}

func (s *Structure) DoUpgrade(ctx *Context) {
	if s.upgrading || s.upgradeLevel >= maxUpgradeLevel {
		return
	}
	h := ctx.House(s.owner)
	if nil == h || !h.spend(s.kind.Price()/2) {
		return
	}
	s.upgrading = true
	s.upgradeTicks = 0
}

func (s *Structure) DoProduceItem(item Kind, multiple bool) {
	n := 1
	if multiple {
		n = multipleItemCount
	}
	if KindStarport == s.kind {
		if !inStock(item) {
			return
		}
		for i := 0; i < n; i++ {
			s.cart = append(s.cart, item)
		}
		return
	}
	if !s.kind.CanProduce(item) {
		return
	}
	for i := 0; i < n; i++ {
		s.queue = append(s.queue, item)
	}
}

func (s *Structure) DoCancelItem(ctx *Context, item Kind, multiple bool) {
	n := 1
	if multiple {
		n = multipleItemCount
	}
	if KindStarport == s.kind {
		s.cart = removeLast(s.cart, item, n)
		return
	}
	for ; n > 0; n-- {
		idx := -1
		for i := len(s.queue) - 1; i >= 0; i-- {
			if s.queue[i] == item {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		if 0 == idx {
			if s.paid {
				if h := ctx.House(s.owner); nil != h {
					h.Credits += item.Price()
				}
			}
			s.progress = 0
			s.paid = false
		}
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	}
}

func (s *Structure) DoSetOnHold(hold bool) {
	s.onHold = hold
}

func (s *Structure) DoPlaceStructure(ctx *Context, pos Coord) {
	if KindNone == s.readyItem || !ctx.Map.InBounds(pos) {
		return
	}
	if nil != ctx.Objects.StructureAt(pos) {
		return
	}
	ctx.Objects.Add(NewStructure(s.readyItem, s.owner, pos))
	s.readyItem = KindNone
}

func (s *Structure) DoSpecialWeapon(ctx *Context) {
	if !s.Charged() || HouseHarkonnen == s.owner {
		return
	}
	kind := KindTrooper
	if HouseOrdos == s.owner {
		kind = KindSoldier
	}
	for i := int32(0); i < 3; i++ {
		ctx.Objects.Add(NewUnit(kind, s.owner, ctx.Map.Clamp(Coord{s.pos.X + i, s.pos.Y + 1})))
	}
	s.charge = 0
}

func (s *Structure) DoLaunchDeathhand(ctx *Context, pos Coord) {
	if !s.Charged() || HouseHarkonnen != s.owner || !ctx.Map.InBounds(pos) {
		return
	}
	// the missile scatters up to one tile
	hit := ctx.Map.Clamp(Coord{pos.X + ctx.Random.IntN(3) - 1, pos.Y + ctx.Random.IntN(3) - 1})
	ctx.explode(hit, deathhandRadius, deathhandDamage)
	s.charge = 0
}

func (s *Structure) DoPlaceOrder(ctx *Context) {
	if 0 == len(s.cart) || len(s.delivery) > 0 {
		return
	}
	var total int32
	for _, k := range s.cart {
		total += k.Price()
	}
	h := ctx.House(s.owner)
	if nil == h || !h.spend(total) {
		return
	}
	s.delivery, s.cart = s.cart, nil
	s.arrival = starportDelay
}

func (s *Structure) DoCancelOrder(ctx *Context) {
	s.cart = nil
}

func (s *Structure) DoTurretAttackObject(target Object) {
	if target.Owner() != s.owner {
		s.target = target.ID()
	}
}

func (s *Structure) spawn(ctx *Context, kind Kind) {
	pos := ctx.Map.Clamp(Coord{s.pos.X, s.pos.Y + 1})
	u := NewUnit(kind, s.owner, pos)
	if s.deployPos.IsValid() {
		u.dest = s.deployPos
	}
	ctx.Objects.Add(u)
}

func (s *Structure) tick(ctx *Context) {
	info := &kinds[s.kind]

	if s.repairing {
		h := ctx.House(s.owner)
		if s.health >= info.health || nil == h || !h.spend(repairCost) {
			s.repairing = false
		} else {
			s.health = min(info.health, s.health+repairStep)
		}
	}

	if s.upgrading {
		s.upgradeTicks++
		if s.upgradeTicks >= upgradeTime {
			s.upgradeLevel++
			s.upgrading = false
		}
	}

	if s.kind.Has(CapPalace) && s.charge < palaceChargeTime {
		s.charge++
	}

	if s.kind.Has(CapTurret) && NoObject != s.target {
		t := ctx.Objects.Get(s.target)
		if nil == t || s.pos.Distance(t.Position()) > info.weaponRng {
			s.target = NoObject
		} else {
			ctx.Damage(t, info.damage+ctx.Random.IntN(4))
		}
	}

	if len(s.delivery) > 0 {
		s.arrival--
		if s.arrival <= 0 {
			for _, k := range s.delivery {
				s.spawn(ctx, k)
			}
			s.delivery = nil
		}
	}

	if KindStarport != s.kind && s.kind.Has(CapBuild) {
		s.produce(ctx)
	}
}

func (s *Structure) produce(ctx *Context) {
	if s.onHold || s.upgrading || 0 == len(s.queue) || KindNone != s.readyItem {
		return
	}
	item := s.queue[0]
	if !s.paid {
		h := ctx.House(s.owner)
		if nil == h || !h.spend(item.Price()) {
			return
		}
		s.paid = true
	}
	s.progress++
	if s.progress < item.BuildTime() {
		return
	}
	if item.IsUnit() {
		s.spawn(ctx, item)
	} else {
		s.readyItem = item
	}
	s.queue = s.queue[1:]
	s.progress = 0
	s.paid = false
}

func inStock(k Kind) bool {
	for _, v := range starportStock {
		if v == k {
			return true
		}
	}
	return false
}

func removeLast(list []Kind, item Kind, n int) []Kind {
	for i := len(list) - 1; i >= 0 && n > 0; i-- {
		if list[i] == item {
			list = append(list[:i], list[i+1:]...)
			n--
		}
	}
	return list
}

func writeKinds(w *stream.Writer, list []Kind) {
	v := make([]uint32, len(list))
	for i, k := range list {
		v[i] = uint32(k)
	}
	w.WriteUint32Vector(v)
}

func readKinds(r *stream.Reader) []Kind {
	v := r.ReadUint32Vector()
	if 0 == len(v) {
		return nil
	}
	list := make([]Kind, len(v))
	for i, k := range v {
		list[i] = Kind(k)
	}
	return list
}

func (s *Structure) save(w *stream.Writer) {
	w.WriteUint8(uint8(s.owner))
	writeCoord(w, s.pos)
	w.WriteSint32(s.health)
	w.WriteBool(s.repairing)
	writeCoord(w, s.deployPos)
	writeKinds(w, s.queue)
	w.WriteSint32(s.progress)
	w.WriteBool(s.paid)
	w.WriteBool(s.onHold)
	w.WriteUint8(uint8(s.readyItem))
	w.WriteUint8(s.upgradeLevel)
	w.WriteBool(s.upgrading)
	w.WriteSint32(s.upgradeTicks)
	w.WriteSint32(s.charge)
	w.WriteUint32(uint32(s.target))
	writeKinds(w, s.cart)
	writeKinds(w, s.delivery)
	w.WriteSint32(s.arrival)
}

func (s *Structure) load(r *stream.Reader) {
	s.owner = HouseID(r.ReadUint8())
	s.pos = readCoord(r)
	s.health = r.ReadSint32()
	s.repairing = r.ReadBool()
	s.deployPos = readCoord(r)
	s.queue = readKinds(r)
	s.progress = r.ReadSint32()
	s.paid = r.ReadBool()
	s.onHold = r.ReadBool()
	s.readyItem = Kind(r.ReadUint8())
	s.upgradeLevel = r.ReadUint8()
	s.upgrading = r.ReadBool()
	s.upgradeTicks = r.ReadSint32()
	s.charge = r.ReadSint32()
	s.target = ObjectID(r.ReadUint32())
	s.cart = readKinds(r)
	s.delivery = readKinds(r)
	s.arrival = r.ReadSint32()
}
