package command

import (
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func coord(x, y uint32) sim.Coord {
	return sim.Coord{X: int32(x), Y: int32(y)}
}

// Builders for the call sites that issue commands.

func NewPlaceStructure(playerID uint8, builder sim.ObjectID, x, y int32) Command {
	return mustNew(playerID, PlaceStructure, uint32(builder), uint32(x), uint32(y))
}

func NewMove2Pos(playerID uint8, obj sim.ObjectID, x, y int32, forced bool) Command {
	return mustNew(playerID, UnitMove2Pos, uint32(obj), uint32(x), uint32(y), b2u(forced))
}

func NewMove2Object(playerID uint8, obj, target sim.ObjectID) Command {
	return mustNew(playerID, UnitMove2Object, uint32(obj), uint32(target))
}

func NewAttackPos(playerID uint8, obj sim.ObjectID, x, y int32, forced bool) Command {
	return mustNew(playerID, UnitAttackPos, uint32(obj), uint32(x), uint32(y), b2u(forced))
}

func NewAttackObject(playerID uint8, obj, target sim.ObjectID) Command {
	return mustNew(playerID, UnitAttackObject, uint32(obj), uint32(target))
}

func NewCapture(playerID uint8, obj, structure sim.ObjectID) Command {
	return mustNew(playerID, InfantryCapture, uint32(obj), uint32(structure))
}

func NewRequestCarryallDrop(playerID uint8, obj sim.ObjectID, x, y int32) Command {
	return mustNew(playerID, UnitRequestCarryallDrop, uint32(obj), uint32(x), uint32(y))
}

func NewSendToRepair(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, UnitSendToRepair, uint32(obj))
}

func NewSetMode(playerID uint8, obj sim.ObjectID, mode sim.AttackMode) Command {
	return mustNew(playerID, UnitSetMode, uint32(obj), uint32(mode))
}

func NewStartDevastate(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, DevastatorStartDevastate, uint32(obj))
}

func NewMCVDeploy(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, MCVDeploy, uint32(obj))
}

func NewHarvesterReturn(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, HarvesterReturn, uint32(obj))
}

func NewSetDeployPosition(playerID uint8, obj sim.ObjectID, x, y int32) Command {
	return mustNew(playerID, StructureSetDeployPosition, uint32(obj), uint32(x), uint32(y))
}

func NewStructureRepair(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, StructureRepair, uint32(obj))
}

func NewUpgrade(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, BuilderUpgrade, uint32(obj))
}

func NewProduceItem(playerID uint8, obj sim.ObjectID, item sim.Kind, multiple bool) Command {
	return mustNew(playerID, BuilderProduceItem, uint32(obj), uint32(item), b2u(multiple))
}

func NewCancelItem(playerID uint8, obj sim.ObjectID, item sim.Kind, multiple bool) Command {
	return mustNew(playerID, BuilderCancelItem, uint32(obj), uint32(item), b2u(multiple))
}

func NewSetOnHold(playerID uint8, obj sim.ObjectID, hold bool) Command {
	return mustNew(playerID, BuilderSetOnHold, uint32(obj), b2u(hold))
}

func NewSpecialWeapon(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, PalaceSpecialWeapon, uint32(obj))
}

func NewDeathhand(playerID uint8, obj sim.ObjectID, x, y int32) Command {
	return mustNew(playerID, PalaceDeathhand, uint32(obj), uint32(x), uint32(y))
}

func NewPlaceOrder(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, StarportPlaceOrder, uint32(obj))
}

func NewCancelOrder(playerID uint8, obj sim.ObjectID) Command {
	return mustNew(playerID, StarportCancelOrder, uint32(obj))
}

func NewTurretAttack(playerID uint8, obj, target sim.ObjectID) Command {
	return mustNew(playerID, TurretAttackObject, uint32(obj), uint32(target))
}

// NewTestSync carries a seed snapshot other peers compare against their own.
func NewTestSync(playerID uint8, seed uint32) Command {
	return mustNew(playerID, TestSync, seed)
}

// SyncLag is how many cycles before its execution cycle a test-sync
// snapshot was taken. It must exceed the largest network cycle buffer so
// the issuer already knows the seed when it submits.
const SyncLag = 64

// Execute applies the command to ctx. Opcode and parameter count errors are
// returned; targets that no longer exist, lack the needed capability or
// belong to another house are skipped silently.
func (c Command) Execute(ctx *sim.Context) error {
	if err := Validate(c.id, c.params); nil != err {
		return err
	}
	p := c.params

	if TestSync == c.id {
		c.testSync(ctx, p[0])
		return nil
	}

	house, ok := ctx.HouseOfPlayer(c.playerID)
	if !ok {
		l4g.Debug("[command] %s from unknown player %d ignored", c, c.playerID)
		return nil
	}
	om := ctx.Objects
	obj := sim.ObjectID(p[0])

	switch c.id {
	case PlaceStructure:
		if o, ok := owned[sim.StructurePlacer](om, obj, sim.CapPlace, house); ok {
			o.DoPlaceStructure(ctx, coord(p[1], p[2]))
		}
	case UnitMove2Pos:
		if o, ok := owned[sim.Movable](om, obj, sim.CapMove, house); ok {
			o.DoMove2Pos(coord(p[1], p[2]), 0 != p[3])
		}
	case UnitMove2Object:
		o, ok := owned[sim.Movable](om, obj, sim.CapMove, house)
		t := om.Get(sim.ObjectID(p[1]))
		if ok && nil != t {
			o.DoMove2Object(t)
		}
	case UnitAttackPos:
		if o, ok := owned[sim.Attacker](om, obj, sim.CapAttack, house); ok {
			o.DoAttackPos(coord(p[1], p[2]), 0 != p[3])
		}
	case UnitAttackObject:
		o, ok := owned[sim.Attacker](om, obj, sim.CapAttack, house)
		t := om.Get(sim.ObjectID(p[1]))
		if ok && nil != t {
			o.DoAttackObject(t, false)
		}
	case InfantryCapture:
		o, ok := owned[sim.Capturer](om, obj, sim.CapCapture, house)
		s, isStructure := om.Get(sim.ObjectID(p[1])).(*sim.Structure)
		if ok && isStructure {
			o.DoCaptureStructure(s)
		}
	case UnitRequestCarryallDrop:
		if o, ok := owned[sim.CarryallRequester](om, obj, sim.CapCarryallDrop, house); ok {
			o.DoRequestCarryallDrop(coord(p[1], p[2]))
		}
	case UnitSendToRepair:
		if o, ok := owned[sim.RepairSender](om, obj, sim.CapSendToRepair, house); ok {
			o.DoSendToRepair(ctx)
		}
	case UnitSetMode:
		if o, ok := owned[sim.Attacker](om, obj, sim.CapAttack, house); ok {
			o.DoSetAttackMode(sim.AttackMode(p[1]))
		}
	case DevastatorStartDevastate:
		if o, ok := owned[sim.DevastateStarter](om, obj, sim.CapDevastate, house); ok {
			o.DoStartDevastate()
		}
	case MCVDeploy:
		if o, ok := owned[sim.Deployer](om, obj, sim.CapDeploy, house); ok {
			o.DoDeploy(ctx)
		}
	case HarvesterReturn:
		if o, ok := owned[sim.HarvesterReturner](om, obj, sim.CapHarvest, house); ok {
			o.DoReturn(ctx)
		}
	case StructureSetDeployPosition:
		if o, ok := owned[sim.DeployPositioner](om, obj, sim.CapDeployPosition, house); ok {
			o.DoSetDeployPosition(coord(p[1], p[2]))
		}
	case StructureRepair:
		if o, ok := owned[sim.Repairable](om, obj, sim.CapRepair, house); ok {
			o.DoRepair()
		}
	case BuilderUpgrade:
		if o, ok := owned[sim.Builder](om, obj, sim.CapBuild, house); ok {
			o.DoUpgrade(ctx)
		}
	case BuilderProduceItem:
		if o, ok := owned[sim.Builder](om, obj, sim.CapBuild, house); ok {
			o.DoProduceItem(sim.Kind(p[1]), 0 != p[2])
		}
	case BuilderCancelItem:
		if o, ok := owned[sim.Builder](om, obj, sim.CapBuild, house); ok {
			o.DoCancelItem(ctx, sim.Kind(p[1]), 0 != p[2])
		}
	case BuilderSetOnHold:
		if o, ok := owned[sim.Builder](om, obj, sim.CapBuild, house); ok {
			o.DoSetOnHold(0 != p[1])
		}
	case PalaceSpecialWeapon:
		if o, ok := owned[sim.PalaceWeapon](om, obj, sim.CapPalace, house); ok {
			o.DoSpecialWeapon(ctx)
		}
	case PalaceDeathhand:
		if o, ok := owned[sim.PalaceWeapon](om, obj, sim.CapPalace, house); ok {
			o.DoLaunchDeathhand(ctx, coord(p[1], p[2]))
		}
	case StarportPlaceOrder:
		if o, ok := owned[sim.StarportOrderer](om, obj, sim.CapStarport, house); ok {
			o.DoPlaceOrder(ctx)
		}
	case StarportCancelOrder:
		if o, ok := owned[sim.StarportOrderer](om, obj, sim.CapStarport, house); ok {
			o.DoCancelOrder(ctx)
		}
	case TurretAttackObject:
		o, ok := owned[sim.TurretAttacker](om, obj, sim.CapTurret, house)
		t := om.Get(sim.ObjectID(p[1]))
		if ok && nil != t {
			o.DoTurretAttackObject(t)
		}
	default:
		return errors.Wrapf(ErrInvalidArgument, "no handler for %s", c.id)
	}
	return nil
}

// owned resolves id to capability T and checks it belongs to house.
func owned[T sim.Object](om *sim.ObjectManager, id sim.ObjectID, c sim.Capability, house sim.HouseID) (T, bool) {
	o, ok := sim.Lookup[T](om, id, c)
	if !ok || o.Owner() != house {
		var zero T
		return zero, false
	}
	return o, true
}

func (c Command) testSync(ctx *sim.Context, want uint32) {
	if ctx.Cycle < SyncLag {
		return
	}
	got, ok := ctx.SeedAt(ctx.Cycle - SyncLag)
	if !ok {
		// history does not reach back that far, e.g. right after a load
		return
	}
	if got != want {
		l4g.Warn("[command] desync at cycle %d: player %d reported seed %08x, local %08x", ctx.Cycle, c.playerID, want, got)
		ctx.ReportDesync(want, got)
	}
}
