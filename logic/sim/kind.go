package sim

// Kind is the type tag of a simulation object.
type Kind uint8

const (
	KindNone Kind = iota

	// units
	KindSoldier
	KindTrooper
	KindTrike
	KindQuad
	KindTank
	KindSiegeTank
	KindLauncher
	KindDevastator
	KindHarvester
	KindMCV
	KindCarryall

	// structures
	KindConstructionYard
	KindWindTrap
	KindRefinery
	KindSilo
	KindBarracks
	KindLightFactory
	KindHeavyFactory
	KindHighTechFactory
	KindRepairYard
	KindRadar
	KindPalace
	KindStarport
	KindGunTurret
	KindRocketTurret

	NumKinds
)

// Capability is a behaviour family an object kind supports.
type Capability uint32

const (
	CapMove Capability = 1 << iota
	CapAttack
	CapCapture
	CapCarryallDrop
	CapSendToRepair
	CapDevastate
	CapDeploy
	CapHarvest
	CapRepair
	CapBuild
	CapPlace
	CapDeployPosition
	CapPalace
	CapStarport
	CapTurret
)

const (
	groundUnit   = CapMove | CapCarryallDrop | CapSendToRepair
	combatUnit   = groundUnit | CapAttack
	infantryUnit = CapMove | CapAttack | CapCapture
	factory      = CapRepair | CapBuild | CapDeployPosition
)

type kindInfo struct {
	name      string
	unit      bool
	caps      Capability
	health    int32
	damage    int32
	weaponRng int32
	price     int32
	buildTime int32 // cycles
}

var kinds = [NumKinds]kindInfo{
	KindNone:             {name: "none"},
	KindSoldier:          {name: "Soldier", unit: true, caps: infantryUnit, health: 20, damage: 2, weaponRng: 2, price: 60, buildTime: 20},
	KindTrooper:          {name: "Trooper", unit: true, caps: infantryUnit, health: 45, damage: 4, weaponRng: 3, price: 100, buildTime: 30},
	KindTrike:            {name: "Trike", unit: true, caps: combatUnit, health: 100, damage: 3, weaponRng: 3, price: 150, buildTime: 25},
	KindQuad:             {name: "Quad", unit: true, caps: combatUnit, health: 130, damage: 4, weaponRng: 3, price: 200, buildTime: 30},
	KindTank:             {name: "Tank", unit: true, caps: combatUnit, health: 200, damage: 6, weaponRng: 4, price: 300, buildTime: 40},
	KindSiegeTank:        {name: "SiegeTank", unit: true, caps: combatUnit, health: 300, damage: 9, weaponRng: 5, price: 600, buildTime: 60},
	KindLauncher:         {name: "Launcher", unit: true, caps: combatUnit, health: 100, damage: 12, weaponRng: 8, price: 450, buildTime: 50},
	KindDevastator:       {name: "Devastator", unit: true, caps: combatUnit | CapDevastate, health: 400, damage: 10, weaponRng: 5, price: 800, buildTime: 80},
	KindHarvester:        {name: "Harvester", unit: true, caps: groundUnit | CapHarvest, health: 150, price: 300, buildTime: 45},
	KindMCV:              {name: "MCV", unit: true, caps: groundUnit | CapDeploy, health: 150, price: 900, buildTime: 80},
	KindCarryall:         {name: "Carryall", unit: true, caps: CapMove, health: 100, price: 800, buildTime: 60},
	KindConstructionYard: {name: "ConstructionYard", caps: CapRepair | CapBuild | CapPlace, health: 400, price: 900, buildTime: 80},
	KindWindTrap:         {name: "WindTrap", caps: CapRepair, health: 200, price: 300, buildTime: 30},
	KindRefinery:         {name: "Refinery", caps: CapRepair, health: 450, price: 400, buildTime: 40},
	KindSilo:             {name: "Silo", caps: CapRepair, health: 150, price: 150, buildTime: 20},
	KindBarracks:         {name: "Barracks", caps: factory, health: 300, price: 300, buildTime: 30},
	KindLightFactory:     {name: "LightFactory", caps: factory, health: 350, price: 400, buildTime: 35},
	KindHeavyFactory:     {name: "HeavyFactory", caps: factory, health: 400, price: 600, buildTime: 50},
	KindHighTechFactory:  {name: "HighTechFactory", caps: factory, health: 400, price: 500, buildTime: 50},
	KindRepairYard:       {name: "RepairYard", caps: CapRepair | CapDeployPosition, health: 400, price: 700, buildTime: 50},
	KindRadar:            {name: "Radar", caps: CapRepair, health: 400, price: 400, buildTime: 40},
	KindPalace:           {name: "Palace", caps: CapRepair | CapPalace, health: 800, price: 999, buildTime: 90},
	KindStarport:         {name: "Starport", caps: CapRepair | CapBuild | CapStarport | CapDeployPosition, health: 500, price: 500, buildTime: 60},
	KindGunTurret:        {name: "GunTurret", caps: CapRepair | CapTurret, health: 250, damage: 6, weaponRng: 5, price: 125, buildTime: 25},
	KindRocketTurret:     {name: "RocketTurret", caps: CapRepair | CapTurret, health: 300, damage: 10, weaponRng: 8, price: 250, buildTime: 35},
}

// producers lists what each builder kind can produce.
var producers = map[Kind][]Kind{
	KindConstructionYard: {KindWindTrap, KindRefinery, KindSilo, KindBarracks, KindLightFactory, KindHeavyFactory,
		KindHighTechFactory, KindRepairYard, KindRadar, KindPalace, KindStarport, KindGunTurret, KindRocketTurret},
	KindBarracks:        {KindSoldier, KindTrooper},
	KindLightFactory:    {KindTrike, KindQuad},
	KindHeavyFactory:    {KindTank, KindSiegeTank, KindLauncher, KindDevastator, KindHarvester, KindMCV},
	KindHighTechFactory: {KindCarryall},
}

// starportStock is what a starport can order.
var starportStock = []Kind{KindTrike, KindQuad, KindTank, KindSiegeTank, KindLauncher, KindHarvester, KindMCV, KindCarryall}

func (k Kind) Valid() bool {
	return k > KindNone && k < NumKinds
}

func (k Kind) String() string {
	if k >= NumKinds {
		return "invalid"
	}
	return kinds[k].name
}

func (k Kind) IsUnit() bool {
	return k.Valid() && kinds[k].unit
}

func (k Kind) IsStructure() bool {
	return k.Valid() && !kinds[k].unit
}

// Has reports whether objects of this kind support c.
func (k Kind) Has(c Capability) bool {
	return k.Valid() && kinds[k].caps&c == c
}

func (k Kind) Price() int32 {
	if !k.Valid() {
		return 0
	}
	return kinds[k].price
}

func (k Kind) BuildTime() int32 {
	if !k.Valid() {
		return 0
	}
	return kinds[k].buildTime
}

// CanProduce reports whether builder kind k can produce item.
func (k Kind) CanProduce(item Kind) bool {
	for _, v := range producers[k] {
		if v == item {
			return true
		}
	}
	return false
}
