package game

import (
	"github.com/dunelegacy/dunelockstep/logic/sim"
)

// Player is one occupied slot of a running game.
type Player struct {
	name     string
	id       uint8
	house    sim.HouseID
	isLocal  bool
	isOnline bool
	leftAt   uint32 // cycle the peer dropped out at
}

func NewPlayer(name string, id uint8, house sim.HouseID, local bool) *Player {
	return &Player{
		name:     name,
		id:       id,
		house:    house,
		isLocal:  local,
		isOnline: true,
	}
}

func (p *Player) Name() string           { return p.name }
func (p *Player) ID() uint8              { return p.id }
func (p *Player) House() sim.HouseID     { return p.house }
func (p *Player) IsLocal() bool          { return p.isLocal }
func (p *Player) IsOnline() bool         { return p.isOnline }
func (p *Player) LeftAt() (uint32, bool) { return p.leftAt, !p.isOnline }

// Leave marks the player gone from cycle on.
func (p *Player) Leave(cycle uint32) {
	if !p.isOnline {
		return
	}
	p.isOnline = false
	p.leftAt = cycle
}

func newPlayers(s *InitSettings, local string) map[string]*Player {
	players := make(map[string]*Player)
	for i, h := range s.Houses {
		if "" == h.Player {
			continue
		}
		players[h.Player] = NewPlayer(h.Player, uint8(i+1), h.House, h.Player == local)
	}
	return players
}
