// Package discovery advertises hosted games and finds games hosted by
// others, either by LAN broadcast or through a meta server.
package discovery

import (
	"sort"
	"time"
)

// GameInfo describes one advertised game.
type GameInfo struct {
	Name       string    `json:"name"`
	Addr       string    `json:"addr"`
	Version    string    `json:"version"`
	NumPlayers int       `json:"numPlayers"`
	MaxPlayers int       `json:"maxPlayers"`
	Started    bool      `json:"started"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Announcer keeps a hosted game visible until Stop.
type Announcer interface {
	Start(info GameInfo) error
	Update(info GameInfo)
	Stop()
}

// Finder collects games announced by others.
type Finder interface {
	Refresh() error
	Games() []GameInfo
}

func sortGames(games []GameInfo) {
	sort.Slice(games, func(i, j int) bool {
		if games[i].Name != games[j].Name {
			return games[i].Name < games[j].Name
		}
		return games[i].Addr < games[j].Addr
	})
}
