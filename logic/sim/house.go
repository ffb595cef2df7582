package sim

import "github.com/dunelegacy/dunelockstep/pkg/stream"

// HouseID identifies a faction.
type HouseID uint8

const (
	HouseHarkonnen HouseID = iota
	HouseAtreides
	HouseOrdos
	HouseFremen
	HouseSardaukar
	HouseMercenary

	NumHouses
	HouseNone HouseID = 0xFF
)

var houseNames = [NumHouses]string{"Harkonnen", "Atreides", "Ordos", "Fremen", "Sardaukar", "Mercenary"}

func (h HouseID) String() string {
	if h < NumHouses {
		return houseNames[h]
	}
	return "none"
}

// House is the per faction economy and weapon state.
type House struct {
	ID      HouseID
	Credits int32
	Team    uint8
}

func (h *House) spend(amount int32) bool {
	if h.Credits < amount {
		return false
	}
	h.Credits -= amount
	return true
}

func (h *House) save(w *stream.Writer) {
	w.WriteUint8(uint8(h.ID))
	w.WriteSint32(h.Credits)
	w.WriteUint8(h.Team)
}

func (h *House) load(r *stream.Reader) {
	h.ID = HouseID(r.ReadUint8())
	h.Credits = r.ReadSint32()
	h.Team = r.ReadUint8()
}
