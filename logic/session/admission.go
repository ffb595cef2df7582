package session

// EventKind is an input to the admission state machine.
type EventKind int

const (
	// EventAccepted: an inbound link came up.
	EventAccepted EventKind = iota
	// EventDialed: an outbound link came up.
	EventDialed
	// EventName: the remote sent SENDNAME.
	EventName
	// EventPromote: the link heads the host's awaiting queue.
	EventPromote
	// EventPeersConnected: every connected peer reported a link to it.
	EventPeersConnected
	// EventAdmitted: the host confirmed admission (game info or
	// PEER_CONNECTED).
	EventAdmitted
	EventTimeout
	EventDisconnect
)

// Event carries the facts the transition depends on. The caller computes
// them; Transition itself never looks at sockets or peer tables.
type Event struct {
	Kind EventKind

	Host          bool // local peer is the game host
	NameTaken     bool // EventName
	Full          bool // EventPromote
	HaveConnected bool // EventPromote: connected peers exist besides the host
	Cause         Cause
}

// EffectKind is an action the caller must carry out.
type EffectKind int

const (
	// EffectSendName: send SENDNAME on the link.
	EffectSendName EffectKind = iota
	// EffectDisconnect: send DISCONNECT with Cause and close the link.
	EffectDisconnect
	// EffectRequestConnect: tell every connected peer to connect to the
	// link's peer.
	EffectRequestConnect
	// EffectAdmit: broadcast PEER_CONNECTED and send the game info.
	EffectAdmit
	// EffectBroadcastDisconnect: tell every connected peer the link's peer
	// is gone.
	EffectBroadcastDisconnect
	// EffectViolation: the event is not valid in this state.
	EffectViolation
)

type Effect struct {
	Kind  EffectKind
	Cause Cause
}

// Transition is the admission state machine.
func Transition(s PeerState, ev Event) (PeerState, []Effect) {
	if StateDisconnected == s {
		return s, nil
	}

	switch ev.Kind {
	case EventDisconnect:
		return StateDisconnected, []Effect{{Kind: EffectBroadcastDisconnect, Cause: ev.Cause}}

	case EventTimeout:
		if !s.Awaiting() {
			return s, nil
		}
		return StateDisconnected, []Effect{
			{Kind: EffectDisconnect, Cause: CauseTimeout},
			{Kind: EffectBroadcastDisconnect, Cause: CauseTimeout},
		}
	}

	switch s {
	case StateNone:
		if EventAccepted == ev.Kind {
			return StateWaitingForName, []Effect{{Kind: EffectSendName}}
		}

	case StateWaitingForConnect:
		if EventDialed == ev.Kind {
			return StateWaitingForOtherPeersToConnect, []Effect{{Kind: EffectSendName}}
		}

	case StateWaitingForName:
		if EventName == ev.Kind {
			if ev.NameTaken {
				return StateDisconnected, []Effect{{Kind: EffectDisconnect, Cause: CausePlayerExists}}
			}
			if ev.Host {
				return StateReadyForOtherPeersToConnect, nil
			}
			return StateWaitingForOtherPeersToConnect, nil
		}

	case StateReadyForOtherPeersToConnect:
		if EventPromote == ev.Kind {
			switch {
			case ev.Full:
				return StateDisconnected, []Effect{{Kind: EffectDisconnect, Cause: CauseGameFull}}
			case ev.HaveConnected:
				return StateWaitingForOtherPeersToConnect, []Effect{{Kind: EffectRequestConnect}}
			default:
				return StateConnected, []Effect{{Kind: EffectAdmit}}
			}
		}

	case StateWaitingForOtherPeersToConnect:
		switch ev.Kind {
		case EventName:
			// the remote of an outbound link introducing itself
			if ev.NameTaken {
				return StateDisconnected, []Effect{{Kind: EffectDisconnect, Cause: CausePlayerExists}}
			}
			return s, nil
		case EventPeersConnected:
			if ev.Host {
				return StateConnected, []Effect{{Kind: EffectAdmit}}
			}
		case EventAdmitted:
			return StateConnected, nil
		}
	}

	return s, []Effect{{Kind: EffectViolation}}
}
