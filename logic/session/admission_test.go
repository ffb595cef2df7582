package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    PeerState
		ev      Event
		to      PeerState
		effects []EffectKind
	}{
		{"accepted", StateNone, Event{Kind: EventAccepted}, StateWaitingForName, []EffectKind{EffectSendName}},
		{"dialed", StateWaitingForConnect, Event{Kind: EventDialed}, StateWaitingForOtherPeersToConnect, []EffectKind{EffectSendName}},
		{"name at host", StateWaitingForName, Event{Kind: EventName, Host: true}, StateReadyForOtherPeersToConnect, nil},
		{"name at peer", StateWaitingForName, Event{Kind: EventName}, StateWaitingForOtherPeersToConnect, nil},
		{"name taken", StateWaitingForName, Event{Kind: EventName, Host: true, NameTaken: true}, StateDisconnected, []EffectKind{EffectDisconnect}},
		{"outbound name", StateWaitingForOtherPeersToConnect, Event{Kind: EventName}, StateWaitingForOtherPeersToConnect, nil},
		{"promote alone", StateReadyForOtherPeersToConnect, Event{Kind: EventPromote, Host: true}, StateConnected, []EffectKind{EffectAdmit}},
		{"promote with peers", StateReadyForOtherPeersToConnect, Event{Kind: EventPromote, Host: true, HaveConnected: true}, StateWaitingForOtherPeersToConnect, []EffectKind{EffectRequestConnect}},
		{"promote full", StateReadyForOtherPeersToConnect, Event{Kind: EventPromote, Host: true, Full: true, HaveConnected: true}, StateDisconnected, []EffectKind{EffectDisconnect}},
		{"peers connected", StateWaitingForOtherPeersToConnect, Event{Kind: EventPeersConnected, Host: true}, StateConnected, []EffectKind{EffectAdmit}},
		{"peers connected not host", StateWaitingForOtherPeersToConnect, Event{Kind: EventPeersConnected}, StateWaitingForOtherPeersToConnect, []EffectKind{EffectViolation}},
		{"admitted", StateWaitingForOtherPeersToConnect, Event{Kind: EventAdmitted}, StateConnected, nil},
		{"timeout awaiting", StateWaitingForName, Event{Kind: EventTimeout}, StateDisconnected, []EffectKind{EffectDisconnect, EffectBroadcastDisconnect}},
		{"timeout connected", StateConnected, Event{Kind: EventTimeout}, StateConnected, nil},
		{"disconnect", StateConnected, Event{Kind: EventDisconnect, Cause: CauseNormal}, StateDisconnected, []EffectKind{EffectBroadcastDisconnect}},
		{"disconnected is final", StateDisconnected, Event{Kind: EventAccepted}, StateDisconnected, nil},
		{"name when connected", StateConnected, Event{Kind: EventName}, StateConnected, []EffectKind{EffectViolation}},
		{"admitted before name", StateWaitingForName, Event{Kind: EventAdmitted}, StateWaitingForName, []EffectKind{EffectViolation}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, effects := Transition(tt.from, tt.ev)
			assert.Equal(t, tt.to, to)
			var kinds []EffectKind
			for _, e := range effects {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(t, tt.effects, kinds)
		})
	}
}

func TestTransition_Causes(t *testing.T) {
	_, effects := Transition(StateWaitingForName, Event{Kind: EventName, NameTaken: true})
	assert.Equal(t, CausePlayerExists, effects[0].Cause)

	_, effects = Transition(StateReadyForOtherPeersToConnect, Event{Kind: EventPromote, Full: true})
	assert.Equal(t, CauseGameFull, effects[0].Cause)

	_, effects = Transition(StateWaitingForOtherPeersToConnect, Event{Kind: EventTimeout})
	assert.Equal(t, CauseTimeout, effects[0].Cause)
	assert.Equal(t, CauseTimeout, effects[1].Cause)
}

func TestPeerState_Awaiting(t *testing.T) {
	assert.False(t, StateNone.Awaiting())
	assert.True(t, StateWaitingForConnect.Awaiting())
	assert.True(t, StateReadyForOtherPeersToConnect.Awaiting())
	assert.False(t, StateConnected.Awaiting())
	assert.False(t, StateDisconnected.Awaiting())
}
