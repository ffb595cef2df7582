package session

import (
	"strconv"
	"testing"
	"time"

	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/lockstep"
	"github.com/dunelegacy/dunelockstep/pkg/network"
	"github.com/dunelegacy/dunelockstep/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type disconnectNote struct {
	name  string
	host  bool
	cause Cause
}

type testPeer struct {
	*NetworkManager
	gone  []disconnectNote
	chats []string
	info  []byte
}

func newTestPeer(mem *network.MemoryNetwork, ip, name string, tweak func(*Config)) *testPeer {
	cfg := DefaultConfig(name)
	cfg.ListenAddr = ":0"
	cfg.AwaitingTimeout = 2 * time.Second
	if nil != tweak {
		tweak(&cfg)
	}
	p := &testPeer{NetworkManager: NewNetworkManager(cfg, mem.Transport(ip))}
	p.OnPeerDisconnected = func(name string, host bool, cause Cause) {
		p.gone = append(p.gone, disconnectNote{name, host, cause})
	}
	p.OnReceiveChat = func(name, text string) {
		p.chats = append(p.chats, name+": "+text)
	}
	p.OnGameInfo = func(settings, events []byte) {
		p.info = settings
	}
	return p
}

// pump drives every manager until cond holds.
func pump(t *testing.T, peers []*testPeer, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		now := time.Now()
		for _, p := range peers {
			p.Update(now)
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func connectedCount(n int, peers ...*testPeer) func() bool {
	return func() bool {
		for _, p := range peers {
			if len(p.ConnectedPeers()) != n {
				return false
			}
		}
		return true
	}
}

func hostWithJoiners(t *testing.T, mem *network.MemoryNetwork, names ...string) []*testPeer {
	host := newTestPeer(mem, "10.0.0.1", names[0], nil)
	host.GetGameInfo = func() ([]byte, []byte) { return []byte("settings"), nil }
	require.NoError(t, host.Host())
	peers := []*testPeer{host}

	for i, name := range names[1:] {
		j := newTestPeer(mem, "10.0.0."+strconv.Itoa(2+i), name, nil)
		require.NoError(t, j.Connect(host.ListenAddr(), time.Now()))
		peers = append(peers, j)
		pump(t, peers, connectedCount(len(peers)-1, peers...))
	}
	return peers
}

func closeAll(peers []*testPeer) {
	for _, p := range peers {
		p.Disconnect()
	}
}

func TestMesh_Admission(t *testing.T) {
	mem := network.NewMemoryNetwork()
	peers := hostWithJoiners(t, mem, "alice", "bob", "carol")
	defer closeAll(peers)

	assert.Equal(t, []string{"bob", "carol"}, peers[0].ConnectedPeers())
	assert.Equal(t, []string{"alice", "carol"}, peers[1].ConnectedPeers())
	assert.Equal(t, []string{"alice", "bob"}, peers[2].ConnectedPeers())

	assert.Equal(t, []byte("settings"), peers[1].info)
	assert.Equal(t, []byte("settings"), peers[2].info)
	assert.True(t, peers[0].IsHost())
	assert.False(t, peers[2].IsHost())
	for _, p := range peers {
		assert.Equal(t, "alice", p.HostName(), p.Name())
	}
}

func TestMesh_NameCollision(t *testing.T) {
	mem := network.NewMemoryNetwork()
	host := newTestPeer(mem, "10.0.0.1", "alice", nil)
	require.NoError(t, host.Host())
	dup := newTestPeer(mem, "10.0.0.2", "alice", nil)
	require.NoError(t, dup.Connect(host.ListenAddr(), time.Now()))
	peers := []*testPeer{host, dup}
	defer closeAll(peers)

	pump(t, peers, func() bool { return len(dup.gone) > 0 })
	assert.Equal(t, disconnectNote{"alice", true, CausePlayerExists}, dup.gone[0])
	assert.Empty(t, host.ConnectedPeers())
}

func TestMesh_DisconnectPropagates(t *testing.T) {
	mem := network.NewMemoryNetwork()
	peers := hostWithJoiners(t, mem, "alice", "bob", "carol")
	defer closeAll(peers)

	peers[2].Disconnect()
	rest := peers[:2]
	pump(t, rest, connectedCount(1, rest...))

	for _, p := range rest {
		require.Len(t, p.gone, 1)
		assert.Equal(t, "carol", p.gone[0].name)
		assert.Equal(t, CauseNormal, p.gone[0].cause)
	}
}

func TestMesh_CommandListsAndDoubleSubmission(t *testing.T) {
	mem := network.NewMemoryNetwork()
	host := newTestPeer(mem, "10.0.0.1", "alice", func(c *Config) { c.MaxViolations = 1 })
	require.NoError(t, host.Host())
	bob := newTestPeer(mem, "10.0.0.2", "bob", nil)
	require.NoError(t, bob.Connect(host.ListenAddr(), time.Now()))
	peers := []*testPeer{host, bob}
	defer closeAll(peers)
	pump(t, peers, connectedCount(1, peers...))

	log := lockstep.NewManager("alice", 1, 0)
	log.AddPeer("bob", 0)
	host.OnReceiveCommandList = log.AddCommandList

	list := command.List{command.NewSendToRepair(2, 7)}
	bob.SendCommandList(0, list)
	pump(t, peers, func() bool {
		next, _ := log.NextExpectedCycle("bob")
		return 1 == next
	})
	assert.True(t, list.Equal(log.Log(0)["bob"]))

	bob.SendCommandList(0, list)
	pump(t, peers, func() bool { return len(bob.gone) > 0 })
	assert.Equal(t, disconnectNote{"alice", true, CauseProtocolError}, bob.gone[0])
	assert.Empty(t, host.ConnectedPeers())
}

func TestMesh_ChatRateLimit(t *testing.T) {
	mem := network.NewMemoryNetwork()
	host := newTestPeer(mem, "10.0.0.1", "alice", func(c *Config) {
		c.ChatRate = 0
		c.ChatBurst = 2
	})
	require.NoError(t, host.Host())
	bob := newTestPeer(mem, "10.0.0.2", "bob", nil)
	require.NoError(t, bob.Connect(host.ListenAddr(), time.Now()))
	peers := []*testPeer{host, bob}
	defer closeAll(peers)
	pump(t, peers, connectedCount(1, peers...))

	var selected []uint32
	host.OnReceiveSelectionList = func(name string, group int32, ids []uint32) {
		selected = ids
	}
	for i := 0; i < 5; i++ {
		bob.SendChatMessage("hi")
	}
	bob.SendSelectedList(1, []uint32{3, 4})
	pump(t, peers, func() bool { return nil != selected })

	assert.Equal(t, []string{"bob: hi", "bob: hi"}, host.chats)
	assert.Equal(t, []uint32{3, 4}, selected)
}

func TestMesh_StartGameClosesAdmission(t *testing.T) {
	mem := network.NewMemoryNetwork()
	peers := hostWithJoiners(t, mem, "alice", "bob")
	defer closeAll(peers)

	var left time.Duration
	peers[1].OnStartGame = func(timeLeft time.Duration) { left = timeLeft }
	require.NoError(t, peers[0].SendStartGame(1500*time.Millisecond))
	assert.Error(t, peers[1].SendStartGame(time.Second))
	pump(t, peers, func() bool { return 0 != left })
	assert.Equal(t, 1500*time.Millisecond, left)

	late := newTestPeer(mem, "10.0.0.9", "dave", nil)
	require.NoError(t, late.Connect(peers[0].ListenAddr(), time.Now()))
	all := append(peers, late)
	defer late.Disconnect()
	pump(t, all, func() bool { return len(late.gone) > 0 })
	assert.Equal(t, CauseGameFull, late.gone[0].cause)
}

func TestMesh_AwaitingTimeout(t *testing.T) {
	mem := network.NewMemoryNetwork()
	host := newTestPeer(mem, "10.0.0.1", "alice", func(c *Config) { c.AwaitingTimeout = 50 * time.Millisecond })
	require.NoError(t, host.Host())
	defer host.Disconnect()

	raw, err := mem.Transport("10.0.0.5").Dial(host.ListenAddr(), time.Second)
	require.NoError(t, err)
	defer raw.Close()

	got := make(chan *packet.Packet, 4)
	go func() {
		proto := &packet.MsgProtocol{}
		for {
			p, err := proto.ReadPacket(raw)
			if nil != err {
				close(got)
				return
			}
			got <- p.(*packet.Packet)
		}
	}()

	var ids []uint32
	var cause Cause
	pump(t, []*testPeer{host}, func() bool {
		select {
		case p, ok := <-got:
			if !ok {
				return true
			}
			ids = append(ids, p.GetMessageID())
			if PacketDisconnect == p.GetMessageID() {
				r := p.Reader()
				readAddr(r)
				cause = Cause(r.ReadUint32())
				return true
			}
		default:
		}
		return false
	})
	assert.Equal(t, []uint32{PacketSendName, PacketDisconnect}, ids)
	assert.Equal(t, CauseTimeout, cause)
}
