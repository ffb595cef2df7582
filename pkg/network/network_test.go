package network_test

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunelegacy/dunelockstep/pkg/network"
	"github.com/dunelegacy/dunelockstep/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCallback struct {
	numConn   uint32
	numMsg    uint32
	numDiscon uint32

	mu      sync.Mutex
	remotes []string
	echo    bool
}

func (t *testCallback) OnMessage(conn *network.Conn, msg network.Packet) bool {
	atomic.AddUint32(&t.numMsg, 1)
	if t.echo {
		conn.AsyncWritePacket(packet.NewPacket(2, []byte("pong")), time.Second)
	}
	return true
}

func (t *testCallback) OnConnect(conn *network.Conn) bool {
	atomic.AddUint32(&t.numConn, 1)
	t.mu.Lock()
	t.remotes = append(t.remotes, conn.RemoteAddr().String())
	t.mu.Unlock()
	return true
}

func (t *testCallback) OnClose(conn *network.Conn) {
	atomic.AddUint32(&t.numDiscon, 1)
}

var config = &network.Config{
	PacketReceiveChanLimit: 64,
	PacketSendChanLimit:    64,
}

func TestMemoryTransport_Echo(t *testing.T) {
	mem := network.NewMemoryNetwork()
	l, err := mem.Transport("10.0.0.1").Listen(":7000")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7000", l.Addr().String())

	serverCb := &testCallback{echo: true}
	server := network.NewServer(config, serverCb, &packet.MsgProtocol{})
	go server.Start(l)

	clientCb := &testCallback{}
	client := network.NewServer(config, clientCb, &packet.MsgProtocol{})

	const maxConn = 10
	for i := 0; i < maxConn; i++ {
		c, err := mem.Transport("10.0.0.2").Dial("10.0.0.1:7000", time.Second)
		require.NoError(t, err)
		conn := client.Connect(c, i)
		require.NoError(t, conn.AsyncWritePacket(packet.NewPacket(1, []byte("ping")), time.Second))
	}

	require.Eventually(t, func() bool {
		return maxConn == atomic.LoadUint32(&clientCb.numMsg)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(maxConn), atomic.LoadUint32(&serverCb.numConn))
	assert.Equal(t, uint32(maxConn), atomic.LoadUint32(&serverCb.numMsg))

	serverCb.mu.Lock()
	host, _, err := net.SplitHostPort(serverCb.remotes[0])
	serverCb.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", host)

	client.Stop()
	require.Eventually(t, func() bool {
		return maxConn == atomic.LoadUint32(&serverCb.numDiscon)
	}, 2*time.Second, 5*time.Millisecond)
	server.Stop()
	assert.Equal(t, uint32(maxConn), atomic.LoadUint32(&clientCb.numDiscon))
}

func TestMemoryTransport_Refused(t *testing.T) {
	mem := network.NewMemoryNetwork()
	_, err := mem.Transport("10.0.0.2").Dial("10.0.0.1:7000", 10*time.Millisecond)
	assert.ErrorIs(t, err, network.ErrNoListener)

	l, err := mem.Transport("10.0.0.1").Listen("10.0.0.1:7000")
	require.NoError(t, err)
	_, err = mem.Transport("10.0.0.1").Listen("10.0.0.1:7000")
	assert.Error(t, err)
	l.Close()
	_, err = mem.Transport("10.0.0.2").Dial("10.0.0.1:7000", 10*time.Millisecond)
	assert.Error(t, err)
}

func TestConn_CloseAfterWrite(t *testing.T) {
	mem := network.NewMemoryNetwork()
	l, err := mem.Transport("10.0.0.1").Listen(":7001")
	require.NoError(t, err)

	serverCb := &testCallback{}
	server := network.NewServer(config, serverCb, &packet.MsgProtocol{})
	go server.Start(l)
	defer server.Stop()

	clientCb := &testCallback{}
	client := network.NewServer(config, clientCb, &packet.MsgProtocol{})
	defer client.Stop()

	c, err := mem.Transport("10.0.0.2").Dial("10.0.0.1:7001", time.Second)
	require.NoError(t, err)
	conn := client.Connect(c, nil)
	conn.CloseAfterWrite(packet.NewPacket(9, []byte("bye")))

	require.Eventually(t, func() bool {
		return 1 == atomic.LoadUint32(&serverCb.numMsg) && 1 == atomic.LoadUint32(&serverCb.numDiscon)
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.AsyncWritePacket(packet.NewPacket(9, nil), 0), network.ErrConnClosing)
}
