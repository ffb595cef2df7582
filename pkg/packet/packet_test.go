package packet

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

const testID = 7

func testMsg(t *testing.T) *structpb.Struct {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"sid": 19234333,
		"x":   10,
		"y":   20000,
	})
	require.NoError(t, err)
	return msg
}

func Test_Serialize(t *testing.T) {
	msg := testMsg(t)
	raw, err := proto.Marshal(msg)
	require.NoError(t, err)

	p := NewPacket(testID, msg)
	require.NotNil(t, p)
	buff := p.Serialize()

	assert.Equal(t, uint32(len(raw)), binary.LittleEndian.Uint32(buff))
	assert.Equal(t, uint32(testID), binary.LittleEndian.Uint32(buff[DataLen:]))
	assert.Len(t, buff, HeaderLen+len(raw))

	msg1 := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(buff[HeaderLen:], msg1))
	assert.True(t, proto.Equal(msg, msg1))
}

func Test_ReadPacket(t *testing.T) {
	msg := testMsg(t)
	p := NewPacket(testID, msg)
	r := strings.NewReader(string(p.Serialize()))

	ret, err := (&MsgProtocol{}).ReadPacket(r)
	require.NoError(t, err)

	packet := ret.(*Packet)
	assert.Equal(t, p.GetMessageID(), packet.GetMessageID())
	assert.Equal(t, p.GetData(), packet.GetData())

	msg1 := &structpb.Struct{}
	require.NoError(t, packet.Unmarshal(msg1))
	assert.Equal(t, float64(20000), msg1.Fields["y"].GetNumberValue())
}

func Test_StreamPacket(t *testing.T) {
	p := NewStreamPacket(3, func(w *stream.Writer) {
		w.WriteUint32(99)
		w.WriteString("atreides")
	})
	require.NotNil(t, p)

	ret, err := (&MsgProtocol{}).ReadPacket(bytes.NewReader(p.Serialize()))
	require.NoError(t, err)
	r := ret.(*Packet).Reader()
	assert.Equal(t, uint32(99), r.ReadUint32())
	assert.Equal(t, "atreides", r.ReadString())
	require.NoError(t, r.Err())
}

func Test_EmptyAndBadBodies(t *testing.T) {
	p := NewPacket(4, nil)
	require.NotNil(t, p)
	assert.Len(t, p.Serialize(), HeaderLen)

	assert.Nil(t, NewPacket(4, 12))

	hdr := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(hdr, MaxPacketLen+1)
	_, err := (&MsgProtocol{}).ReadPacket(bytes.NewReader(hdr))
	assert.True(t, errors.Is(err, ErrTooLarge))

	binary.LittleEndian.PutUint32(hdr, 10)
	_, err = (&MsgProtocol{}).ReadPacket(bytes.NewReader(append(hdr, 1, 2)))
	assert.Error(t, err)
}

func Benchmark_Packet(b *testing.B) {
	msg, _ := structpb.NewStruct(map[string]interface{}{"x": 10})
	buf := NewPacket(testID, msg).Serialize()

	proto := &MsgProtocol{}
	r := bytes.NewBuffer(nil)

	for i := 0; i < b.N; i++ {
		r.Write(buf)
		if _, err := proto.ReadPacket(r); nil != err {
			b.Error(err)
		}
	}
}
