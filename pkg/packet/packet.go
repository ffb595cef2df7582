// Package packet frames peer messages: a little endian body length, a
// packet type, then the body.
package packet

import (
	"bytes"
	"encoding/binary"
	"io"

	l4g "github.com/alecthomas/log4go"
	"github.com/dunelegacy/dunelockstep/pkg/network"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

const (
	DataLen = 4
	TypeLen = 4

	HeaderLen    = DataLen + TypeLen
	MaxPacketLen = 1 << 20
)

/*

|--dataLen(uint32)--|--type(uint32)--|--------data--------|
|---------4---------|-------4--------|------dataLen-------|

*/

var ErrTooLarge = errors.New("packet: body exceeds limit")

// Packet is one framed message.
type Packet struct {
	id   uint32
	data []byte
}

func (p *Packet) GetMessageID() uint32 {
	return p.id
}

func (p *Packet) GetData() []byte {
	return p.data
}

// Reader decodes the body with the stream codec.
func (p *Packet) Reader() *stream.Reader {
	return stream.NewReader(bytes.NewReader(p.data))
}

func (p *Packet) Serialize() []byte {
	buff := make([]byte, HeaderLen, HeaderLen+len(p.data))
	binary.LittleEndian.PutUint32(buff, uint32(len(p.data)))
	binary.LittleEndian.PutUint32(buff[DataLen:], p.id)
	return append(buff, p.data...)
}

func (p *Packet) Unmarshal(m interface{}) error {
	msg, ok := m.(proto.Message)
	if !ok {
		return errors.Errorf("packet %d: %T is not a proto message", p.id, m)
	}
	return proto.Unmarshal(p.data, msg)
}

// NewPacket builds a packet from raw bytes, a proto message, or nothing.
// It returns nil when msg cannot be encoded.
func NewPacket(id uint32, msg interface{}) *Packet {

	p := &Packet{
		id: id,
	}

	switch v := msg.(type) {
	case []byte:
		p.data = v
	case proto.Message:
		if mdata, err := proto.Marshal(v); err == nil {
			p.data = mdata
		} else {
			l4g.Error("[NewPacket] proto marshal msg: %d error: %v",
				id, err)
			return nil
		}
	case nil:
	default:
		l4g.Error("[NewPacket] error msg type msg: %d", id)
		return nil
	}

	if len(p.data) > MaxPacketLen {
		l4g.Error("[NewPacket] msg: %d body %d bytes exceeds limit", id, len(p.data))
		return nil
	}

	return p
}

// NewStreamPacket builds a packet whose body is written by fill.
func NewStreamPacket(id uint32, fill func(w *stream.Writer)) *Packet {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	fill(w)
	if err := w.Flush(); nil != err {
		l4g.Error("[NewStreamPacket] msg: %d encode error: %v", id, err)
		return nil
	}
	return NewPacket(id, buf.Bytes())
}

type MsgProtocol struct {
}

func (p *MsgProtocol) ReadPacket(r io.Reader) (network.Packet, error) {

	buff := make([]byte, HeaderLen)

	if _, err := io.ReadFull(r, buff); err != nil {
		return nil, err
	}
	dataLen := binary.LittleEndian.Uint32(buff)

	if dataLen > MaxPacketLen {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", dataLen)
	}

	msg := &Packet{
		id: binary.LittleEndian.Uint32(buff[DataLen:]),
	}

	if dataLen > 0 {
		msg.data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, msg.data); err != nil {
			return nil, err
		}
	}

	return msg, nil
}
