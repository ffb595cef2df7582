package command

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allOpcodes() []ID {
	ids := make([]ID, 0, NumCommands)
	for id := None + 1; id < NumCommands; id++ {
		ids = append(ids, id)
	}
	return ids
}

func params(n int) []uint32 {
	p := make([]uint32, n)
	for i := range p {
		p[i] = uint32(i*7 + 1)
	}
	return p
}

func TestCatalog_Complete(t *testing.T) {
	for _, id := range allOpcodes() {
		n, ok := Arity(id)
		require.True(t, ok, id.String())
		assert.Greater(t, n, 0, id.String())
		assert.NotEmpty(t, catalog[id].name)
	}
	_, ok := Arity(None)
	assert.False(t, ok)
	_, ok = Arity(NumCommands)
	assert.False(t, ok)

	n, _ := Arity(UnitMove2Pos)
	assert.Equal(t, 4, n)
	n, _ = Arity(TestSync)
	assert.Equal(t, 1, n)
}

func TestCommand_StreamRoundTrip(t *testing.T) {
	for _, id := range allOpcodes() {
		n, _ := Arity(id)
		c, err := New(3, id, params(n)...)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, c.Save(stream.NewWriter(&buf)))

		got, err := Read(stream.NewReader(&buf))
		require.NoError(t, err, id.String())
		assert.True(t, c.Equal(got), "%s != %s", c, got)
		assert.Equal(t, 0, buf.Len())
	}
}

func TestCommand_RawRoundTrip(t *testing.T) {
	for _, id := range allOpcodes() {
		n, _ := Arity(id)
		c, err := NewFromParams(9, id, params(n))
		require.NoError(t, err)

		got, err := Decode(9, c.Encode())
		require.NoError(t, err, id.String())
		assert.True(t, c.Equal(got))
		assert.Equal(t, 4+4*n, len(c.Encode()))
	}
}

func TestCommand_WrongArity(t *testing.T) {
	for _, id := range allOpcodes() {
		n, _ := Arity(id)
		for _, bad := range []int{n - 1, n + 1} {
			_, err := NewFromParams(1, id, params(bad))
			assert.True(t, errors.Is(err, ErrInvalidArgument), "%s with %d params", id, bad)

			raw := Command{id: id, params: params(bad)}.Encode()
			_, err = Decode(1, raw)
			assert.True(t, errors.Is(err, ErrDecode), "%s raw with %d params", id, bad)

			var buf bytes.Buffer
			w := stream.NewWriter(&buf)
			Command{playerID: 1, id: id, params: params(bad)}.write(w)
			require.NoError(t, w.Flush())
			_, err = Read(stream.NewReader(&buf))
			assert.True(t, errors.Is(err, ErrDecode), "%s stream with %d params", id, bad)

			ctx := sim.NewContext(sim.Map{Width: 8, Height: 8}, 1)
			err = Command{playerID: 1, id: id, params: params(bad)}.Execute(ctx)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "%s execute with %d params", id, bad)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(0, []byte{1, 0})
	assert.True(t, errors.Is(err, ErrDecode))

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(NumCommands))
	_, err = Decode(0, buf)
	assert.True(t, errors.Is(err, ErrDecode))

	binary.LittleEndian.PutUint32(buf, uint32(None))
	_, err = Decode(0, buf)
	assert.True(t, errors.Is(err, ErrDecode))

	raw := NewSendToRepair(0, 5).Encode()
	_, err = Decode(0, append(raw, 0xFF))
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestExecute_UnknownOpcode(t *testing.T) {
	ctx := sim.NewContext(sim.Map{Width: 8, Height: 8}, 1)
	err := Command{id: NumCommands + 3, params: []uint32{1}}.Execute(ctx)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestList_RoundTrip(t *testing.T) {
	l := List{
		NewMove2Pos(1, 4, 10, 20, true),
		NewProduceItem(1, 2, sim.KindTank, false),
		NewTestSync(1, 0xCAFE),
	}
	got, err := DecodeList(l.Encode())
	require.NoError(t, err)
	assert.True(t, l.Equal(got))

	empty, err := DecodeList(List{}.Encode())
	require.NoError(t, err)
	assert.Len(t, empty, 0)

	_, err = DecodeList(append(l.Encode(), 0))
	assert.True(t, errors.Is(err, ErrDecode))
}
