package command

import (
	"bytes"

	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/pkg/errors"
)

// MaxListLen bounds the commands one peer may submit for a single cycle.
const MaxListLen = 4096

// List is one submitter's batch for one cycle, in execution order. An empty
// list is a valid "still alive" submission.
type List []Command

// Write appends the list to w without flushing.
func (l List) Write(w *stream.Writer) {
	w.WriteUint32(uint32(len(l)))
	for _, c := range l {
		c.write(w)
	}
}

// Save writes and flushes.
func (l List) Save(w *stream.Writer) error {
	l.Write(w)
	return w.Flush()
}

// ReadList parses a count prefixed list.
func ReadList(r *stream.Reader) (List, error) {
	n := r.ReadUint32()
	if err := r.Err(); nil != err {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	if n > MaxListLen {
		return nil, errors.Wrapf(ErrDecode, "list of %d commands", n)
	}
	l := make(List, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := Read(r)
		if nil != err {
			return nil, errors.Wrapf(err, "command %d of %d", i, n)
		}
		l = append(l, c)
	}
	return l, nil
}

// Encode returns the stream form as bytes.
func (l List) Encode() []byte {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	l.Write(w)
	_ = w.Flush()
	return buf.Bytes()
}

// DecodeList parses bytes produced by Encode. Trailing bytes are an error.
func DecodeList(b []byte) (List, error) {
	rd := bytes.NewReader(b)
	l, err := ReadList(stream.NewReader(rd))
	if nil != err {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, errors.Wrapf(ErrDecode, "%d trailing bytes after list", rd.Len())
	}
	return l, nil
}

// Equal compares two lists element by element.
func (l List) Equal(o List) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if !l[i].Equal(o[i]) {
			return false
		}
	}
	return true
}
