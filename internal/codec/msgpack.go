package codec

import (
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack is the FST codec: a compact schemaless binary encoding.
type Msgpack struct{}

func (Msgpack) Type() Type { return FST }

func (Msgpack) Marshal(v any) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := msgpack.NewEncoder(buf).Encode(v); err != nil {
		return nil, errors.Wrapf(err, "msgpack encode %T", v)
	}
	return append([]byte(nil), buf.B...), nil
}

func (Msgpack) Unmarshal(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return errors.Wrapf(ErrCorrupt, "msgpack decode %T: %v", v, err)
	}
	return nil
}
