package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// Gob is the DEFAULT codec.
type Gob struct{}

func (Gob) Type() Type { return DEFAULT }

func (Gob) Marshal(v any) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, errors.Wrapf(err, "gob encode %T", v)
	}
	return append([]byte(nil), buf.B...), nil
}

func (Gob) Unmarshal(b []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return errors.Wrapf(ErrCorrupt, "gob decode %T: %v", v, err)
	}
	return nil
}
