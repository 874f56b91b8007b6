package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("codec: unsupported type")
	ErrCorrupt         = errors.New("codec: corrupt payload")
)

// Type names a wire codec. Master and slave must use the same one.
type Type uint8

const (
	DEFAULT Type = iota // encoding/gob
	FST                 // MessagePack
	CUSTOM              // hand-written binary layout
)

var typeStr = []string{
	"DEFAULT",
	"FST",
	"CUSTOM",
}

func (t Type) String() string {
	if int(t) < len(typeStr) {
		return typeStr[t]
	}
	return fmt.Sprintf("codec.Type(%d)", uint8(t))
}

func ParseType(s string) (Type, error) {
	for i, name := range typeStr {
		if strings.EqualFold(name, s) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// Codec turns values into bytes and back. Unmarshal takes a pointer.
type Codec interface {
	Type() Type
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

func New(t Type) (Codec, error) {
	switch t {
	case DEFAULT:
		return Gob{}, nil
	case FST:
		return Msgpack{}, nil
	case CUSTOM:
		return Custom{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %s", t)
	}
}
