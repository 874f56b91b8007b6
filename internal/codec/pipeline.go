package codec

import (
	"github.com/pkg/errors"

	"compute-grid/pkg/model"
)

// Pipeline is the serialization stack of a connection. Payload frames go through the codec
// and then the compressor; command tags and short strings only through the codec.
type Pipeline struct {
	Codec      Codec
	Compressor Compressor
}

func NewPipeline(c Codec, comp Compressor) *Pipeline {
	if comp == nil {
		comp = None{}
	}
	return &Pipeline{Codec: c, Compressor: comp}
}

func NewPipelineByName(codecName, compression string) (*Pipeline, error) {
	t, err := ParseType(codecName)
	if err != nil {
		return nil, err
	}
	c, err := New(t)
	if err != nil {
		return nil, err
	}
	comp, err := NewCompressor(compression)
	if err != nil {
		return nil, err
	}
	return NewPipeline(c, comp), nil
}

func (p *Pipeline) String() string {
	return p.Codec.Type().String() + "+" + p.Compressor.Name()
}

func (p *Pipeline) Encode(v any) ([]byte, error) {
	b, err := p.Codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return p.Compressor.Compress(b)
}

func (p *Pipeline) Decode(b []byte, v any) error {
	raw, err := p.Compressor.Decompress(b)
	if err != nil {
		return err
	}
	return p.Codec.Unmarshal(raw, v)
}

func (p *Pipeline) EncodeCommand(c model.Command) ([]byte, error) {
	return p.Codec.Marshal(c)
}

func (p *Pipeline) DecodeCommand(b []byte) (model.Command, error) {
	var c model.Command
	if err := p.Codec.Unmarshal(b, &c); err != nil {
		return 0, errors.Wrap(err, "decode command")
	}
	return c, nil
}

func (p *Pipeline) EncodeString(s string) ([]byte, error) {
	return p.Codec.Marshal(s)
}

func (p *Pipeline) DecodeString(b []byte) (string, error) {
	var s string
	if err := p.Codec.Unmarshal(b, &s); err != nil {
		return "", errors.Wrap(err, "decode string")
	}
	return s, nil
}
