package transport

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	headerSize          = 4
	DefaultMaxFrameSize = 64 << 20
)

// WriteFrame writes b prefixed with its length as a 4-byte big-endian unsigned integer.
func WriteFrame(w io.Writer, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(b))
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(b)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one frame. A clean end of stream before the header returns io.EOF; a
// stream cut inside a frame returns io.ErrUnexpectedEOF. A declared length over max is
// ErrFrameTooLarge and leaves the reader in the middle of the frame.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if max > 0 && uint64(n) > uint64(max) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "declared %d bytes, max %d", n, max)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}
