package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrTimeout          = errors.New("transport: timeout")
	ErrClosed           = errors.New("transport: channel closed")
	ErrHandshake        = errors.New("transport: TLS handshake failed")
	ErrFrameTooLarge    = errors.New("transport: frame too large")
	ErrDatagramTooLarge = errors.New("transport: datagram too large")
)

// classify maps I/O errors onto the sentinel errors above so callers can use errors.Is.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrClosed),
		errors.Is(err, ErrHandshake), errors.Is(err, ErrFrameTooLarge):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE), errors.Is(err, context.Canceled):
		return pkgerrors.Wrapf(ErrClosed, "%s: %v", op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return pkgerrors.Wrapf(ErrTimeout, "%s: %v", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrapf(ErrTimeout, "%s: %v", op, err)
	}
	return pkgerrors.Wrap(err, op)
}
