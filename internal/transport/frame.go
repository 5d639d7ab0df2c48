package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the largest payload a frame may carry.
	MaxFrameSize = 10 << 20

	headerSize = 4
	readChunk  = 32 << 10
)

// EncodeFrame prefixes payload with its length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("encode frame of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads the first frame from r through a Decoder. It may
// consume bytes past the frame, so use it only on streams that carry a
// single frame, as sync connections do. A stream that ends before the
// frame is complete yields ErrConnectionClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var d Decoder
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			frames, ferr := d.Feed(chunk[:n])
			if len(frames) > 0 {
				return frames[0], nil
			}
			if ferr != nil {
				return nil, ferr
			}
		}
		if err != nil {
			return nil, readErr(err)
		}
	}
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("read frame: %w", err)
}

// Decoder extracts frames from a byte stream delivered in arbitrary chunks.
//
// After an oversize header the decoder is poisoned: it returns
// ErrFrameTooLarge from every later Feed and buffers nothing more.
//
// Thread-safety: Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
	err error
}

// Feed appends p to the buffer and returns every complete frame in order.
// Incomplete trailing bytes stay buffered for the next call. Frames
// decoded before a violation are returned together with the error.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)

	var frames [][]byte
	for len(d.buf) >= headerSize {
		n := binary.BigEndian.Uint32(d.buf)
		if n > MaxFrameSize {
			d.err = fmt.Errorf("frame header declares %d bytes: %w", n, ErrFrameTooLarge)
			d.buf = nil
			return frames, d.err
		}
		end := headerSize + int(n)
		if len(d.buf) < end {
			break
		}
		frame := make([]byte, n)
		copy(frame, d.buf[headerSize:end])
		frames = append(frames, frame)
		d.buf = d.buf[end:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Err returns the poisoning error, if any.
func (d *Decoder) Err() error {
	return d.err
}
