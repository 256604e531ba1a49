package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"time"

	"github.com/tonylturner/mbstack/internal/modbus"
)

// ReadADU reads exactly one ADU from ch.
//
// A master (Confirmation) waits at most the response timeout for the first
// byte. A slave (Indication) waits for the first byte without a deadline
// until ctx is cancelled, which closes the channel. Every later byte must
// arrive within the byte timeout; a (0, 0) byte timeout falls back to the
// response deadline for the whole frame.
//
// Frames whose declared length is impossible are flushed and reported as
// *modbus.FormatError. Empty reads are skipped.
func ReadADU(ctx context.Context, ch Channel, msgType modbus.MsgType) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msgType == modbus.Indication {
		stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
		defer stop()
	}

	r := &aduReader{ctx: ctx, ch: ch, msgType: msgType}
	if ch.Kind().Mode() == modbus.ModeRTU {
		return r.readRTU()
	}
	return r.readTCP()
}

type aduReader struct {
	ctx      context.Context
	ch       Channel
	msgType  modbus.MsgType
	buf      []byte
	deadline time.Time // response deadline once started
	started  bool
}

// fill reads until the buffer holds n bytes.
func (r *aduReader) fill(n int) error {
	if cap(r.buf) < n {
		grown := make([]byte, len(r.buf), n)
		copy(grown, r.buf)
		r.buf = grown
	}
	for len(r.buf) < n {
		phase := "byte"
		var wait time.Duration
		var deadline time.Time
		switch {
		case !r.started && r.msgType == modbus.Indication:
			// no deadline for the first byte of a request
		case !r.started:
			phase = "response"
			wait = r.ch.ResponseTimeout().Duration()
			r.deadline = time.Now().Add(wait)
			deadline = r.deadline
		case r.ch.ByteTimeout().IsZero():
			wait = r.ch.ResponseTimeout().Duration()
			deadline = r.deadline
		default:
			wait = r.ch.ByteTimeout().Duration()
			deadline = time.Now().Add(wait)
		}
		if d, ok := r.ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
			deadline = d
		}

		got, err := r.ch.Receive(r.buf[len(r.buf):n], deadline)
		if err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return &modbus.TimeoutError{Phase: phase, After: wait}
			}
			return err
		}
		if got == 0 {
			continue
		}
		if !r.started {
			r.started = true
			if r.msgType == modbus.Indication {
				r.deadline = time.Now().Add(r.ch.ResponseTimeout().Duration())
			}
		}
		r.buf = r.buf[:len(r.buf)+got]
	}
	return nil
}

func (r *aduReader) reject(reason string) error {
	_, _ = r.ch.Flush()
	return &modbus.FormatError{Reason: reason}
}

// readTCP reads the MBAP header, then as many bytes as its length field says.
func (r *aduReader) readTCP() ([]byte, error) {
	if err := r.fill(modbus.MBAPHeaderSize); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(r.buf[4:6]))
	if length < 2 || length > modbus.MaxPDUSize+1 {
		return nil, r.reject("MBAP length out of range")
	}
	if err := r.fill(modbus.MBAPHeaderSize - 1 + length); err != nil {
		return nil, err
	}
	return r.buf, nil
}

// readRTU reads address and function, the fixed meta section, then the
// variable data and the CRC.
func (r *aduReader) readRTU() ([]byte, error) {
	if err := r.fill(2); err != nil {
		return nil, err
	}
	fc := modbus.FunctionCode(r.buf[1])
	meta := modbus.MetaLength(fc, r.msgType)
	if err := r.fill(2 + meta); err != nil {
		return nil, err
	}
	total := 2 + meta
	if meta > 0 {
		total += modbus.DataLength(r.buf[1:], r.msgType)
	}
	total += modbus.RTUCRCSize
	if total > modbus.RTUMaxFrameSize {
		return nil, r.reject("RTU frame exceeds 256 bytes")
	}
	if err := r.fill(total); err != nil {
		return nil, err
	}
	if !modbus.ValidateCRC(r.buf) {
		return nil, r.reject("RTU CRC mismatch")
	}
	return r.buf, nil
}
