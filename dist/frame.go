package dist

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readFrame16 reads a handshake-phase frame: <u16 length><payload>.
func readFrame16(r io.Reader) ([]byte, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, fmt.Errorf("%w: reading frame length: %v", ErrTransport, err)
	}
	n := binary.BigEndian.Uint16(lb[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: reading frame body: %v", ErrTransport, err)
		}
	}
	return buf, nil
}

// writeFrame16 writes a handshake-phase frame.
func writeFrame16(w io.Writer, payload []byte) error {
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(payload)))
	if _, err := w.Write(lb[:]); err != nil {
		return fmt.Errorf("%w: writing frame length: %v", ErrTransport, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: writing frame body: %v", ErrTransport, err)
	}
	return nil
}

// readFrame32 reads a connected-phase frame: <u32 length><payload>. A
// zero-length frame is a heartbeat, returned as a nil (not empty) slice so
// callers can tell "heartbeat" from "empty payload" unambiguously.
func readFrame32(r io.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, fmt.Errorf("%w: reading frame length: %v", ErrTransport, err)
	}
	n := binary.BigEndian.Uint32(lb[:])
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: reading frame body: %v", ErrTransport, err)
	}
	return buf, nil
}

// writeFrame32 writes a connected-phase frame. A nil/empty payload writes a
// heartbeat.
func writeFrame32(w io.Writer, payload []byte) error {
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(payload)))
	if _, err := w.Write(lb[:]); err != nil {
		return fmt.Errorf("%w: writing frame length: %v", ErrTransport, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("%w: writing frame body: %v", ErrTransport, err)
		}
	}
	return nil
}
