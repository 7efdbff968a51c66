package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameSize guards against a corrupt or malicious length prefix
// forcing an unbounded allocation.
const maxFrameSize = 64 << 20 // 64MiB

// Envelope is the on-wire unit: a Kind tag plus the cbor-encoded payload
// for that variant. The 4-byte big-endian length prefix covers the
// encoded Envelope, not just the payload.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Encode tags and cbor-encodes msg, returning a ready-to-frame envelope
// payload.
func Encode(kind Kind, msg any) ([]byte, error) {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	env := Envelope{Kind: kind, Payload: payload}
	return cbor.Marshal(env)
}

// WriteFrame writes a length-prefixed envelope to conn, applying a
// per-call write deadline derived from timeout (zero disables it).
func WriteFrame(conn net.Conn, kind Kind, msg any, timeout time.Duration) error {
	body, err := Encode(kind, msg)
	if err != nil {
		return err
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed envelope from conn and decodes its
// Kind tag, leaving the typed payload undecoded (call DecodePayload with
// the right Go type once Kind is known).
func ReadFrame(conn net.Conn, timeout time.Duration) (Kind, []byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, err
		}
	}
	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return 0, nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, fmt.Errorf("wire: read body: %w", err)
	}
	var env Envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return 0, nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env.Kind, env.Payload, nil
}

// DecodePayload unmarshals a Kind's raw payload (as returned by
// ReadFrame) into out.
func DecodePayload(payload []byte, out any) error {
	if err := cbor.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("wire: decode payload: %w", err)
	}
	return nil
}

// RoundTrip opens a connection to addr, writes one request frame, reads
// one reply frame, and closes the connection — the "client opens, sends
// one message, awaits one reply, closes" channel abstraction from spec
// §6.
func RoundTrip(addr string, reqKind Kind, req any, timeout time.Duration) (Kind, []byte, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := WriteFrame(conn, reqKind, req, timeout); err != nil {
		return 0, nil, err
	}
	return ReadFrame(conn, timeout)
}

// Serve accepts connections on ln and invokes handle once per
// connection with exactly one request/reply round-trip, matching the
// directory/aggregator "accept loop dispatching per-connection
// handlers" concurrency model of spec §5.
func Serve(ln net.Listener, handle func(conn net.Conn, kind Kind, payload []byte)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func(c net.Conn) {
			defer c.Close()
			kind, payload, err := ReadFrame(c, 30*time.Second)
			if err != nil {
				return
			}
			handle(c, kind, payload)
		}(conn)
	}
}
