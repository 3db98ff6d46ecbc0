// Package wire implements the framed message codec spoken between the
// software clock and a hardware clock: one tag byte followed by a fixed
// number of big-endian uint32 arguments.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind is the tag byte of a frame.
type Kind uint8

const (
	KindHandshake         Kind = 0xC0
	KindHandshakeResponse Kind = 0xC1
	KindStartSideA        Kind = 0xC2
	KindStartSideB        Kind = 0xC3
	KindSync              Kind = 0xC4
	KindPause             Kind = 0xC5
	KindSideAFinish       Kind = 0xC6
	KindSideBFinish       Kind = 0xC7
)

// Kinds lists every registered kind in tag order.
var Kinds = []Kind{
	KindHandshake,
	KindHandshakeResponse,
	KindStartSideA,
	KindStartSideB,
	KindSync,
	KindPause,
	KindSideAFinish,
	KindSideBFinish,
}

var (
	ErrArgCount     = errors.New("argument count does not match frame schema")
	ErrUnknownFrame = errors.New("unknown frame tag")
	ErrTruncated    = errors.New("stream ended mid-frame")
)

// UnknownFrameError reports the tag byte that matched no registered kind.
type UnknownFrameError struct {
	Tag byte
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame tag 0x%02X", e.Tag)
}

func (e *UnknownFrameError) Unwrap() error { return ErrUnknownFrame }

// ParseKind resolves a tag byte against the registry.
func ParseKind(b byte) (Kind, bool) {
	k := Kind(b)
	return k, k.Valid()
}

func (k Kind) Valid() bool {
	return k >= KindHandshake && k <= KindSideBFinish
}

// Args returns the number of uint32 arguments a frame of this kind carries,
// or -1 for an unregistered kind.
func (k Kind) Args() int {
	switch k {
	case KindHandshake, KindHandshakeResponse:
		return 1
	case KindStartSideA, KindStartSideB:
		return 1
	case KindSync:
		return 2
	case KindPause:
		return 1
	case KindSideAFinish, KindSideBFinish:
		return 0
	default:
		return -1
	}
}

// FrameLen is the total encoded length of a frame of this kind.
func (k Kind) FrameLen() int {
	n := k.Args()
	if n < 0 {
		return 0
	}
	return 1 + 4*n
}

// Name is the lowercase identifier used in scripts.
func (k Kind) Name() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindHandshakeResponse:
		return "handshake_response"
	case KindStartSideA:
		return "start_a"
	case KindStartSideB:
		return "start_b"
	case KindSync:
		return "sync"
	case KindPause:
		return "pause"
	case KindSideAFinish:
		return "a_finish"
	case KindSideBFinish:
		return "b_finish"
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "Handshake"
	case KindHandshakeResponse:
		return "HandshakeResponse"
	case KindStartSideA:
		return "StartSideA"
	case KindStartSideB:
		return "StartSideB"
	case KindSync:
		return "Sync"
	case KindPause:
		return "Pause"
	case KindSideAFinish:
		return "SideAFinish"
	case KindSideBFinish:
		return "SideBFinish"
	default:
		return fmt.Sprintf("Kind(0x%02X)", uint8(k))
	}
}

// ParseKindName resolves a script name such as "start_a".
func ParseKindName(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Name() == name {
			return k, true
		}
	}
	return 0, false
}

// Message is one decoded frame.
type Message struct {
	Kind Kind
	Args []uint32
}

// NewMessage builds a message, checking the argument count against the schema.
func NewMessage(kind Kind, args ...uint32) (Message, error) {
	if kind.Args() != len(args) {
		return Message{}, fmt.Errorf("%s with %d args: %w", kind, len(args), ErrArgCount)
	}
	return Message{Kind: kind, Args: args}, nil
}

// Arg returns the i-th argument or zero when absent.
func (m Message) Arg(i int) uint32 {
	if i < 0 || i >= len(m.Args) {
		return 0
	}
	return m.Args[i]
}

func (m Message) MarshalBinary() ([]byte, error) {
	return Encode(m.Kind, m.Args...)
}

func (m Message) String() string {
	return fmt.Sprintf("%s%v", m.Kind, m.Args)
}

// Encode produces the wire bytes for a frame.
func Encode(kind Kind, args ...uint32) ([]byte, error) {
	if kind.Args() != len(args) {
		return nil, fmt.Errorf("encode %s with %d args: %w", kind, len(args), ErrArgCount)
	}
	buf := make([]byte, kind.FrameLen())
	buf[0] = byte(kind)
	for i, a := range args {
		binary.BigEndian.PutUint32(buf[1+i*4:], a)
	}
	return buf, nil
}

// WriteMessage encodes m and writes it with a single Write call.
func WriteMessage(w io.Writer, m Message) error {
	buf, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decoder reads frames from a byte stream.
type Decoder struct {
	br *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	if br, ok := r.(*bufio.Reader); ok {
		return &Decoder{br: br}
	}
	return &Decoder{br: bufio.NewReader(r)}
}

// Decode reads one frame. It returns io.EOF when the stream ends cleanly
// between frames, ErrTruncated when it ends inside one, and an
// *UnknownFrameError (after consuming only the tag byte) for unregistered tags.
func (d *Decoder) Decode() (Message, error) {
	tag, err := d.br.ReadByte()
	if err != nil {
		return Message{}, err
	}

	kind, ok := ParseKind(tag)
	if !ok {
		return Message{}, &UnknownFrameError{Tag: tag}
	}

	n := kind.Args()
	if n == 0 {
		return Message{Kind: kind}, nil
	}

	var raw [8]byte
	body := raw[:4*n]
	if _, err := io.ReadFull(d.br, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%s: %w", kind, ErrTruncated)
		}
		return Message{}, err
	}

	args := make([]uint32, n)
	for i := range args {
		args[i] = binary.BigEndian.Uint32(body[i*4:])
	}
	return Message{Kind: kind, Args: args}, nil
}

// Discard drops up to max bytes that are already available, blocking only
// until at least one byte arrives. It returns how many bytes were dropped.
func (d *Decoder) Discard(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	if d.br.Buffered() == 0 {
		if _, err := d.br.Peek(1); err != nil {
			return 0, err
		}
	}
	n := d.br.Buffered()
	if n > max {
		n = max
	}
	return d.br.Discard(n)
}
