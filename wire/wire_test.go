package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestEncodeSync(t *testing.T) {
	got, err := Encode(KindSync, 60000, 45000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0xC4, 0x00, 0x00, 0xEA, 0x60, 0x00, 0x00, 0xAF, 0xC8}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode(Sync, 60000, 45000) = % X, want % X", got, want)
	}
}

func TestEncodeArgCount(t *testing.T) {
	tests := []struct {
		kind Kind
		args []uint32
	}{
		{KindSync, []uint32{1}},
		{KindPause, nil},
		{KindSideAFinish, []uint32{7}},
		{KindHandshake, []uint32{1, 2}},
		{Kind(0x10), nil},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if _, err := Encode(tt.kind, tt.args...); !errors.Is(err, ErrArgCount) {
				t.Errorf("Encode(%s, %v) error = %v, want ErrArgCount", tt.kind, tt.args, err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	argsFor := map[int][]uint32{
		0: nil,
		1: {0xDEADBEEF},
		2: {0, 0xFFFFFFFF},
	}
	for _, k := range Kinds {
		t.Run(k.String(), func(t *testing.T) {
			args := argsFor[k.Args()]
			buf, err := Encode(k, args...)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(buf) != k.FrameLen() {
				t.Errorf("frame length = %d, want %d", len(buf), k.FrameLen())
			}
			m, err := NewDecoder(bytes.NewReader(buf)).Decode()
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if m.Kind != k {
				t.Errorf("kind = %s, want %s", m.Kind, k)
			}
			if len(args) == 0 {
				if len(m.Args) != 0 {
					t.Errorf("args = %v, want none", m.Args)
				}
			} else if !reflect.DeepEqual(m.Args, args) {
				t.Errorf("args = %v, want %v", m.Args, args)
			}
		})
	}
}

func TestDecodeSequence(t *testing.T) {
	var stream bytes.Buffer
	frames := []Message{
		{Kind: KindStartSideA, Args: []uint32{120000}},
		{Kind: KindSideBFinish},
		{Kind: KindSync, Args: []uint32{1, 2}},
	}
	for _, f := range frames {
		if err := WriteMessage(&stream, f); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	dec := NewDecoder(&stream)
	for i, want := range frames {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.Kind != want.Kind || got.Arg(0) != want.Arg(0) || got.Arg(1) != want.Arg(1) {
			t.Errorf("frame %d = %s, want %s", i, got, want)
		}
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("Decode at end = %v, want io.EOF", err)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0x42, 0xC5, 0, 0, 0, 9}))

	_, err := dec.Decode()
	var ufe *UnknownFrameError
	if !errors.As(err, &ufe) {
		t.Fatalf("Decode error = %v, want *UnknownFrameError", err)
	}
	if ufe.Tag != 0x42 {
		t.Errorf("tag = 0x%02X, want 0x42", ufe.Tag)
	}
	if !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("error does not match ErrUnknownFrame")
	}

	// Only the tag byte was consumed, so the next frame decodes.
	m, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode after unknown tag: %v", err)
	}
	if m.Kind != KindPause || m.Arg(0) != 9 {
		t.Errorf("got %s, want Pause[9]", m)
	}
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"no args", []byte{0xC4}},
		{"half arg", []byte{0xC2, 0x00, 0x01}},
		{"one of two", []byte{0xC4, 0, 0, 0, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(bytes.NewReader(tt.in)).Decode()
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("Decode(% X) error = %v, want ErrTruncated", tt.in, err)
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(bytes.Repeat([]byte{0xAA}, 10)))
	n, err := dec.Discard(4)
	if err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if n != 4 {
		t.Errorf("Discard(4) = %d, want 4", n)
	}
	n, _ = dec.Discard(256)
	if n != 6 {
		t.Errorf("Discard(256) = %d, want 6", n)
	}
}

func TestKindNames(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKindName(k.Name())
		if !ok || got != k {
			t.Errorf("ParseKindName(%q) = %s, %v", k.Name(), got, ok)
		}
	}
	if _, ok := ParseKindName("resign"); ok {
		t.Errorf("ParseKindName(resign) succeeded")
	}
}
