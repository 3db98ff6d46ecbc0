package pcapreader

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/duoclock/types"
	"github.com/samaelod/duoclock/wire"
)

var (
	clientIP = net.IPv4(10, 0, 0, 2)
	bridgeIP = net.IPv4(10, 0, 0, 1)
)

type segment struct {
	at       time.Duration
	toBridge bool
	seq      uint32
	syn, ack bool
	payload  []byte
}

func encode(t *testing.T, kind wire.Kind, args ...uint32) []byte {
	t.Helper()
	b, err := wire.Encode(kind, args...)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func writeCapture(t *testing.T, segments []segment) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "link.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range segments {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
		tcp := &layers.TCP{Seq: s.seq, SYN: s.syn, ACK: s.ack, PSH: len(s.payload) > 0, Window: 65535}
		if s.toBridge {
			ip.SrcIP, ip.DstIP = clientIP, bridgeIP
			tcp.SrcPort, tcp.DstPort = 50000, 4001
		} else {
			ip.SrcIP, ip.DstIP = bridgeIP, clientIP
			tcp.SrcPort, tcp.DstPort = 4001, 50000
		}
		tcp.SetNetworkLayerForChecksum(ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.payload)); err != nil {
			t.Fatal(err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: start.Add(s.at), CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReadPCAP(t *testing.T) {
	sync := encode(t, wire.KindSync, 60000, 45000)
	start := encode(t, wire.KindStartSideA, 45000)
	noisy := append([]byte{0x42}, start[:3]...)

	path := writeCapture(t, []segment{
		{at: 0, toBridge: true, seq: 100, syn: true},
		{at: time.Millisecond, seq: 1000, syn: true, ack: true},
		{at: 10 * time.Millisecond, seq: 1001, ack: true, payload: sync},
		{at: 510 * time.Millisecond, seq: 1010, ack: true, payload: noisy},
		{at: 520 * time.Millisecond, seq: 1014, ack: true, payload: start[3:]},
		{at: 600 * time.Millisecond, toBridge: true, seq: 101, ack: true, payload: encode(t, wire.KindHandshake, 2)},
		{at: 1520 * time.Millisecond, seq: 1016, ack: true, payload: encode(t, wire.KindSideAFinish)},
	})

	script, err := ReadPCAP(path)
	if err != nil {
		t.Fatalf("ReadPCAP: %v", err)
	}

	want := []types.Frame{
		{Kind: "sync", Args: []uint32{60000, 45000}, TDelta: 0},
		{Kind: "start_a", Args: []uint32{45000}, TDelta: 510},
		{Kind: "a_finish", TDelta: 1000},
	}
	if !reflect.DeepEqual(script.Frames, want) {
		t.Errorf("frames = %+v\nwant     %+v", script.Frames, want)
	}
	if script.Globals.Address != "127.0.0.1:4001" {
		t.Errorf("address = %q", script.Globals.Address)
	}
}

func TestReadPCAPExplicitPort(t *testing.T) {
	path := writeCapture(t, []segment{
		{at: 0, toBridge: true, seq: 100, syn: true},
		{at: time.Millisecond, seq: 1000, syn: true, ack: true},
		{at: 5 * time.Millisecond, toBridge: true, seq: 101, ack: true, payload: encode(t, wire.KindHandshake, 0)},
		{at: 9 * time.Millisecond, seq: 1001, ack: true, payload: encode(t, wire.KindHandshakeResponse, 3)},
	})

	script, err := ReadPCAPWith(path, Options{Port: 50000})
	if err != nil {
		t.Fatalf("ReadPCAPWith: %v", err)
	}
	if len(script.Frames) != 1 || script.Frames[0].Kind != "handshake" {
		t.Errorf("frames = %+v, want the client's handshake", script.Frames)
	}
}

func TestReadPCAPWithoutFrames(t *testing.T) {
	path := writeCapture(t, []segment{
		{at: 0, toBridge: true, seq: 100, syn: true},
		{at: time.Millisecond, seq: 1000, syn: true, ack: true},
		{at: 2 * time.Millisecond, seq: 1001, ack: true, payload: []byte("hello")},
	})
	if _, err := ReadPCAP(path); !errors.Is(err, ErrNoClockStream) {
		t.Errorf("ReadPCAP = %v, want ErrNoClockStream", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		header []byte
		want   string
	}{
		{[]byte{0x0A, 0x0D, 0x0D, 0x0A, 0, 0}, "pcapng"},
		{[]byte{0xD4, 0xC3, 0xB2, 0xA1}, "pcap"},
	}
	for _, tt := range tests {
		got, err := detectFormat(bytes.NewReader(tt.header))
		if err != nil || got != tt.want {
			t.Errorf("detectFormat(% X) = %q, %v; want %q", tt.header, got, err, tt.want)
		}
	}
	if _, err := detectFormat(bytes.NewReader([]byte{1})); err == nil {
		t.Errorf("short header accepted")
	}
}

func TestReadPCAPMissingFile(t *testing.T) {
	if _, err := ReadPCAP(filepath.Join(t.TempDir(), "none.pcap")); err == nil {
		t.Errorf("missing file accepted")
	}
}
