// Package pcapreader turns a packet capture of a TCP-bridged clock link into
// a replayable script.
package pcapreader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"github.com/rs/zerolog/log"

	"github.com/samaelod/duoclock/types"
	"github.com/samaelod/duoclock/wire"
)

var ErrNoClockStream = errors.New("capture holds no clock frames")

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

func detectFormat(r io.Reader) (string, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", fmt.Errorf("read capture header: %w", err)
	}

	// Section Header Block
	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	if magic == 0x0A0D0D0A {
		return "pcapng", nil
	}
	return "pcap", nil
}

func openPacketSource(path string) (packetSource, io.Closer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	format, err := detectFormat(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, nil, err
	}

	var src packetSource
	if format == "pcapng" {
		src, err = pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(file)
	}
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return src, file, nil
}

// Options narrows what ReadPCAP extracts.
type Options struct {
	// Port is the bridge's TCP port. Zero picks the destination of the
	// first SYN, or failing that the source of the first payload that
	// starts with a frame tag.
	Port uint16
}

func ReadPCAP(path string) (*types.Script, error) {
	return ReadPCAPWith(path, Options{})
}

// ReadPCAPWith reassembles the byte stream sent by the clock side of the
// captured connection and decodes it into frames. Each frame's TDelta is
// the capture time elapsed since the previous frame.
func ReadPCAPWith(path string, opts Options) (*types.Script, error) {
	source, closer, err := openPacketSource(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	c := &collector{port: layers.TCPPort(opts.Port)}
	pool := tcpassembly.NewStreamPool(&streamFactory{c: c})
	assembler := tcpassembly.NewAssembler(pool)

	packetSrc := gopacket.NewPacketSource(source, source.LinkType())
	packetSrc.DecodeOptions.Lazy = true
	packetSrc.DecodeOptions.NoCopy = true

	for packet := range packetSrc.Packets() {
		netLayer := packet.NetworkLayer()
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if netLayer == nil || tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)

		if c.port == 0 {
			switch {
			case tcp.SYN && !tcp.ACK:
				c.port = tcp.DstPort
			case len(tcp.Payload) > 0 && wire.Kind(tcp.Payload[0]).Valid():
				c.port = tcp.SrcPort
			}
			if c.port != 0 {
				log.Debug().Uint16("port", uint16(c.port)).Msg("clock bridge port detected")
			}
		}

		assembler.AssembleWithTimestamp(netLayer.NetworkFlow(), tcp, packet.Metadata().Timestamp)
	}
	assembler.FlushAll()

	if len(c.frames) == 0 {
		return nil, ErrNoClockStream
	}
	if c.skipped > 0 {
		log.Warn().Int("bytes", c.skipped).Msg("skipped bytes that were not clock frames")
	}

	return &types.Script{
		Globals: types.Globals{Address: fmt.Sprintf("127.0.0.1:%d", c.port)},
		Frames:  c.frames,
	}, nil
}

type streamFactory struct {
	c *collector
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	return &clockStream{c: f.c, src: tcpFlow.Src()}
}

type clockStream struct {
	c   *collector
	src gopacket.Endpoint
}

func (s *clockStream) Reassembled(chunks []tcpassembly.Reassembly) {
	// The port may only be known after the stream was created.
	if s.src != layers.NewTCPPortEndpoint(s.c.port) {
		return
	}
	for _, r := range chunks {
		if r.Skip > 0 {
			log.Warn().Int("bytes", r.Skip).Msg("capture is missing stream data")
		}
		s.c.feed(r.Bytes, r.Seen)
	}
}

func (s *clockStream) ReassemblyComplete() {}

// collector decodes frames from one reassembled direction.
type collector struct {
	port    layers.TCPPort
	buf     []byte
	frames  []types.Frame
	last    time.Time
	skipped int
}

func (c *collector) feed(data []byte, seen time.Time) {
	c.buf = append(c.buf, data...)

	for len(c.buf) > 0 {
		kind, ok := wire.ParseKind(c.buf[0])
		if !ok {
			c.buf = c.buf[1:]
			c.skipped++
			continue
		}
		n := kind.FrameLen()
		if len(c.buf) < n {
			return
		}

		msg, err := wire.NewDecoder(bytes.NewReader(c.buf[:n])).Decode()
		c.buf = c.buf[n:]
		if err != nil {
			c.skipped += n
			continue
		}

		delta := 0
		if !c.last.IsZero() {
			delta = int(seen.Sub(c.last).Milliseconds())
		}
		c.last = seen

		c.frames = append(c.frames, types.Frame{
			Kind:   kind.Name(),
			Args:   msg.Args,
			TDelta: delta,
		})
	}
}
