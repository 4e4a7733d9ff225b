// Package rtpcheck verifies the relay's network output.
//
// A Checker consumes raw UDP datagrams, parses them as RTP, tracks sequence
// gaps and depacketizes H.264 access units so that a receiver can confirm
// the stream carries parameter sets and key frames.
package rtpcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"
)

// maxDatagram is larger than any RTP packet rtph264pay emits on an Ethernet MTU
const maxDatagram = 2048

// Report summarizes the received stream
type Report struct {
	SSRC                uint32
	Packets             uint64
	Bytes               uint64
	InvalidPackets      uint64 // not parseable as RTP
	PayloadTypeMismatch uint64
	SequenceGaps        uint64
	LostPackets         uint64
	Reordered           uint64
	AccessUnits         uint64
	IDRFrames           uint64
	SPS                 uint64
	PPS                 uint64
	DecodeErrors        uint64
	FirstPacket         time.Time
	LastPacket          time.Time
}

// Duration is the time between the first and the last packet
func (r Report) Duration() time.Duration {
	if r.FirstPacket.IsZero() {
		return 0
	}
	return r.LastPacket.Sub(r.FirstPacket)
}

// Playable reports whether a decoder could start from this stream
func (r Report) Playable() bool {
	return r.SPS > 0 && r.PPS > 0 && r.IDRFrames > 0
}

// Checker accumulates a Report. Not safe for concurrent use.
type Checker struct {
	payloadType uint8
	decoder     *rtph264.Decoder
	report      Report

	haveSeq bool
	lastSeq uint16
}

// NewChecker creates a checker expecting H.264 on payloadType
func NewChecker(payloadType uint8) (*Checker, error) {
	dec := &rtph264.Decoder{PacketizationMode: 1}
	if err := dec.Init(); err != nil {
		return nil, fmt.Errorf("rtpcheck: init H.264 decoder: %w", err)
	}
	return &Checker{payloadType: payloadType, decoder: dec}, nil
}

// Process handles one datagram received at now
func (c *Checker) Process(datagram []byte, now time.Time) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(datagram); err != nil {
		c.report.InvalidPackets++
		return fmt.Errorf("rtpcheck: invalid RTP packet: %w", err)
	}

	if c.report.FirstPacket.IsZero() {
		c.report.FirstPacket = now
		c.report.SSRC = pkt.SSRC
	}
	c.report.LastPacket = now
	c.report.Packets++
	c.report.Bytes += uint64(len(datagram))

	if pkt.PayloadType != c.payloadType {
		c.report.PayloadTypeMismatch++
		return nil
	}

	c.trackSequence(pkt.SequenceNumber)

	au, err := c.decoder.Decode(&pkt)
	if err != nil {
		if errors.Is(err, rtph264.ErrMorePacketsNeeded) {
			return nil
		}
		c.report.DecodeErrors++
		return fmt.Errorf("rtpcheck: depacketize seq %d: %w", pkt.SequenceNumber, err)
	}

	c.inspect(au)
	return nil
}

func (c *Checker) trackSequence(seq uint16) {
	if !c.haveSeq {
		c.haveSeq = true
		c.lastSeq = seq
		return
	}

	diff := seq - c.lastSeq - 1
	switch {
	case diff == 0:
		c.lastSeq = seq
	case diff < 0x8000:
		c.report.SequenceGaps++
		c.report.LostPackets += uint64(diff)
		c.lastSeq = seq
	default:
		// Older than the last packet: late or duplicated
		c.report.Reordered++
	}
}

func (c *Checker) inspect(au [][]byte) {
	c.report.AccessUnits++
	idr := false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			c.report.SPS++
		case h264.NALUTypePPS:
			c.report.PPS++
		case h264.NALUTypeIDR:
			idr = true
		}
	}
	if idr {
		c.report.IDRFrames++
	}
}

// Report returns the current report
func (c *Checker) Report() Report {
	return c.report
}

// Listen reads datagrams from addr until ctx is cancelled or duration
// elapses (0 = no limit).
func Listen(ctx context.Context, addr string, c *Checker, duration time.Duration) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("rtpcheck: listen %s: %w", addr, err)
	}
	defer conn.Close()

	slog.Info("rtpcheck: listening", "addr", conn.LocalAddr().String())

	var deadline time.Time
	if duration > 0 {
		deadline = time.Now().Add(duration)
	}

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}

		// Short read deadline keeps the loop responsive to cancellation
		if err := conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return fmt.Errorf("rtpcheck: set read deadline: %w", err)
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("rtpcheck: read: %w", err)
		}

		if err := c.Process(buf[:n], time.Now()); err != nil {
			slog.Debug("rtpcheck: packet rejected", "error", err)
		}
	}
}
