package rtpcheck

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0xa0, 0x47, 0xfe, 0xc8}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

// encode packetizes access units the way rtph264pay does and returns the
// marshalled datagrams
func encode(t *testing.T, aus ...[][]byte) [][]byte {
	t.Helper()

	enc := &rtph264.Encoder{PayloadType: 96, PacketizationMode: 1}
	require.NoError(t, enc.Init())

	var out [][]byte
	for i, au := range aus {
		pkts, err := enc.Encode(au)
		require.NoError(t, err)
		for _, pkt := range pkts {
			pkt.Timestamp = uint32(i * 3000)
			b, err := pkt.Marshal()
			require.NoError(t, err)
			out = append(out, b)
		}
	}
	return out
}

func idrSlice(size int) []byte {
	return append([]byte{0x65}, bytes.Repeat([]byte{0xab}, size)...)
}

func TestChecker_PlayableStream(t *testing.T) {
	datagrams := encode(t,
		[][]byte{testSPS, testPPS, idrSlice(4000)},
		[][]byte{{0x41, 0x9a, 0x02, 0x03}},
		[][]byte{{0x41, 0x9a, 0x04, 0x05}},
	)
	require.Greater(t, len(datagrams), 3, "large IDR slice should be fragmented")

	c, err := NewChecker(96)
	require.NoError(t, err)

	start := time.Unix(100, 0)
	for i, d := range datagrams {
		require.NoError(t, c.Process(d, start.Add(time.Duration(i)*time.Millisecond)))
	}

	r := c.Report()
	assert.Equal(t, uint64(len(datagrams)), r.Packets)
	assert.Equal(t, uint64(3), r.AccessUnits)
	assert.Equal(t, uint64(1), r.SPS)
	assert.Equal(t, uint64(1), r.PPS)
	assert.Equal(t, uint64(1), r.IDRFrames)
	assert.Zero(t, r.SequenceGaps)
	assert.Zero(t, r.DecodeErrors)
	assert.True(t, r.Playable())
	assert.Equal(t, time.Duration(len(datagrams)-1)*time.Millisecond, r.Duration())
}

func TestChecker_NotPlayableWithoutParameterSets(t *testing.T) {
	datagrams := encode(t, [][]byte{{0x41, 0x9a, 0x01}})

	c, err := NewChecker(96)
	require.NoError(t, err)
	for _, d := range datagrams {
		require.NoError(t, c.Process(d, time.Now()))
	}

	r := c.Report()
	assert.Equal(t, uint64(1), r.AccessUnits)
	assert.False(t, r.Playable())
}

func TestChecker_Rejects(t *testing.T) {
	c, err := NewChecker(96)
	require.NoError(t, err)

	err = c.Process([]byte{0x00}, time.Now())
	assert.Error(t, err)
	assert.Equal(t, uint64(1), c.Report().InvalidPackets)
	assert.Zero(t, c.Report().Packets)

	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 33, SequenceNumber: 1, Marker: true},
		Payload: []byte{0x41, 0x01},
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)

	require.NoError(t, c.Process(b, time.Now()))
	r := c.Report()
	assert.Equal(t, uint64(1), r.Packets)
	assert.Equal(t, uint64(1), r.PayloadTypeMismatch)
	assert.Zero(t, r.AccessUnits)
}

func TestChecker_TrackSequence(t *testing.T) {
	tests := []struct {
		name      string
		seqs      []uint16
		gaps      uint64
		lost      uint64
		reordered uint64
	}{
		{name: "contiguous", seqs: []uint16{10, 11, 12, 13}},
		{name: "wraparound", seqs: []uint16{65534, 65535, 0, 1}},
		{name: "single gap", seqs: []uint16{1, 2, 5, 6}, gaps: 1, lost: 2},
		{name: "gap across wrap", seqs: []uint16{65535, 2}, gaps: 1, lost: 2},
		{name: "late packet", seqs: []uint16{1, 2, 4, 3, 5}, gaps: 1, lost: 1, reordered: 1},
		{name: "duplicate", seqs: []uint16{7, 8, 8, 9}, reordered: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChecker(96)
			require.NoError(t, err)
			for _, s := range tt.seqs {
				c.trackSequence(s)
			}
			r := c.Report()
			assert.Equal(t, tt.gaps, r.SequenceGaps)
			assert.Equal(t, tt.lost, r.LostPackets)
			assert.Equal(t, tt.reordered, r.Reordered)
		})
	}
}

func TestListen(t *testing.T) {
	c, err := NewChecker(96)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Listen(ctx, "127.0.0.1:0", c, 0))

	start := time.Now()
	assert.NoError(t, Listen(context.Background(), "127.0.0.1:0", c, 100*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Error(t, Listen(context.Background(), "not-an-address", c, 0))
}
