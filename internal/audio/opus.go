package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrameMS is the largest frame duration an opus packet may carry.
const maxOpusFrameMS = 120

// OpusDecoder converts opus packets into interleaved little-endian PCM.
type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
	samples  []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:      dec,
		channels: channels,
		samples:  make([]int16, sampleRate*maxOpusFrameMS/1000*channels),
	}, nil
}

func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, errors.New("empty opus packet")
	}
	n, err := d.dec.Decode(packet, d.samples)
	if err != nil {
		return nil, fmt.Errorf("decode opus packet: %w", err)
	}
	return pcmBytes(d.samples[:n*d.channels]), nil
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
