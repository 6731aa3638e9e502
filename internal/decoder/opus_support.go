//go:build opus
// +build opus

package decoder

import (
	"bytes"
	"context"
	"errors"
	"io"

	opus "gopkg.in/hraban/opus.v2"
)

const opusRate = 48000

func decodeOpus(ctx context.Context, raw []byte, sampleRate int) (*Audio, error) {
	channels, err := opusChannels(raw)
	if err != nil {
		return nil, &DecodeError{Format: FormatOpus, Err: err}
	}
	stream, err := opus.NewStream(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Format: FormatOpus, Err: err}
	}
	defer stream.Close()

	out := make([][]float32, channels)
	pcm := make([]float32, 5760*channels)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := stream.ReadFloat32(pcm)
		for i := 0; i < n; i++ {
			for c := 0; c < channels; c++ {
				out[c] = append(out[c], pcm[i*channels+c])
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DecodeError{Format: FormatOpus, Err: err}
		}
	}
	for c := range out {
		out[c] = Resample(out[c], opusRate, sampleRate)
	}
	return newDecoded(sampleRate, out), nil
}

// opusChannels reads the channel count from the OpusHead identification
// header: magic, version byte, then the channel count.
func opusChannels(raw []byte) (int, error) {
	idx := bytes.Index(raw, []byte("OpusHead"))
	if idx < 0 || idx+9 >= len(raw) {
		return 0, errors.New("missing OpusHead")
	}
	ch := int(raw[idx+9])
	if ch < 1 || ch > 2 {
		return 0, errors.New("unsupported opus channel count")
	}
	return ch, nil
}
