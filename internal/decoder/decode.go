package decoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatVorbis  Format = "vorbis"
	FormatOpus    Format = "opus"
	FormatFLAC    Format = "flac"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DecodeError reports bytes that could not be turned into PCM.
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Sniff guesses the container from its leading bytes.
func Sniff(raw []byte) Format {
	switch {
	case len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WAVE":
		return FormatWAV
	case len(raw) >= 4 && string(raw[0:4]) == "OggS":
		head := raw
		if len(head) > 512 {
			head = head[:512]
		}
		if bytes.Contains(head, []byte("OpusHead")) {
			return FormatOpus
		}
		return FormatVorbis
	case len(raw) >= 4 && string(raw[0:4]) == "fLaC":
		return FormatFLAC
	case len(raw) >= 3 && string(raw[0:3]) == "ID3":
		return FormatMP3
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

type pcmStream interface {
	io.Reader
	Length() int64
}

// decodeContext holds the scratch buffer for one Decode call.
type decodeContext struct {
	buf []byte
}

var contextPool = sync.Pool{
	New: func() any { return &decodeContext{buf: make([]byte, 32*1024)} },
}

func acquireContext() *decodeContext {
	return contextPool.Get().(*decodeContext)
}

func (c *decodeContext) release() {
	contextPool.Put(c)
}

// Decode turns encoded audio into per-channel float32 PCM resampled to
// sampleRate.
func Decode(ctx context.Context, raw []byte, sampleRate int) (*Audio, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("decoder: invalid sample rate %d", sampleRate)
	}
	format := Sniff(raw)
	switch format {
	case FormatOpus:
		return decodeOpus(ctx, raw, sampleRate)
	case FormatUnknown, FormatFLAC:
		return nil, &DecodeError{Format: format, Err: ErrUnsupportedFormat}
	}

	dc := acquireContext()
	defer dc.release()

	stream, err := openStream(format, sampleRate, bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	left, right, err := dc.readPCM16(ctx, stream)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &DecodeError{Format: format, Err: err}
	}
	return newDecoded(sampleRate, collapse(left, right)), nil
}

func openStream(format Format, sampleRate int, r *bytes.Reader) (pcmStream, error) {
	switch format {
	case FormatWAV:
		return wav.DecodeWithSampleRate(sampleRate, r)
	case FormatVorbis:
		return vorbis.DecodeWithSampleRate(sampleRate, r)
	case FormatMP3:
		return mp3.DecodeWithSampleRate(sampleRate, r)
	}
	return nil, ErrUnsupportedFormat
}

// readPCM16 reads 16-bit little-endian stereo frames.
func (c *decodeContext) readPCM16(ctx context.Context, s pcmStream) ([]float32, []float32, error) {
	frames := 0
	if n := s.Length(); n > 0 {
		frames = int(n / 4)
	}
	left := make([]float32, 0, frames)
	right := make([]float32, 0, frames)
	carry := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		n, err := s.Read(c.buf[carry:])
		n += carry
		whole := n - n%4
		for i := 0; i < whole; i += 4 {
			l := int16(binary.LittleEndian.Uint16(c.buf[i:]))
			r := int16(binary.LittleEndian.Uint16(c.buf[i+2:]))
			left = append(left, float32(l)/32768)
			right = append(right, float32(r)/32768)
		}
		carry = copy(c.buf, c.buf[whole:n])
		if err == io.EOF {
			return left, right, nil
		}
		if err != nil {
			return nil, nil, err
		}
	}
}

// collapse returns a single channel when both channels carry the same
// samples, as mono sources do after stereo upmixing.
func collapse(left, right []float32) [][]float32 {
	if len(left) != len(right) {
		return [][]float32{left, right}
	}
	for i := range left {
		if left[i] != right[i] {
			return [][]float32{left, right}
		}
	}
	return [][]float32{left}
}
