package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Clip is decoded mono audio with samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// DecodeError reports audio bytes that could not be turned into samples.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrUnknownFormat is returned when the leading bytes match no supported container.
var ErrUnknownFormat = errors.New("unrecognized audio format")

// Format names returned by Sniff.
const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
	FormatMP3  = "mp3"
)

// Sniff inspects the leading bytes and returns the container format,
// or "" if none is recognized.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	}
	return ""
}

// DefaultMaxDuration is how many seconds of audio Decode produces at most.
const DefaultMaxDuration = 60.0

type decodeFunc func(data []byte, maxSeconds float64) (Clip, error)

var decoders = map[string]decodeFunc{
	FormatWAV:  decodeWAV,
	FormatFLAC: decodeFLAC,
	FormatMP3:  decodeMP3,
}

// Decode turns encoded audio bytes into a mono Clip of at most
// DefaultMaxDuration seconds.
func Decode(data []byte) (Clip, error) {
	return DecodeLimit(data, DefaultMaxDuration)
}

// DecodeLimit decodes at most maxSeconds of audio; the rest of the input is
// not decoded. A non-positive maxSeconds decodes everything. Every failure,
// including a decoder panic on malformed input, is returned as a
// *DecodeError.
func DecodeLimit(data []byte, maxSeconds float64) (clip Clip, err error) {
	if len(data) == 0 {
		return Clip{}, &DecodeError{Err: errors.New("empty input")}
	}

	format := Sniff(data)
	decode, ok := decoders[format]
	if !ok {
		return Clip{}, &DecodeError{Err: ErrUnknownFormat}
	}

	defer func() {
		if r := recover(); r != nil {
			clip, err = Clip{}, &DecodeError{Format: format, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	clip, err = decode(data, maxSeconds)
	if err != nil {
		return Clip{}, &DecodeError{Format: format, Err: err}
	}
	if clip.SampleRate <= 0 {
		return Clip{}, &DecodeError{Format: format, Err: fmt.Errorf("invalid sample rate %d", clip.SampleRate)}
	}
	return clip, nil
}

// frameLimit converts a duration cap into a frame count.
func frameLimit(sampleRate int, maxSeconds float64) int {
	if maxSeconds <= 0 || sampleRate <= 0 {
		return math.MaxInt
	}
	return int(math.Ceil(maxSeconds * float64(sampleRate)))
}

// WAV format codes
const (
	wavFormatPCM        = 1
	wavFormatIEEE       = 3
	wavFormatExtensible = 0xFFFE
	minFmtChunkSize     = 16
)

type wavFormat struct {
	code          uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

func decodeWAV(data []byte, maxSeconds float64) (Clip, error) {
	var (
		fmtChunk *wavFormat
		pcm      []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Streaming writers leave the data size unset; take what is there.
			if id == "data" {
				end = len(data)
			} else {
				return Clip{}, fmt.Errorf("chunk %q overruns file", id)
			}
		}

		switch id {
		case "fmt ":
			if size < minFmtChunkSize {
				return Clip{}, fmt.Errorf("fmt chunk too small: %d bytes", size)
			}
			f := &wavFormat{
				code:          binary.LittleEndian.Uint16(data[body : body+2]),
				channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				sampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				bitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			if f.code == wavFormatExtensible && size >= 26 {
				f.code = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
			fmtChunk = f
		case "data":
			pcm = data[body:end]
		}

		// Chunks are word aligned.
		pos = end + (size & 1)
		if pcm != nil && fmtChunk != nil {
			break
		}
	}

	if fmtChunk == nil {
		return Clip{}, errors.New("missing fmt chunk")
	}
	if pcm == nil {
		return Clip{}, errors.New("missing data chunk")
	}
	if fmtChunk.channels <= 0 {
		return Clip{}, fmt.Errorf("invalid channel count %d", fmtChunk.channels)
	}

	read, err := wavSampleReader(fmtChunk)
	if err != nil {
		return Clip{}, err
	}

	width := fmtChunk.bitsPerSample / 8
	frameSize := width * fmtChunk.channels
	frames := min(len(pcm)/frameSize, frameLimit(fmtChunk.sampleRate, maxSeconds))
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		base := i * frameSize
		for ch := 0; ch < fmtChunk.channels; ch++ {
			off := base + ch*width
			sum += read(pcm[off : off+width])
		}
		samples[i] = sum / float64(fmtChunk.channels)
	}

	return Clip{Samples: samples, SampleRate: fmtChunk.sampleRate}, nil
}

func wavSampleReader(f *wavFormat) (func([]byte) float64, error) {
	switch f.code {
	case wavFormatPCM:
		switch f.bitsPerSample {
		case 8:
			// 8-bit WAV is unsigned
			return func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }, nil
		case 16:
			return func(b []byte) float64 {
				return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
			}, nil
		case 24:
			return func(b []byte) float64 {
				v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
				if v&0x800000 != 0 {
					v |= ^0xFFFFFF
				}
				return float64(v) / 8388608
			}, nil
		case 32:
			return func(b []byte) float64 {
				return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
			}, nil
		}
	case wavFormatIEEE:
		switch f.bitsPerSample {
		case 32:
			return func(b []byte) float64 {
				return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			}, nil
		case 64:
			return func(b []byte) float64 {
				return math.Float64frombits(binary.LittleEndian.Uint64(b))
			}, nil
		}
	}
	return nil, fmt.Errorf("unsupported WAV encoding (format %d, %d bits)", f.code, f.bitsPerSample)
}

func decodeFLAC(data []byte, maxSeconds float64) (Clip, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Clip{}, err
	}
	defer stream.Close()

	bps := int(stream.Info.BitsPerSample)
	if bps <= 0 || bps > 32 {
		return Clip{}, fmt.Errorf("unsupported bit depth %d", bps)
	}
	scale := float64(int64(1) << (bps - 1))
	rate := int(stream.Info.SampleRate)
	limit := frameLimit(rate, maxSeconds)

	// The header's sample count is untrusted; grow as frames arrive.
	var samples []float64
	for len(samples) < limit {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Clip{}, err
		}
		channels := len(frame.Subframes)
		if channels == 0 {
			continue
		}
		n := int(frame.BlockSize)
		for _, sub := range frame.Subframes {
			if len(sub.Samples) < n {
				return Clip{}, fmt.Errorf("subframe holds %d samples, block size is %d", len(sub.Samples), n)
			}
		}
		for i := 0; i < n; i++ {
			var sum float64
			for _, sub := range frame.Subframes {
				sum += float64(sub.Samples[i])
			}
			samples = append(samples, sum/float64(channels)/scale)
		}
	}
	if len(samples) > limit {
		samples = samples[:limit]
	}

	return Clip{Samples: samples, SampleRate: rate}, nil
}

func decodeMP3(data []byte, maxSeconds float64) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, err
	}
	// go-mp3 always produces 16-bit little-endian stereo.
	const frameBytes = 4
	var src io.Reader = dec
	if limit := frameLimit(dec.SampleRate(), maxSeconds); limit < math.MaxInt/frameBytes {
		src = io.LimitReader(dec, int64(limit)*frameBytes)
	}
	pcm, err := io.ReadAll(src)
	if err != nil {
		return Clip{}, err
	}
	frames := len(pcm) / frameBytes
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes+2:]))
		samples[i] = (float64(l) + float64(r)) / 2 / 32768
	}
	return Clip{Samples: samples, SampleRate: dec.SampleRate()}, nil
}
