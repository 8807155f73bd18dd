package features

import (
	"bytes"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/snarg/speaker-id/internal/audio"
)

func sine(freq float64, rate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestMagnitudeSpectrogram(t *testing.T) {
	t.Run("impulse_is_flat", func(t *testing.T) {
		const n = 16
		rect := make([]float64, n)
		for i := range rect {
			rect[i] = 1
		}
		// Frame 1 holds the impulse; a shifted impulse has flat magnitude.
		x := make([]float64, 2*n)
		x[n/2] = 1
		mag := magnitudeSpectrogram(fourier.NewFFT(n), x, rect, n/2)
		for k, v := range mag[1] {
			assert.InDelta(t, 1, v, 1e-12, "bin %d", k)
		}
	})

	t.Run("sine_peaks_at_its_bin", func(t *testing.T) {
		const n = 64
		rect := make([]float64, n)
		for i := range rect {
			rect[i] = 1
		}
		x := make([]float64, 4*n)
		for i := range x {
			x[i] = math.Cos(2 * math.Pi * 5 * float64(i) / float64(n))
		}
		mag := magnitudeSpectrogram(fourier.NewFFT(n), x, rect, n)
		row := mag[2]
		require.Len(t, row, n/2+1)
		assert.InDelta(t, float64(n)/2, row[5], 1e-9)
		assert.InDelta(t, 0, row[6], 1e-9)
	})
}

func TestMelScale(t *testing.T) {
	assert.InDelta(t, 15.0, hzToMel(1000), 1e-12)
	assert.InDelta(t, 3.0, hzToMel(200), 1e-12)
	for _, hz := range []float64{0, 150, 999, 1000, 4000, 11025} {
		assert.InDelta(t, hz, melToHz(hzToMel(hz)), 1e-9)
	}

	bank := melFilterBank(SampleRate, fftSize, NumMels, 0, SampleRate/2.0)
	require.Len(t, bank, NumMels)
	for m, filter := range bank {
		require.Len(t, filter, fftSize/2+1)
		var peak float64
		for _, w := range filter {
			assert.GreaterOrEqual(t, w, 0.0)
			peak = math.Max(peak, w)
		}
		assert.Greater(t, peak, 0.0, "filter %d is empty", m)
	}
}

func TestMFCCOrthonormal(t *testing.T) {
	// A spectrum that is flat across bands has energy only in c0.
	bands := make([][]float64, NumMels)
	for b := range bands {
		bands[b] = []float64{2, 2}
	}
	c := mfcc(bands, NumMFCC)
	require.Len(t, c, NumMFCC)
	assert.InDelta(t, 2*math.Sqrt(NumMels), c[0][0], 1e-9)
	for k := 1; k < NumMFCC; k++ {
		assert.InDelta(t, 0, c[k][1], 1e-9)
	}
}

func TestPowerToDB(t *testing.T) {
	db := powerToDB([][]float64{{1, 0.1, 0}}, 1.0)
	assert.InDelta(t, 0, db[0][0], 1e-12)
	assert.InDelta(t, -10, db[0][1], 1e-12)
	assert.InDelta(t, -80, db[0][2], 1e-12, "floored at top_db below peak")
}

func TestDelta(t *testing.T) {
	n := 20
	ramp := make([]float64, n)
	square := make([]float64, n)
	flat := make([]float64, n)
	for i := range ramp {
		ramp[i] = 3 * float64(i)
		square[i] = float64(i * i)
		flat[i] = 7
	}

	d1 := delta([][]float64{ramp, flat}, 1)
	d2 := delta([][]float64{square, ramp}, 2)
	for i := 4; i < n-4; i++ {
		assert.InDelta(t, 3, d1[0][i], 1e-9)
		assert.InDelta(t, 0, d1[1][i], 1e-9)
		assert.InDelta(t, 2, d2[0][i], 1e-9)
		assert.InDelta(t, 0, d2[1][i], 1e-9)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	zcr := zeroCrossingRate(sine(441, SampleRate, SampleRate), fftSize, hopLength)
	require.NotEmpty(t, zcr)
	assert.InDelta(t, 2*441.0/SampleRate, zcr[len(zcr)/2], 0.002)

	silent := zeroCrossingRate(make([]float64, 4096), fftSize, hopLength)
	for _, v := range silent {
		assert.Zero(t, v)
	}
}

func TestSpectralDescriptors(t *testing.T) {
	e := NewExtractor()
	mag := magnitudeSpectrogram(fourier.NewFFT(fftSize), sine(1000, SampleRate, SampleRate), e.window, hopLength)
	assert.Len(t, mag, 1+SampleRate/hopLength)

	mid := len(mag) / 2
	centroid := spectralCentroid(mag, e.freqs)
	rolloff := spectralRolloff(mag, e.freqs)
	assert.InDelta(t, 1000, centroid[mid], 30)
	assert.InDelta(t, 1000, rolloff[mid], 30)
}

func TestExtract(t *testing.T) {
	e := NewExtractor()

	t.Run("normalized", func(t *testing.T) {
		for _, freq := range []float64{220, 440, 880} {
			v, err := e.Extract(sine(freq, SampleRate, SampleRate), SampleRate)
			require.NoError(t, err)
			require.Len(t, v, Dimension)
			assert.InDelta(t, 0, mean(v), 1e-9)
			assert.InDelta(t, 1, std(v), 1e-9)
		}
	})

	t.Run("white_noise", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		noise := make([]float64, SampleRate)
		for i := range noise {
			noise[i] = rng.Float64()*2 - 1
		}
		v, err := e.Extract(noise, SampleRate)
		require.NoError(t, err)
		assert.InDelta(t, 1, std(v), 1e-9)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := e.Extract(sine(440, SampleRate, SampleRate), SampleRate)
		require.NoError(t, err)
		b, err := e.Extract(sine(440, SampleRate, SampleRate), SampleRate)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("truncates_to_max_duration", func(t *testing.T) {
		long := sine(300, SampleRate, 8*SampleRate)
		a, err := e.Extract(long, SampleRate)
		require.NoError(t, err)
		b, err := e.Extract(long[:int(MaxDuration*SampleRate)], SampleRate)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := e.Extract(nil, SampleRate)
		assert.Equal(t, ReasonEmpty, ReasonOf(err))
	})

	t.Run("constant_signal", func(t *testing.T) {
		flat := make([]float64, SampleRate)
		for i := range flat {
			flat[i] = 0.25
		}
		_, err := e.Extract(flat, SampleRate)
		assert.Equal(t, ReasonDegenerate, ReasonOf(err))

		_, err = e.Extract(make([]float64, SampleRate), SampleRate)
		assert.Equal(t, ReasonDegenerate, ReasonOf(err))
	})
}

func TestExtractAudio(t *testing.T) {
	e := NewExtractor()

	t.Run("wav", func(t *testing.T) {
		v, err := e.ExtractAudio(audio.EncodeWAV(sine(440, SampleRate, SampleRate), SampleRate))
		require.NoError(t, err)
		assert.Len(t, v, Dimension)
	})

	t.Run("flac_16k", func(t *testing.T) {
		v, err := e.ExtractAudio(flacBytes(t, sine(300, 16000, 16000*2), 16000, 0))
		require.NoError(t, err)
		assert.Len(t, v, Dimension)
		assert.InDelta(t, 1, std(v), 1e-9)
	})

	t.Run("flac_header_claims_huge_length", func(t *testing.T) {
		_, err := e.ExtractAudio(flacBytes(t, nil, 16000, 1<<35))
		reason := ReasonOf(err)
		assert.True(t, reason == ReasonEmpty || reason == ReasonDecodeFailed, "reason %v", reason)
	})

	t.Run("undecodable", func(t *testing.T) {
		_, err := e.ExtractAudio([]byte("not audio at all"))
		require.Error(t, err)
		assert.Equal(t, ReasonDecodeFailed, ReasonOf(err))
		var de *audio.DecodeError
		assert.ErrorAs(t, err, &de)
	})
}

func TestExtractConcurrent(t *testing.T) {
	e := NewExtractor()
	want, err := e.Extract(sine(440, SampleRate, SampleRate), SampleRate)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Voiceprint, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.Extract(sine(440, SampleRate, SampleRate), SampleRate)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

// flacBytes encodes samples as 16-bit mono FLAC. declared overrides the
// header sample count when non-zero.
func flacBytes(t *testing.T, samples []float64, rate int, declared uint64) []byte {
	t.Helper()
	const blockSize = 4096
	if declared == 0 {
		declared = uint64(len(samples))
	}
	var buf bytes.Buffer
	enc, err := flac.NewEncoder(&buf, &meta.StreamInfo{
		BlockSizeMin:  blockSize,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(rate),
		NChannels:     1,
		BitsPerSample: 16,
		NSamples:      declared,
	})
	require.NoError(t, err)
	for start := 0; start < len(samples); start += blockSize {
		end := min(start+blockSize, len(samples))
		pcm := make([]int32, end-start)
		for i := range pcm {
			pcm[i] = int32(math.Round(samples[start+i] * 32767))
		}
		require.NoError(t, enc.WriteFrame(&frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(len(pcm)),
				SampleRate:        uint32(rate),
				Channels:          frame.ChannelsMono,
				BitsPerSample:     16,
			},
			Subframes: []*frame.Subframe{{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   pcm,
				NSamples:  len(pcm),
			}},
		}))
	}
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestNormalizeRejectsNonFinite(t *testing.T) {
	_, err := normalize([]float64{1, math.NaN(), 2})
	assert.Equal(t, ReasonDegenerate, ReasonOf(err))
}
