package reference

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// decodeChunkFrames is the number of sample frames read per decode chunk.
// Chunked reading keeps long files cancellable between chunks.
const decodeChunkFrames = 8192

// DecodeWAVMono decodes a WAV file to a mono float64 stream in [-1, 1],
// averaging channels. It returns the samples and the file's sample rate.
func DecodeWAVMono(ctx context.Context, path string) ([]float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reference: open audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("reference: %s is not a valid WAV file", path)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, 0, fmt.Errorf("reference: %s declares no channels", path)
	}

	sampleRate := float64(dec.SampleRate)
	if sampleRate <= 0 {
		return nil, 0, fmt.Errorf("reference: %s declares sample rate %v", path, dec.SampleRate)
	}

	scale := 1.0
	if dec.BitDepth > 0 && dec.BitDepth <= 32 {
		scale = 1 / float64(int64(1)<<(dec.BitDepth-1))
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		Data:   make([]int, decodeChunkFrames*channels),
	}

	var mono []float64
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, 0, fmt.Errorf("reference: decode %s: %w", path, err)
		}

		if n == 0 {
			break
		}

		frames := n / channels
		for i := 0; i < frames; i++ {
			sum := 0.0
			for ch := 0; ch < channels; ch++ {
				sum += float64(buf.Data[i*channels+ch])
			}

			mono = append(mono, sum*scale/float64(channels))
		}
	}

	if len(mono) == 0 {
		return nil, 0, fmt.Errorf("reference: %s contains no samples", path)
	}

	return mono, sampleRate, nil
}
