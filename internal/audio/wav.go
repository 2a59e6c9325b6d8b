// Package audio encodes synthesized sample buffers into WAV containers and
// decodes container metadata back for verification.
package audio

import (
	"errors"
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Container format produced by the XTTS vocoder.
const (
	SampleRate  = 24000
	BitDepth    = 16
	NumChannels = 1
)

// PCM format tag for the WAV header.
const pcmFormat = 1

// Peak value for 16-bit signed samples.
const maxInt16 = 32767

// Error message formats.
const (
	errFmtCreateFile   = "failed to create output file %s: %w"
	errFmtEncodeFrames = "failed to encode audio frames: %w"
	errFmtCloseEncoder = "failed to finalize wav container: %w"
	errFmtOpenFile     = "failed to open wav file %s: %w"
	errFmtDecodeFile   = "%w: %s"
)

// ErrNotWav is returned when a file does not carry a decodable WAV header.
var ErrNotWav = errors.New("not a valid wav file")

// Info describes a WAV container, as read back from disk.
type Info struct {
	SampleRate  int
	BitDepth    int
	NumChannels int
	Frames      int
}

// Duration returns the playback length in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate == 0 {
		return 0
	}

	return float64(i.Frames) / float64(i.SampleRate)
}

// WriteWAV writes mono float samples to path as a 24000 Hz 16-bit PCM WAV
// file. Samples outside [-1, 1] are clamped. An existing file at path is
// overwritten.
func WriteWAV(path string, samples []float32) error {
	file, createErr := os.Create(path)
	if createErr != nil {
		return fmt.Errorf(errFmtCreateFile, path, createErr)
	}
	defer func() {
		_ = file.Close()
	}()

	intData := make([]int, len(samples))
	for i, sample := range samples {
		intData[i] = int(clamp(sample) * maxInt16)
	}

	encoder := wav.NewEncoder(file, SampleRate, BitDepth, NumChannels, pcmFormat)
	buf := &gaudio.IntBuffer{
		Data:           intData,
		Format:         &gaudio.Format{SampleRate: SampleRate, NumChannels: NumChannels},
		SourceBitDepth: BitDepth,
	}

	writeErr := encoder.Write(buf)
	if writeErr != nil {
		return fmt.Errorf(errFmtEncodeFrames, writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf(errFmtCloseEncoder, closeErr)
	}

	return nil
}

// ReadInfo decodes the container metadata of the WAV file at path.
func ReadInfo(path string) (Info, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return Info{}, fmt.Errorf(errFmtOpenFile, path, openErr)
	}
	defer func() {
		_ = file.Close()
	}()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf(errFmtDecodeFile, ErrNotWav, path)
	}

	buf, decodeErr := decoder.FullPCMBuffer()
	if decodeErr != nil {
		return Info{}, fmt.Errorf(errFmtDecodeFile, ErrNotWav, path)
	}

	channels := int(decoder.NumChans)
	frames := len(buf.Data)
	if channels > 0 {
		frames /= channels
	}

	info := Info{
		SampleRate:  int(decoder.SampleRate),
		BitDepth:    int(decoder.BitDepth),
		NumChannels: channels,
		Frames:      frames,
	}

	return info, nil
}

func clamp(sample float32) float32 {
	if sample > 1.0 {
		return 1.0
	}

	if sample < -1.0 {
		return -1.0
	}

	return sample
}
