// Package wav writes PCM waveforms to complete, valid WAV container files.
// A path returned by this package always denotes a non-empty, structurally
// valid file; a failed write never leaves a partial file behind.
package wav

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nxkoi/vox-navigator/internal/synth"
)

// Default audio parameters.
const (
	DefaultSampleRate = 22050
	DefaultChannels   = 1

	// BytesPerSample is fixed: every file is 16-bit PCM.
	BytesPerSample = 2
)

// Write encodes a sample sequence to a WAV file and returns its absolute
// path.
//
// Samples may mix normalized floats and integers: float32/float64 values
// are clamped to [-1.0, 1.0], scaled by 32767 and truncated toward zero;
// integer values are clamped to the signed 16-bit range. Any element of
// neither family fails the write.
//
// An empty outputPath selects a unique file in the scratch directory; an
// explicit path has its parent directories created and is always
// overwritten, never appended.
func Write(samples []any, outputPath string, sampleRate, channels int) (string, error) {
	if err := validate(len(samples), sampleRate, channels); err != nil {
		return "", err
	}
	pcm, err := pcmFromMixed(samples)
	if err != nil {
		return "", err
	}
	return writeFile(pcm, outputPath, sampleRate, channels)
}

// WriteInt16 encodes 16-bit samples directly.
func WriteInt16(samples []int16, outputPath string, sampleRate, channels int) (string, error) {
	if err := validate(len(samples), sampleRate, channels); err != nil {
		return "", err
	}
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return writeFile(pcm, outputPath, sampleRate, channels)
}

// WriteFloat32 encodes normalized float samples, clamping to [-1.0, 1.0].
func WriteFloat32(samples []float32, outputPath string, sampleRate, channels int) (string, error) {
	if err := validate(len(samples), sampleRate, channels); err != nil {
		return "", err
	}
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(clampFloat(float64(s))))
	}
	return writeFile(pcm, outputPath, sampleRate, channels)
}

// Duration returns the playback time of sampleCount frames at sampleRate.
func Duration(sampleCount, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(sampleCount) / float64(sampleRate) * float64(time.Second))
}

// validate fails fast, before any I/O.
func validate(sampleCount, sampleRate, channels int) error {
	if sampleRate <= 0 {
		return synth.Errorf(synth.KindAudioWrite, "invalid sample rate: %d Hz", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return synth.Errorf(synth.KindAudioWrite, "unsupported channel count: %d (must be 1 or 2)", channels)
	}
	if sampleCount == 0 {
		return synth.NewError(synth.KindAudioWrite, "audio data cannot be empty")
	}
	return nil
}

// clampFloat maps a normalized float sample to int16, truncating toward
// zero after clamping to [-1.0, 1.0].
func clampFloat(s float64) int16 {
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int16(s * 32767)
}

// clampInt clamps an integer sample to the signed 16-bit range.
func clampInt(s int64) int16 {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

// pcmFromMixed converts a mixed float/int sample sequence to little-endian
// 16-bit PCM bytes.
func pcmFromMixed(samples []any) ([]byte, error) {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, raw := range samples {
		var v int16
		switch s := raw.(type) {
		case float64:
			v = clampFloat(s)
		case float32:
			v = clampFloat(float64(s))
		case int:
			v = clampInt(int64(s))
		case int8:
			v = int16(s)
		case int16:
			v = s
		case int32:
			v = clampInt(int64(s))
		case int64:
			v = clampInt(s)
		default:
			return nil, synth.Errorf(synth.KindAudioWrite, "invalid sample type %T at index %d (must be float or int)", raw, i)
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm, nil
}

// resolvePath picks the final output path. Unpredictable scratch names keep
// concurrent callers from ever contending on the same file.
func resolvePath(outputPath string) (string, error) {
	if outputPath == "" {
		return filepath.Join(os.TempDir(), "tts_"+uuid.NewString()+".wav"), nil
	}
	abs, err := filepath.Abs(outputPath)
	if err != nil {
		return "", synth.Wrap(synth.KindAudioWrite, "unable to resolve output path", err)
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", synth.Wrap(synth.KindAudioWrite, "unable to create output directory", err)
		}
	}
	return abs, nil
}

// writeFile writes the container header followed by the PCM payload. If
// writing fails after the file was created, the partial file is removed
// before the error propagates; a creation failure removes nothing, so a
// pre-existing entry at the target path (a directory, say) is never
// deleted. A zero-byte result after a reported success is itself a failure.
func writeFile(pcm []byte, outputPath string, sampleRate, channels int) (string, error) {
	path, err := resolvePath(outputPath)
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", synth.Wrap(synth.KindAudioWrite, fmt.Sprintf("failed to create WAV file at %s", path), err)
	}

	if err := writeContainer(f, pcm, sampleRate, channels); err != nil {
		removeQuietly(path)
		return "", synth.Wrap(synth.KindAudioWrite, fmt.Sprintf("failed to write WAV file to %s", path), err)
	}

	// Re-stat to confirm the file really landed on disk.
	fi, err := os.Stat(path)
	if err != nil {
		return "", synth.Wrap(synth.KindAudioWrite, fmt.Sprintf("WAV file was not created at %s", path), err)
	}
	if fi.Size() == 0 {
		removeQuietly(path)
		return "", synth.Errorf(synth.KindAudioWrite, "WAV file is empty at %s", path)
	}

	return path, nil
}

func writeContainer(f *os.File, pcm []byte, sampleRate, channels int) error {
	w := bufio.NewWriter(f)
	if err := writeHeader(w, len(pcm), sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeHeader emits the RIFF/fmt/data chunks for 16-bit little-endian PCM.
func writeHeader(w *bufio.Writer, dataSize, sampleRate, channels int) error {
	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	byteRate := uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8
	blockAlign := numChannels * bitsPerSample / 8

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+dataSize))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, numChannels)
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, byteRate)
	binary.Write(w, binary.LittleEndian, blockAlign)
	binary.Write(w, binary.LittleEndian, bitsPerSample)

	w.WriteString("data")
	return binary.Write(w, binary.LittleEndian, uint32(dataSize))
}

func removeQuietly(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}
