package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// Info describes a WAV file's format as declared by its header.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Samples is the per-channel frame count in the data chunk.
	Samples int
}

// Duration returns the playback time declared by the header.
func (i Info) Duration() time.Duration {
	return Duration(i.Samples, i.SampleRate)
}

// ReadInfo parses the header of the WAV file at path.
func ReadInfo(path string) (Info, error) {
	info, _, err := read(path, false)
	return info, err
}

// Read parses the WAV file at path and returns its header info along with
// the raw PCM payload.
func Read(path string) (Info, []byte, error) {
	return read(path, true)
}

func read(path string, wantData bool) (Info, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Info{}, nil, fmt.Errorf("short RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, nil, fmt.Errorf("%s is not a RIFF/WAVE file", path)
	}

	var info Info
	var data []byte
	sawFmt := false

	// Walk chunks until the data chunk; tolerate extra chunks in between.
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return Info{}, nil, err
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return Info{}, nil, fmt.Errorf("short fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return Info{}, nil, fmt.Errorf("fmt chunk too small: %d bytes", len(body))
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			sawFmt = true

		case "data":
			if !sawFmt {
				return Info{}, nil, fmt.Errorf("data chunk before fmt chunk in %s", path)
			}
			bytesPerFrame := info.Channels * info.BitsPerSample / 8
			if bytesPerFrame > 0 {
				info.Samples = int(size) / bytesPerFrame
			}
			if !wantData {
				return info, nil, nil
			}
			data = make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return Info{}, nil, fmt.Errorf("short data chunk: %w", err)
			}
			return info, data, nil

		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return Info{}, nil, err
			}
		}
	}

	return Info{}, nil, fmt.Errorf("no data chunk in %s", path)
}

// BytesToInt16 reinterprets little-endian 16-bit PCM bytes as samples.
// Trailing odd bytes are dropped.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
