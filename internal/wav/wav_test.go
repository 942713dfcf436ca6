package wav

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nxkoi/vox-navigator/internal/synth"
)

func TestWriteRoundTrip(t *testing.T) {
	samples := make([]int16, 22050) // one second
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	out := filepath.Join(t.TempDir(), "tone.wav")
	path, err := WriteInt16(samples, out, DefaultSampleRate, DefaultChannels)
	if err != nil {
		t.Fatalf("WriteInt16() failed: %v", err)
	}

	info, data, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if info.SampleRate != DefaultSampleRate {
		t.Errorf("sample rate = %d, want %d", info.SampleRate, DefaultSampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("channels = %d, want 1", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("bits per sample = %d, want 16", info.BitsPerSample)
	}
	if info.Samples != len(samples) {
		t.Errorf("sample count = %d, want %d", info.Samples, len(samples))
	}
	if got := info.Duration(); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}

	decoded := BytesToInt16(data)
	for i, s := range samples {
		if decoded[i] != s {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], s)
		}
	}
}

func TestWriteClamping(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int16
	}{
		{"float above range", 2.0, 32767},
		{"float at ceiling", 1.0, 32767},
		{"float below range", -40.0, -32767},
		{"float at floor", -1.0, -32767},
		{"float truncates toward zero", 0.5, 16383},
		{"negative float truncates toward zero", -0.5, -16383},
		{"float zero", 0.0, 0},
		{"int above range", 40000, 32767},
		{"int below range", -40000, -32768},
		{"int in range", -1234, -1234},
		{"int32 above range", int32(1 << 20), 32767},
		{"int64 below range", int64(-1 << 40), -32768},
		{"float32", float32(1.5), 32767},
		{"int16 passthrough", int16(-32768), -32768},
		{"int8 widens", int8(-128), -128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "s.wav")
			path, err := Write([]any{tt.in}, out, DefaultSampleRate, 1)
			if err != nil {
				t.Fatalf("Write() failed: %v", err)
			}
			_, data, err := Read(path)
			if err != nil {
				t.Fatalf("Read() failed: %v", err)
			}
			got := BytesToInt16(data)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("encoded sample = %v, want [%d]", got, tt.want)
			}
		})
	}
}

func TestWriteMixedSamples(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mixed.wav")
	path, err := Write([]any{0.25, int(100), float32(-0.5), int16(7)}, out, DefaultSampleRate, 1)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo() failed: %v", err)
	}
	if info.Samples != 4 {
		t.Errorf("sample count = %d, want 4", info.Samples)
	}
}

func TestWriteValidation(t *testing.T) {
	tests := []struct {
		name       string
		samples    []any
		sampleRate int
		channels   int
		wantMsg    string
	}{
		{"zero sample rate", []any{0.0}, 0, 1, "sample rate"},
		{"negative sample rate", []any{0.0}, -22050, 1, "sample rate"},
		{"zero channels", []any{0.0}, 22050, 0, "channel count"},
		{"too many channels", []any{0.0}, 22050, 3, "channel count"},
		{"empty samples", nil, 22050, 1, "empty"},
		{"invalid sample type", []any{0.5, "loud"}, 22050, 1, "invalid sample type string at index 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Write(tt.samples, filepath.Join(t.TempDir(), "x.wav"), tt.sampleRate, tt.channels)
			if !synth.IsKind(err, synth.KindAudioWrite) {
				t.Fatalf("kind = %v, want AUDIO_WRITE", synth.KindOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestWriteEmptyPathUsesScratchDir(t *testing.T) {
	a, err := Write([]any{0.1}, "", DefaultSampleRate, 1)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	defer os.Remove(a)
	b, err := Write([]any{0.1}, "", DefaultSampleRate, 1)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	defer os.Remove(b)

	if a == b {
		t.Error("scratch paths should never collide")
	}
	if filepath.Dir(a) != os.TempDir() {
		t.Errorf("scratch dir = %q, want %q", filepath.Dir(a), os.TempDir())
	}
}

func TestWriteCreatesParentDirs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "deep", "out.wav")
	path, err := WriteFloat32([]float32{0.0, 0.5}, out, DefaultSampleRate, 1)
	if err != nil {
		t.Fatalf("WriteFloat32() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestWriteOverwrites(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.wav")
	if err := os.WriteFile(out, []byte("stale and much longer than the new file"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := Write([]any{int16(1)}, out, DefaultSampleRate, 1)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo() failed: %v", err)
	}
	if info.Samples != 1 {
		t.Errorf("sample count = %d, want 1 (file should be truncated, not appended)", info.Samples)
	}
}

func TestWriteFailureLeavesNoFile(t *testing.T) {
	// The target path is a pre-existing empty directory, so creating the
	// file fails. Cleanup must only ever touch what the encoder created:
	// the directory has to survive (os.Remove would happily delete it).
	dir := t.TempDir()
	target := filepath.Join(dir, "isdir")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := Write([]any{0.5}, target, DefaultSampleRate, 1)
	if !synth.IsKind(err, synth.KindAudioWrite) {
		t.Fatalf("kind = %v, want AUDIO_WRITE", synth.KindOf(err))
	}
	if fi, statErr := os.Stat(target); statErr != nil || !fi.IsDir() {
		t.Error("pre-existing directory should be untouched")
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries after failed write, want 1", len(entries))
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		samples    int
		sampleRate int
		want       time.Duration
	}{
		{"one second", 22050, 22050, time.Second},
		{"half second", 12000, 24000, 500 * time.Millisecond},
		{"zero samples", 0, 22050, 0},
		{"zero rate", 22050, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.samples, tt.sampleRate); got != tt.want {
				t.Errorf("Duration(%d, %d) = %v, want %v", tt.samples, tt.sampleRate, got, tt.want)
			}
		})
	}
}

func TestBytesToInt16(t *testing.T) {
	got := BytesToInt16([]byte{0x01, 0x00, 0xff, 0xff, 0x0a})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (trailing odd byte dropped)", len(got))
	}
	if got[0] != 1 || got[1] != -1 {
		t.Errorf("samples = %v, want [1 -1]", got)
	}
}
