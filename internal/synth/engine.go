package synth

import (
	"context"

	"github.com/nxkoi/vox-navigator/internal/device"
)

// Engine is the inference capability: given text and a device, it produces
// a finished audio file. The Manager treats implementations purely as a
// capability and never inspects which model or device-mapping strategy
// backs them.
type Engine interface {
	// LoadModel loads the neural model into memory. It is idempotent:
	// after the first success later calls are no-ops. Empty modelPath
	// selects the implementation's default model. Failures carry
	// KindEngineLoad.
	LoadModel(ctx context.Context, modelPath string) error

	// Synthesize converts text to speech and writes a complete WAV file,
	// returning its absolute path. An empty outputPath selects a unique
	// scratch file. Inference-time failures carry KindSynthesis (GPU out
	// of memory, missing reference voice, backend errors included) and
	// must never leave a non-empty invalid file behind.
	Synthesize(ctx context.Context, text, outputPath string) (string, error)

	// Info reports the engine's fixed audio characteristics.
	Info() EngineInfo

	// Close releases engine resources.
	Close() error
}

// EngineInfo describes an engine's output format and limits.
type EngineInfo struct {
	Name        string // engine name, e.g. "xtts"
	SampleRate  int    // native output sample rate in Hz
	Channels    int    // 1 = mono, 2 = stereo
	BitDepth    int    // bits per sample
	MaxTextSize int    // maximum input size in characters
}

// Factory constructs an engine bound to the given device. The Manager
// calls it lazily, at most once per successful (device, engine) pair.
type Factory func(d device.Descriptor) (Engine, error)
