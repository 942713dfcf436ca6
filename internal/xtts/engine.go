// Package xtts drives a local XTTS v2 voice-cloning model through a runner
// subprocess. The runner speaks a small contract: text on stdin, raw signed
// 16-bit little-endian PCM on stdout, and a structured JSON error report on
// stderr when anything goes wrong.
package xtts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nxkoi/vox-navigator/internal/device"
	"github.com/nxkoi/vox-navigator/internal/synth"
	"github.com/nxkoi/vox-navigator/internal/wav"
)

const (
	// DefaultRunner is the runner executable resolved on PATH.
	DefaultRunner = "xtts-runner"

	// DefaultModel is the model identifier the runner loads when no
	// explicit path is configured.
	DefaultModel = "tts_models/multilingual/multi-dataset/xtts_v2"

	// DefaultSampleRate is the model's native output rate.
	DefaultSampleRate = 24000

	// DefaultLanguage is used when no synthesis language is configured.
	DefaultLanguage = "en"

	// DefaultTimeout bounds a single synthesis subprocess.
	DefaultTimeout = 2 * time.Minute

	// maxTextSize caps input length to prevent resource exhaustion.
	maxTextSize = 10000
)

// Config holds configuration for the XTTS engine.
type Config struct {
	// Runner is the runner executable (default "xtts-runner").
	Runner string

	// ModelPath optionally points at local model files; empty selects
	// DefaultModel.
	ModelPath string

	// VoicePath is the reference voice sample for cloning. Empty resolves
	// voices/default.wav next to the running binary.
	VoicePath string

	// Language is the synthesis language code.
	Language string

	// SampleRate is the runner's output rate in Hz.
	SampleRate int

	// Timeout bounds each runner invocation.
	Timeout time.Duration
}

// Engine implements synth.Engine using the runner subprocess. It is safe
// for concurrent use: the loaded-model flag is mutex-guarded and each
// synthesis runs its own subprocess.
type Engine struct {
	cfg Config
	dev device.Descriptor

	mu     sync.Mutex
	loaded bool
}

var _ synth.Engine = (*Engine)(nil)

// New creates an XTTS engine bound to the given device. Construction is
// cheap; the model is loaded by LoadModel or lazily on first synthesis.
func New(cfg Config, dev device.Descriptor) *Engine {
	if cfg.Runner == "" {
		cfg.Runner = DefaultRunner
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Engine{cfg: cfg, dev: dev}
}

// Factory returns a synth.Factory producing engines with this configuration.
func Factory(cfg Config) synth.Factory {
	return func(d device.Descriptor) (synth.Engine, error) {
		return New(cfg, d), nil
	}
}

// LoadModel loads the model into the runner's cache and warms it on the
// engine's device. Idempotent: after the first success later calls return
// immediately.
func (e *Engine) LoadModel(ctx context.Context, modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		log.Debug("Model already loaded, skipping")
		return nil
	}

	model := e.modelPath(modelPath)
	log.Info("Loading XTTS model, this may take a while on first run",
		"model", model, "device", e.dev.Backend)

	args := []string{
		"--model", model,
		"--device", e.dev.Backend,
		"--warmup",
	}
	if _, err := runRunner(ctx, e.cfg.Runner, "", args, e.cfg.Timeout); err != nil {
		return classifyRunnerError(err, synth.KindEngineLoad)
	}

	e.loaded = true
	log.Info("XTTS model loaded", "device", e.dev.Backend)
	return nil
}

// Synthesize runs inference for text and writes the waveform to a WAV file
// at outputPath (or a scratch file when empty), returning the final path.
func (e *Engine) Synthesize(ctx context.Context, text, outputPath string) (string, error) {
	if err := validateText(text); err != nil {
		return "", err
	}

	// Lazy load keeps first-request latency in one place.
	if err := e.LoadModel(ctx, ""); err != nil {
		return "", err
	}

	voice, err := e.voicePath()
	if err != nil {
		return "", err
	}

	args := []string{
		"--model", e.modelPath(""),
		"--device", e.dev.Backend,
		"--speaker-wav", voice,
		"--language", e.cfg.Language,
		"--output-raw",
	}

	log.Debug("Synthesizing", "chars", len(text), "device", e.dev.Backend, "language", e.cfg.Language)

	pcm, err := runRunner(ctx, e.cfg.Runner, text, args, e.cfg.Timeout)
	if err != nil {
		return "", classifyRunnerError(err, synth.KindSynthesis)
	}
	if len(pcm) == 0 {
		return "", synth.NewError(synth.KindSynthesis, "runner produced no audio data")
	}

	samples := wav.BytesToInt16(pcm)
	path, err := wav.WriteInt16(samples, outputPath, e.cfg.SampleRate, 1)
	if err != nil {
		return "", err
	}

	log.Debug("Synthesis complete",
		"path", path,
		"samples", len(samples),
		"duration", wav.Duration(len(samples), e.cfg.SampleRate))
	return path, nil
}

// Info implements synth.Engine.
func (e *Engine) Info() synth.EngineInfo {
	return synth.EngineInfo{
		Name:        "xtts",
		SampleRate:  e.cfg.SampleRate,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: maxTextSize,
	}
}

// Close implements synth.Engine. The runner holds no state between
// invocations, so there is nothing to release.
func (e *Engine) Close() error {
	return nil
}

func (e *Engine) modelPath(override string) string {
	if override != "" {
		return override
	}
	if e.cfg.ModelPath != "" {
		return e.cfg.ModelPath
	}
	return DefaultModel
}

// voicePath resolves the mandatory reference voice sample and verifies it
// exists before every synthesis attempt.
func (e *Engine) voicePath() (string, error) {
	path := e.cfg.VoicePath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", synth.Wrap(synth.KindSynthesis, "unable to locate default reference voice", err)
		}
		path = filepath.Join(filepath.Dir(exe), "voices", "default.wav")
	}
	if _, err := os.Stat(path); err != nil {
		return "", synth.Errorf(synth.KindSynthesis, "reference voice sample not found: %s", path)
	}
	return path, nil
}

func validateText(text string) error {
	if text == "" {
		return synth.NewError(synth.KindSynthesis, "text input cannot be empty")
	}
	if len(text) > maxTextSize {
		return synth.Errorf(synth.KindSynthesis,
			"text input exceeds maximum length of %d characters", maxTextSize)
	}
	return nil
}

// classifyRunnerError maps a runner failure onto the taxonomy using the
// structured code the runner reported. Classification is by field, never by
// matching substrings of the message.
func classifyRunnerError(err error, fallback synth.Kind) error {
	var rerr *runnerError
	if errors.As(err, &rerr) {
		switch rerr.Code {
		case codeLoad:
			return synth.Wrap(synth.KindEngineLoad, rerr.Message, err)
		case codeOOM:
			return synth.Wrap(synth.KindSynthesis, fmt.Sprintf("device out of memory: %s", rerr.Message), err)
		case codeVoice:
			return synth.Wrap(synth.KindSynthesis, fmt.Sprintf("reference voice rejected: %s", rerr.Message), err)
		case codeBackend:
			return synth.Wrap(synth.KindSynthesis, fmt.Sprintf("backend failure: %s", rerr.Message), err)
		}
	}
	return synth.Classify(err, fallback)
}
