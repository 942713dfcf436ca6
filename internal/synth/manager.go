package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/nxkoi/vox-navigator/internal/device"
)

// DeviceSelector abstracts device detection for the Manager.
type DeviceSelector interface {
	Detect(ctx context.Context) (device.Descriptor, error)
}

// Config configures a Manager.
type Config struct {
	// Selector detects the compute device (required).
	Selector DeviceSelector

	// Factory constructs the inference engine for a device (required).
	Factory Factory

	// ModelPath optionally overrides the engine's default model.
	ModelPath string

	// OutputDir is the default directory for synthesized files. Empty
	// selects the system scratch directory.
	OutputDir string
}

// Manager owns the process-wide inference resource. It is constructed once
// at startup and passed by reference to every request handler; initialization
// is lazy, at most once, and guarded by a mutex so concurrent first requests
// never construct the engine twice or observe a half-initialized handle.
//
// Lifecycle: Uninitialized -> DeviceKnown -> EngineReady, with a one-shot
// recoverable transition to the CPU device when engine construction fails on
// an accelerator.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	dev    *device.Descriptor
	engine Engine
}

// New creates a Manager. No detection or model loading happens here; both
// are deferred to the first request that needs them.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// DeviceInfo returns the detected compute device, memoized after the first
// successful detection. A detection failure is returned as a Device-kind
// error and leaves the Manager clean: a later call retries detection.
func (m *Manager) DeviceInfo(ctx context.Context) (device.Descriptor, error) {
	m.mu.RLock()
	if m.dev != nil {
		d := *m.dev
		m.mu.RUnlock()
		return d, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceInfoLocked(ctx)
}

func (m *Manager) deviceInfoLocked(ctx context.Context) (device.Descriptor, error) {
	if m.dev != nil {
		return *m.dev, nil
	}
	d, err := m.cfg.Selector.Detect(ctx)
	if err != nil {
		return device.Descriptor{}, Classify(err, KindDevice)
	}
	m.dev = &d
	return d, nil
}

// Engine returns the initialized inference engine, constructing it on first
// use. If construction fails on a non-CPU device the Manager retries exactly
// once against the CPU fallback, replacing the cached device descriptor on
// success. If both attempts fail nothing is cached and the next call starts
// the sequence again.
func (m *Manager) Engine(ctx context.Context) (Engine, error) {
	m.mu.RLock()
	if m.engine != nil {
		e := m.engine
		m.mu.RUnlock()
		return e, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock: another request may have won the race.
	if m.engine != nil {
		return m.engine, nil
	}

	dev, err := m.deviceInfoLocked(ctx)
	if err != nil {
		return nil, err
	}

	eng, err := m.initEngine(ctx, dev)
	if err == nil {
		m.engine = eng
		log.Info("Engine initialized", "device", dev.Name, "kind", dev.Kind)
		return eng, nil
	}

	if dev.IsCPU() {
		// Already on CPU, no fallback possible.
		return nil, Wrap(KindEngineLoad, "engine initialization failed on cpu", err)
	}

	log.Warn("Engine initialization failed, attempting CPU fallback",
		"device", dev.Name, "kind", dev.Kind, "error", err)

	fb := device.CPUDescriptor(fmt.Sprintf("cpu fallback after %s failure", dev.Kind))
	cpuEng, cpuErr := m.initEngine(ctx, fb)
	if cpuErr != nil {
		log.Error("CPU fallback also failed", "error", cpuErr)
		return nil, Errorf(KindEngineLoad,
			"engine initialization failed on both %s and cpu: %v; cpu error: %v",
			dev.Kind, err, cpuErr)
	}

	m.dev = &fb
	m.engine = cpuEng
	log.Info("Engine initialized on CPU after fallback", "original", dev.Kind)
	return cpuEng, nil
}

// initEngine constructs and warms an engine for the given device. Both a
// factory failure and a model-load failure count as construction failure.
func (m *Manager) initEngine(ctx context.Context, d device.Descriptor) (Engine, error) {
	eng, err := m.cfg.Factory(d)
	if err != nil {
		return nil, fmt.Errorf("create engine for device %s: %w", d.Kind, err)
	}
	if err := eng.LoadModel(ctx, m.cfg.ModelPath); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return eng, nil
}

// Synthesize turns text into a finished WAV file and returns its absolute
// path. An empty outputDir selects the Manager's configured directory.
//
// Empty or whitespace-only text fails with a Synthesis-kind error before
// any device detection or engine construction happens. On any downstream
// failure a partially written file at the computed path is deleted and the
// failure is re-raised under its original kind; unrecognized failures are
// wrapped as Synthesis with the original type name preserved.
func (m *Manager) Synthesize(ctx context.Context, text, outputDir string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", NewError(KindSynthesis, "text input cannot be empty")
	}

	eng, err := m.Engine(ctx)
	if err != nil {
		return "", Classify(err, KindEngineLoad)
	}

	if outputDir == "" {
		outputDir = m.cfg.OutputDir
	}
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", Wrap(KindSynthesis, "unable to create output directory", err)
	}

	outputPath := filepath.Join(outputDir, outputName(text))

	start := time.Now()
	path, err := eng.Synthesize(ctx, text, outputPath)
	if err != nil {
		// Best-effort cleanup of anything the engine left behind.
		if _, statErr := os.Stat(outputPath); statErr == nil {
			_ = os.Remove(outputPath)
		}
		return "", Classify(err, KindSynthesis)
	}

	if fi, statErr := os.Stat(path); statErr == nil {
		log.Debug("Audio file created",
			"path", path,
			"size", humanize.Bytes(uint64(fi.Size())),
			"took", time.Since(start))
	}
	return path, nil
}

// Initialized reports whether the engine has been constructed. Pure
// observer, no state change.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine != nil
}

// CurrentDevice returns the cached device descriptor, if detection has
// happened. Pure observer, no state change.
func (m *Manager) CurrentDevice() (device.Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dev == nil {
		return device.Descriptor{}, false
	}
	return *m.dev, true
}

// Close releases the engine, if one was constructed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	return err
}

// outputName derives a collision-resistant filename: the content hash keeps
// distinct texts apart, the coarse timestamp keeps repeated identical
// requests issued at different times apart. Identical texts submitted
// within the same clock second still share a path; callers treating the
// file as transient per-request output should not assume exclusivity at
// sub-second granularity.
func outputName(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("tts_%d_%s.wav", time.Now().Unix(), hex.EncodeToString(sum[:])[:8])
}
