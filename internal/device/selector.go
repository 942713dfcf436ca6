package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// kfdPath is the kernel interface exposed by ROCm-capable AMD GPUs. It is
// probed independently when the unified runtime reports no device.
const kfdPath = "/sys/class/kfd/kfd"

// probeTimeout bounds the runtime probe subprocess.
const probeTimeout = 15 * time.Second

// probeResult is the JSON document the runner prints for --probe.
// Exactly one of CUDA or HIP is set when a GPU is available; the field
// that is present distinguishes the two sub-families sharing the CUDA
// interface.
type probeResult struct {
	Available bool   `json:"available"`
	Name      string `json:"name"`
	CUDA      string `json:"cuda"`
	HIP       string `json:"hip"`
}

// Selector probes available compute backends. Detection is idempotent and
// side-effect-free aside from diagnostic logging; callers are expected to
// cache the result.
type Selector struct {
	// runnerCmd is the inference runner executable used for the unified
	// runtime probe.
	runnerCmd string

	// kfdPath is overridable for tests.
	kfdPath string
}

// NewSelector creates a Selector probing through the given runner command.
func NewSelector(runnerCmd string) *Selector {
	return &Selector{runnerCmd: runnerCmd, kfdPath: kfdPath}
}

// Detect returns the best available compute device.
//
// Detection order:
//  1. unified GPU runtime probe, distinguishing CUDA from ROCm by which
//     version field the runtime reports
//  2. independent AMD KFD probe
//  3. CPU fallback
//
// Absence of acceleration hardware degrades to the CPU descriptor and is
// never an error. Only a hard failure of the probe itself returns an error;
// classifying it is the caller's business, this package stays below the
// taxonomy.
func (s *Selector) Detect(ctx context.Context) (Descriptor, error) {
	runner, err := exec.LookPath(s.runnerCmd)
	if err != nil {
		// No inference runtime installed: CPU only.
		log.Debug("Inference runner not found, forcing CPU", "cmd", s.runnerCmd)
		return s.fallthroughAMD("inference runtime not installed"), nil
	}

	res, err := s.probeRuntime(ctx, runner)
	if err != nil {
		log.Error("Device detection probe failed", "cmd", runner, "error", err)
		return Descriptor{}, fmt.Errorf("failed to detect compute device: %w", err)
	}

	if res.Available {
		name := res.Name
		if name == "" {
			name = "Unknown GPU"
		}
		if res.HIP != "" {
			d := Descriptor{
				Kind:    ROCm,
				Name:    name,
				Backend: "cuda",
				Detail:  fmt.Sprintf("ROCm (HIP %s)", res.HIP),
			}
			log.Info("Device detected", "name", d.Name, "kind", d.Kind, "detail", d.Detail)
			return d, nil
		}
		d := Descriptor{
			Kind:    CUDA,
			Name:    name,
			Backend: "cuda",
			Detail:  fmt.Sprintf("CUDA %s", res.CUDA),
		}
		log.Info("Device detected", "name", d.Name, "kind", d.Kind, "detail", d.Detail)
		return d, nil
	}

	return s.fallthroughAMD("runtime reports no GPU"), nil
}

// probeRuntime runs the runner's probe mode and parses its JSON report.
// A crashed probe or unparseable output is a hard failure; a clean report
// of "no device" is not.
func (s *Selector) probeRuntime(ctx context.Context, runner string) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, runner, "--probe")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return probeResult{}, fmt.Errorf("probe failed: %w: %s", err, msg)
		}
		return probeResult{}, fmt.Errorf("probe failed: %w", err)
	}

	var res probeResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return probeResult{}, fmt.Errorf("unparseable probe output %q: %w", stdout.String(), err)
	}
	return res, nil
}

// fallthroughAMD checks for ROCm kernel support before settling on CPU.
// ROCm GPUs are visible through the KFD node even when the unified runtime
// lacks HIP support.
func (s *Selector) fallthroughAMD(reason string) Descriptor {
	if _, err := os.Stat(s.kfdPath); err == nil {
		d := Descriptor{
			Kind:    ROCm,
			Name:    "AMD GPU",
			Backend: "cuda",
			Detail:  "ROCm (KFD present)",
		}
		log.Info("Device detected", "name", d.Name, "kind", d.Kind, "detail", d.Detail)
		return d
	}
	log.Info("Device detected", "name", "CPU", "kind", CPU, "detail", reason)
	return CPUDescriptor(reason)
}
