// Package device detects the compute backend used for speech inference.
// All hardware decisions are centralized here; the rest of the application
// must not assume any vendor-specific APIs.
package device

// Kind names a compute backend. The set is closed.
type Kind string

const (
	// CUDA is an NVIDIA GPU driven through the CUDA runtime.
	CUDA Kind = "cuda"

	// ROCm is an AMD GPU driven through HIP, which exposes the same
	// programming interface as CUDA.
	ROCm Kind = "rocm"

	// CPU is the always-available fallback.
	CPU Kind = "cpu"
)

// Descriptor describes the selected compute device. It is an immutable
// value: a Descriptor is created once per detection and never mutated,
// though the manager may replace it wholesale on fallback.
type Descriptor struct {
	// Kind is the backend class.
	Kind Kind

	// Name is a human-readable device name.
	Name string

	// Backend is the opaque handle the inference runtime understands
	// ("cuda" for both GPU families, "cpu" otherwise).
	Backend string

	// Detail holds optional free-text diagnostics.
	Detail string
}

// IsCPU reports whether d is the CPU fallback.
func (d Descriptor) IsCPU() bool {
	return d.Kind == CPU
}

// CPUDescriptor returns the fallback descriptor with the given diagnostic.
func CPUDescriptor(detail string) Descriptor {
	return Descriptor{
		Kind:    CPU,
		Name:    "CPU",
		Backend: "cpu",
		Detail:  detail,
	}
}
