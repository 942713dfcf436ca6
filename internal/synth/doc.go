// Package synth owns the speech-synthesis lifecycle: the shared error
// taxonomy, the inference engine contract, and the Manager that lazily
// initializes a single engine per process with CPU fallback.
package synth
