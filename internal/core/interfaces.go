// Package core defines the data model and interfaces for XTTS speech
// generation.
package core

import "context"

// Synthesizer is the service-call interface to the model runtime. The xtts
// client implements it against the spawned engine; tests implement it with
// in-memory fakes.
type Synthesizer interface {
	ComputeLatents(ctx context.Context, referenceAudioPath string) (*Latents, error)
	Synthesize(ctx context.Context, latents *Latents, params SynthesisParams) ([]float32, error)
}
