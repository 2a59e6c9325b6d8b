package core

import (
	"errors"
	"fmt"
)

// Default synthesis parameter values, matching the published CLI contract.
const (
	DefaultLanguage          = "cs"
	DefaultTemperature       = 0.75
	DefaultRepetitionPenalty = 3.0
	DefaultTopK              = 50
	DefaultTopP              = 0.85
)

var (
	// ErrTextEmpty indicates that the synthesis text is empty.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrTopPRange indicates that the TopP parameter is out of the valid range [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrRepetitionPenaltyRange indicates that the RepetitionPenalty parameter is out of the valid range [1.0, ...).
	ErrRepetitionPenaltyRange = errors.New("repetition penalty must be >= 1.0")
	// ErrTemperatureRange indicates that the Temperature parameter is out of the valid range [0.0, ...).
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrTopKNegative indicates that the TopK parameter is negative.
	ErrTopKNegative = errors.New("top_k must be non-negative")
)

// Latents is the two-part conditioning representation derived once from a
// reference voice sample. GPTCondLatent is the prompt-conditioning matrix
// (time x feature) and SpeakerEmbedding is the voice-characteristic vector.
// Both are immutable after creation and passed by reference into every
// synthesis call.
type Latents struct {
	GPTCondLatent    [][]float32 `json:"gpt_cond_latent"`
	SpeakerEmbedding []float32   `json:"speaker_embedding"`
}

// SynthesisParams holds the flat, caller-supplied configuration for a single
// synthesis call. A Seed of zero leaves seeding to the engine.
type SynthesisParams struct {
	Text              string
	Language          string
	Temperature       float64
	RepetitionPenalty float64
	TopK              int
	TopP              float64
	Seed              int
}

// DefaultSynthesisParams returns parameters populated with the documented
// defaults and the given text.
func DefaultSynthesisParams(text string) SynthesisParams {
	return SynthesisParams{
		Text:              text,
		Language:          DefaultLanguage,
		Temperature:       DefaultTemperature,
		RepetitionPenalty: DefaultRepetitionPenalty,
		TopK:              DefaultTopK,
		TopP:              DefaultTopP,
		Seed:              0,
	}
}

// Validate reports parameter values the engine is known to reject. The
// driver only warns on a validation failure: parameters travel to the engine
// unmodified and the engine has the final word.
func (p SynthesisParams) Validate() error {
	if p.Text == "" {
		return ErrTextEmpty
	}

	if p.TopP < 0.0 || p.TopP > 1.0 {
		return fmt.Errorf("%w: got %f", ErrTopPRange, p.TopP)
	}

	if p.RepetitionPenalty < 1.0 {
		return fmt.Errorf("%w: got %f", ErrRepetitionPenaltyRange, p.RepetitionPenalty)
	}

	if p.Temperature < 0.0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, p.Temperature)
	}

	if p.TopK < 0 {
		return fmt.Errorf("%w: got %d", ErrTopKNegative, p.TopK)
	}

	return nil
}
