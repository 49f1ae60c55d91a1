// Package costs provides cost calculation for provider usage in a relay session.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per unit for precision).
// These can be overridden via environment variables.
var (
	// DeepgramCentsPerMinute is the cost per minute for Deepgram Nova-3 pre-recorded STT.
	// Default: $0.0043/min = 0.43 cents/min
	DeepgramCentsPerMinute = getEnvFloat("COST_DEEPGRAM_CENTS_PER_MIN", 0.43)

	// OpenAICentsPerThousandInputTokens is the cost per 1K input tokens for GPT-4o-mini.
	// Default: $0.15/1M = 0.015 cents/1K tokens
	OpenAICentsPerThousandInputTokens = getEnvFloat("COST_OPENAI_INPUT_CENTS_PER_1K", 0.015)

	// OpenAICentsPerThousandOutputTokens is the cost per 1K output tokens for GPT-4o-mini.
	// Default: $0.60/1M = 0.06 cents/1K tokens
	OpenAICentsPerThousandOutputTokens = getEnvFloat("COST_OPENAI_OUTPUT_CENTS_PER_1K", 0.06)

	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)
)

// Usage contains the raw provider usage of one turn or a whole session.
type Usage struct {
	STTSeconds      float64 // Audio sent to transcription
	LLMInputTokens  int     // Tokens sent to the model
	LLMOutputTokens int     // Tokens received from the model
	TTSCharacters   int     // Characters sent to synthesis
}

// Add accumulates another usage record into u.
func (u *Usage) Add(o Usage) {
	u.STTSeconds += o.STTSeconds
	u.LLMInputTokens += o.LLMInputTokens
	u.LLMOutputTokens += o.LLMOutputTokens
	u.TTSCharacters += o.TTSCharacters
}

// Costs contains the calculated costs in cents.
type Costs struct {
	STTCostCents   int
	LLMCostCents   int
	TTSCostCents   int
	TotalCostCents int

	// ExactCents is the unrounded total; single turns are usually below one cent.
	ExactCents float64
}

// Calculate computes the costs for the given usage.
func Calculate(u Usage) Costs {
	sttCents := (u.STTSeconds / 60.0) * DeepgramCentsPerMinute

	// LLM costs: per 1K tokens
	llmInputCents := (float64(u.LLMInputTokens) / 1000.0) * OpenAICentsPerThousandInputTokens
	llmOutputCents := (float64(u.LLMOutputTokens) / 1000.0) * OpenAICentsPerThousandOutputTokens
	llmCents := llmInputCents + llmOutputCents

	// TTS costs: per 1K characters
	ttsCents := (float64(u.TTSCharacters) / 1000.0) * ElevenLabsCentsPerThousandChars

	costs := Costs{
		STTCostCents: roundToInt(sttCents),
		LLMCostCents: roundToInt(llmCents),
		TTSCostCents: roundToInt(ttsCents),
		ExactCents:   sttCents + llmCents + ttsCents,
	}
	costs.TotalCostCents = costs.STTCostCents + costs.LLMCostCents + costs.TTSCostCents

	return costs
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
