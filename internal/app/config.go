package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string // Optional; enables the session event log
	LogLevel    string
	SentryDSN   string

	// Voice AI providers
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// Provider settings
	STTModel      string
	STTLanguage   string
	LLMModel      string
	LLMMaxTokens  int
	SystemPrompt  string
	TTSVoiceID    string  // ElevenLabs voice ID
	TTSModelID    string  // ElevenLabs model ID
	TTSStability  float64 // ElevenLabs voice stability (0.0-1.0)
	TTSSimilarity float64 // ElevenLabs voice similarity boost (0.0-1.0)

	// Pipeline timing
	SentenceFlushMs int // Inactivity delay before a partial sentence is spoken
	STTTimeout      time.Duration
	LLMTimeout      time.Duration
	TTSTimeout      time.Duration

	// Sessions
	SessionRetention time.Duration // How long an idle transcript can be rejoined
	ShutdownTimeout  time.Duration // How long live sessions may keep running on shutdown
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		// Voice AI providers
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),

		// Provider settings
		STTModel:      getenv("STT_MODEL", "nova-3"),
		STTLanguage:   getenv("STT_LANGUAGE", "en"),
		LLMModel:      getenv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:  getenvIntClamped("LLM_MAX_TOKENS", 300, 16, 4096),
		SystemPrompt:  getenv("SYSTEM_PROMPT", ""),
		TTSVoiceID:    getenv("TTS_VOICE_ID", ""),
		TTSModelID:    getenv("TTS_MODEL_ID", "eleven_flash_v2_5"),
		TTSStability:  getenvFloatClamped("TTS_STABILITY", 0.5, 0.0, 1.0),
		TTSSimilarity: getenvFloatClamped("TTS_SIMILARITY", 0.75, 0.0, 1.0),

		// Pipeline timing
		SentenceFlushMs: getenvIntClamped("SENTENCE_FLUSH_MS", 1000, 100, 10000),
		STTTimeout:      getenvDuration("STT_TIMEOUT", 15*time.Second),
		LLMTimeout:      getenvDuration("LLM_TIMEOUT", 60*time.Second),
		TTSTimeout:      getenvDuration("TTS_TIMEOUT", 20*time.Second),

		// Sessions
		SessionRetention: getenvDuration("SESSION_RETENTION", 30*time.Minute),
		ShutdownTimeout:  getenvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// MissingProviderKeys lists the provider keys the relay cannot run without.
func (c Config) MissingProviderKeys() []string {
	var missing []string
	if c.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.ElevenLabsAPIKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	return missing
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped parses k as an int, falling back to def when unset or
// invalid, and clamps the result to [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// getenvFloatClamped is getenvIntClamped for floats.
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(k), 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil || d < 0 {
		return def
	}
	return d
}
