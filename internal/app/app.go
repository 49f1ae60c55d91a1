package app

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lukasbauer/voicerelay/internal/eventlog"
	"github.com/lukasbauer/voicerelay/internal/httpapi"
	"github.com/lukasbauer/voicerelay/internal/llm"
	"github.com/lukasbauer/voicerelay/internal/stt"
	"github.com/lukasbauer/voicerelay/internal/tts"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	eventLog   *eventlog.Logger
	httpClient *http.Client // Shared HTTP client with connection pooling for the providers
	providers  httpapi.Providers
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		db, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		// Migrations are applied externally (psql -f migrations/*.sql).
	} else {
		logger.Printf("app: DATABASE_URL not set, session event log disabled")
	}

	if missing := cfg.MissingProviderKeys(); len(missing) > 0 {
		logger.Printf("app: missing %v, relay connections will be refused", missing)
	}

	// Keeps TCP connections alive to reduce latency for the per-sentence
	// synthesis calls. Per-call limits come from context deadlines.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		eventLog:   eventlog.New(db),
		httpClient: httpClient,
		providers:  newProviders(cfg, httpClient),
	}, nil
}

// newProviders builds the provider clients whose keys are configured.
func newProviders(cfg Config, httpClient *http.Client) httpapi.Providers {
	var p httpapi.Providers
	if cfg.DeepgramAPIKey != "" {
		p.STT = stt.NewDeepgramClient(stt.DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.STTModel,
			Language:   cfg.STTLanguage,
			HTTPClient: httpClient,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		p.LLM = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.LLMModel,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.LLMMaxTokens,
			HTTPClient:   httpClient,
		})
	}
	if cfg.ElevenLabsAPIKey != "" {
		p.TTS = tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			VoiceID:    cfg.TTSVoiceID,
			ModelID:    cfg.TTSModelID,
			Stability:  cfg.TTSStability,
			Similarity: cfg.TTSSimilarity,
			HTTPClient: httpClient,
		})
	}
	return p
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		SentenceFlushAfter: time.Duration(a.cfg.SentenceFlushMs) * time.Millisecond,
		STTTimeout:         a.cfg.STTTimeout,
		LLMTimeout:         a.cfg.LLMTimeout,
		TTSTimeout:         a.cfg.TTSTimeout,
		Debug:              a.cfg.LogLevel == "debug",
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.providers, a.eventLog, sessions)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
