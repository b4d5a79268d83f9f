package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	APIToken    string

	AnthropicAPIKey string
	AnthropicModel  string
	TavilyAPIKey    string
	TavilyURL       string

	// Analyzers is the set of enabled severity analyzers, selected by name
	// from the registry.
	Analyzers []string

	// Triage tunables. The right values are empirical; everything here is
	// adjustable rather than baked in.
	EscalateThreshold float64       // severity score at which a session escalates
	CorroborationMin  int           // distinct sources required for degraded events to escalate
	DampingStep       float64       // max score reduction per calming event
	ChannelDropScore  float64       // severity floor assumed on hangup/network-drop
	AnalyzerTimeout   time.Duration // per-analyzer call budget
	IdleTimeout       time.Duration // no-activity window before a ticketed session drops
	GracePeriod       time.Duration // how long a terminal session accepts late enrichment
	GapTimeout        time.Duration // how long the normalizer holds a final across a sequence gap
	WindowSize        int           // utterances per enrichment window
	InboxSize         int           // per-session event queue depth
	PendingMax        int           // buffered deltas per session while the store is down
	WriteRetries      int           // versioned-write attempts before reporting a conflict
	RetryBackoff      time.Duration // base backoff for pending-delta retries

	// Merge weights for the max-and-average severity hybrid.
	MergeMaxWeight  float64
	MergeMeanWeight float64
	HighScore       float64 // score at which a signal counts as a high-severity candidate
	HighConfidence  float64 // confidence required for a signal to join the max side
}

func Load() Config {
	return Config{
		Port:        envInt("TRIAGE_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("TRIAGE_API_TOKEN", ""),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("TRIAGE_MODEL", "claude-sonnet-4-20250514"),
		TavilyAPIKey:    envStr("TAVILY_API_KEY", ""),
		TavilyURL:       envStr("TAVILY_URL", "https://api.tavily.com"),

		Analyzers: envList("TRIAGE_ANALYZERS", []string{"rerank", "search"}),

		EscalateThreshold: envFloat("TRIAGE_ESCALATE_THRESHOLD", 0.7),
		CorroborationMin:  envInt("TRIAGE_CORROBORATION_MIN", 2),
		DampingStep:       envFloat("TRIAGE_DAMPING_STEP", 0.15),
		ChannelDropScore:  envFloat("TRIAGE_CHANNEL_DROP_SCORE", 0.8),
		AnalyzerTimeout:   envDur("TRIAGE_ANALYZER_TIMEOUT", 8*time.Second),
		IdleTimeout:       envDur("TRIAGE_IDLE_TIMEOUT", 90*time.Second),
		GracePeriod:       envDur("TRIAGE_GRACE_PERIOD", 30*time.Second),
		GapTimeout:        envDur("TRIAGE_GAP_TIMEOUT", 2*time.Second),
		WindowSize:        envInt("TRIAGE_WINDOW_SIZE", 8),
		InboxSize:         envInt("TRIAGE_INBOX_SIZE", 128),
		PendingMax:        envInt("TRIAGE_PENDING_MAX", 64),
		WriteRetries:      envInt("TRIAGE_WRITE_RETRIES", 3),
		RetryBackoff:      envDur("TRIAGE_RETRY_BACKOFF", 500*time.Millisecond),

		MergeMaxWeight:  envFloat("TRIAGE_MERGE_MAX_WEIGHT", 0.7),
		MergeMeanWeight: envFloat("TRIAGE_MERGE_MEAN_WEIGHT", 0.3),
		HighScore:       envFloat("TRIAGE_HIGH_SCORE", 0.6),
		HighConfidence:  envFloat("TRIAGE_HIGH_CONFIDENCE", 0.6),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
