package config

import (
	"time"

	"github.com/tertt-dev/grokgates/pkg/config"
)

// Config stores environment configuration for the grokgates daemon.
type Config struct {
	Port     string
	RedisURL string

	// Completion service (chat-completions compatible, with live search).
	CompletionAPIKey        string
	CompletionAPIURL        string
	CompletionModel         string
	CompletionModelFallback string
	CriticModel             string
	CompletionTimeout       time.Duration

	// Beacon behavior flags. Each flag gates exactly one behavior; see the
	// beacon package for their effects.
	RequireCitations  bool
	VerifyURLs        bool
	VerifyURLsStrict  bool
	HydrateText       bool
	EnforceReferences bool

	// Scan cadence and topic pools.
	WorldScanTopics []string
	WildcardTopics  []string
	FallbackTopics  []string
	MaxProposals    int
	InterTopicDelay time.Duration
	RateCooldown    time.Duration
	ProposalWindow  time.Duration
}

// Defaults mirror the topic pools and cadence the system has always run with;
// every value can be overridden from the environment.
var defaultWorldScanTopics = []string{
	"Bonk", "Bags.FM", "Launchcoin", "BelieveApp", "SolPortTom", "BonkGuy",
	"UniPcs", "Bonk.Fun", "Pump.Fun", "PumpFun", "PumpSwap",
	"Toly Yakovenko", "Raj Gokal", "Bill Gates", "Elon Musk",
	"Satoshi Nakamoto", "Vitalik Buterin", "Vitalik", "Alon", "a1lon9",
	"AI agents", "AGI", "GPT-5", "Llama", "Gemini 3.0", "Grok4", "Grok",
	"Anthropic", "Claude", "OpenAI", "Google", "Meta", "Microsoft", "Apple",
	"MemeCoins", "AI x Crypto", "Solana AI", "Solana AI Agents",
	"Goatesus Maximus", "FartCoin",
}

var defaultWildcardTopics = []string{
	"security breach crypto", "AI consciousness debate", "memecoin rug pull",
	"Solana network status", "airdrop alerts", "liquidity pool exploits",
	"volume spike", "SPX500", "NASDAQ", "Tesla", "Ani", "Scam",
}

var defaultFallbackTopics = []string{
	"Solana", "Pump.Fun", "Bonk", "AI agents", "autonomous agents", "AGI",
	"consciousness", "AI", "Viral Marketing", "Bags.FM",
}

// LoadConfig reads configuration from the environment.
func LoadConfig() Config {
	return Config{
		Port:     config.GetEnv("PORT", "18080"),
		RedisURL: config.GetEnv("REDIS_URL", "redis://localhost:6379/0"),

		CompletionAPIKey:        config.GetEnv("COMPLETION_API_KEY", ""),
		CompletionAPIURL:        config.GetEnv("COMPLETION_API_URL", "https://api.x.ai/v1"),
		CompletionModel:         config.GetEnv("COMPLETION_MODEL", "grok-4-0709"),
		CompletionModelFallback: config.GetEnv("COMPLETION_MODEL_FALLBACK", "grok-2-1212"),
		CriticModel:             config.GetEnv("CRITIC_MODEL", "grok-2-1212"),
		CompletionTimeout:       config.GetEnvDuration("COMPLETION_TIMEOUT", 90*time.Second),

		RequireCitations:  config.GetEnvBool("BEACON_REQUIRE_CITATIONS", true),
		VerifyURLs:        config.GetEnvBool("BEACON_VERIFY_URLS", true),
		VerifyURLsStrict:  config.GetEnvBool("BEACON_VERIFY_URLS_STRICT", false),
		HydrateText:       config.GetEnvBool("BEACON_HYDRATE_TEXTS", true),
		EnforceReferences: config.GetEnvBool("BEACON_ENFORCE_REFERENCES", true),

		WorldScanTopics: config.GetEnvSlice("BEACON_WORLD_SCAN_TOPICS", defaultWorldScanTopics),
		WildcardTopics:  config.GetEnvSlice("BEACON_WILDCARD_TOPICS", defaultWildcardTopics),
		FallbackTopics:  config.GetEnvSlice("BEACON_FALLBACK_TOPICS", defaultFallbackTopics),
		MaxProposals:    config.GetEnvInt("BEACON_MAX_PROPOSALS", 5),
		InterTopicDelay: config.GetEnvDuration("BEACON_INTER_TOPIC_DELAY", 10*time.Second),
		RateCooldown:    config.GetEnvDuration("BEACON_RATE_COOLDOWN", 10*time.Minute),
		ProposalWindow:  config.GetEnvDuration("BEACON_PROPOSAL_WINDOW", 30*time.Minute),
	}
}

// CompletionEnabled reports whether the completion service is usable.
// When false every caller short-circuits to placeholder results.
func (c Config) CompletionEnabled() bool {
	return c.CompletionAPIKey != ""
}
