// Package config loads the orchestrator's configuration surface (spec
// §6.3) using the teacher's own three-layer precedence: the built-in
// defaults of Default(), then a YAML base layer (gopkg.in/yaml.v3, the teacher's own
// config-file dependency), then explicit CODEFORGE_* environment variable
// overrides, matching core.Config's DefaultConfig -> LoadFromEnv shape
// (field-by-field os.Getenv checks, not reflection-driven).
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// OrchestratorConfig is spec §6.3's Orchestrator.* group.
type OrchestratorConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	RetentionDays     int           `yaml:"retention_days"`
	JobTimeout        time.Duration `yaml:"job_timeout"`

	// DefaultResourceBudget is the Selector's resource-weight ceiling
	// (spec §4.1: "resource weight fits the declared budget") applied to
	// an admission request that doesn't declare its own ResourceBudget.
	// It must reach the highest ModelDescriptor.ApproximateWeight a
	// deployment wants reachable at all (the default catalog's Premium
	// tier carries weight 10 - see DefaultCatalog below).
	DefaultResourceBudget float64 `yaml:"default_resource_budget"`
}

// ResilienceConfig is spec §6.3's Resilience.* group.
type ResilienceConfig struct {
	RetryAttempts                int           `yaml:"retry_attempts"`
	CircuitBreakerThreshold      int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerBreakDuration  time.Duration `yaml:"circuit_breaker_break_duration"`
}

// EscalationConfig is spec §6.3's Escalation.* group.
type EscalationConfig struct {
	Tier1Threshold int `yaml:"tier1_threshold"`
	Tier2Threshold int `yaml:"tier2_threshold"`
}

// IterationConfig is spec §6.3's Iteration.* group plus the ThinkIterations
// and StepRetryBudget tunables spec §4.5 names inline.
type IterationConfig struct {
	MinAcceptableScore float64 `yaml:"min_acceptable_score"`
	FloorScore         float64 `yaml:"floor_score"`
	FloorAfterAttempts int     `yaml:"floor_after_attempts"`
	ThinkIterations    int     `yaml:"think_iterations"`
	StepRetryBudget    int     `yaml:"step_retry_budget"`
}

// FacadeConfig configures the Orchestration Facade's HTTP surface and its
// deployment-specific language enumeration (spec §4.8).
type FacadeConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	AllowedLanguages []string `yaml:"allowed_languages"`
}

// StoreConfig configures the Persistence Layer (spec §4.7/§6.4).
type StoreConfig struct {
	Dir            string `yaml:"dir"`
	RedisURL       string `yaml:"redis_url"`
	RedisNamespace string `yaml:"redis_namespace"`
}

// EventsConfig configures the optional cross-instance event fan-out
// (SPEC_FULL.md Part C); NATSURL empty disables it entirely.
type EventsConfig struct {
	NATSURL string `yaml:"-"`
}

// ProvidersConfig configures the External Collaborator Clients' transports
// (spec §6.1); credentials are read from the environment, never the YAML
// file, so they never land in a checked-in config.
type ProvidersConfig struct {
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	BedrockRegion string `yaml:"bedrock_region"`
}

// Config is the orchestrator's full configuration surface (spec §6.3).
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
	Models       struct {
		Catalog []model.ModelDescriptor `yaml:"catalog"`
	} `yaml:"models"`
	Escalation EscalationConfig `yaml:"escalation"`
	Iteration  IterationConfig  `yaml:"iteration"`
	Facade     FacadeConfig     `yaml:"facade"`
	Store      StoreConfig      `yaml:"store"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Events     EventsConfig     `yaml:"-"`
}

// Default returns spec.md's documented defaults (§4.2, §4.5, §4.6, §6.3).
// It leaves Models.Catalog empty; callers fall back to DefaultCatalog so a
// config-free `codeforged` process still starts, and a real deployment
// overrides Models.Catalog via the YAML file.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentJobs:     4,
			QueueCapacity:         32,
			RetentionDays:         7,
			JobTimeout:            30 * time.Minute,
			DefaultResourceBudget: 10,
		},
		Resilience: ResilienceConfig{
			RetryAttempts:               3,
			CircuitBreakerThreshold:     5,
			CircuitBreakerBreakDuration: 30 * time.Second,
		},
		Escalation: EscalationConfig{Tier1Threshold: 3, Tier2Threshold: 6},
		Iteration: IterationConfig{
			MinAcceptableScore: 8,
			FloorScore:         6.5,
			FloorAfterAttempts: 3,
			ThinkIterations:    7,
			StepRetryBudget:    10,
		},
		Facade: FacadeConfig{
			ListenAddr:       ":8080",
			AllowedLanguages: []string{"csharp", "python", "javascript", "typescript", "go", "java"},
		},
		Store: StoreConfig{Dir: "./data/jobs", RedisNamespace: "codeforge"},
	}
}

// Load builds a Config from, in order: the built-in defaults, an optional
// YAML file at path (the base layer), and CODEFORGE_* environment
// variables (the override layer). An empty path skips the YAML layer.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, orcherr.New("config.Load", orcherr.KindConfig, "", "reading config file", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, orcherr.New("config.Load", orcherr.KindConfig, "", "parsing config file", err)
		}
	}
	cfg.loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overlays CODEFORGE_* environment variables, mirroring the
// teacher's core.Config.LoadFromEnv: one explicit os.Getenv check per
// field, no reflection.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("CODEFORGE_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("CODEFORGE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.QueueCapacity = n
		}
	}
	if v := os.Getenv("CODEFORGE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.RetentionDays = n
		}
	}
	if v := os.Getenv("CODEFORGE_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Orchestrator.JobTimeout = d
		}
	}
	if v := os.Getenv("CODEFORGE_DEFAULT_RESOURCE_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Orchestrator.DefaultResourceBudget = f
		}
	}
	if v := os.Getenv("CODEFORGE_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.RetryAttempts = n
		}
	}
	if v := os.Getenv("CODEFORGE_CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.CircuitBreakerThreshold = n
		}
	}
	if v := os.Getenv("CODEFORGE_LISTEN_ADDR"); v != "" {
		c.Facade.ListenAddr = v
	}
	if v := os.Getenv("CODEFORGE_STORE_DIR"); v != "" {
		c.Store.Dir = v
	}
	if v := os.Getenv("CODEFORGE_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("CODEFORGE_OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAIAPIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("CODEFORGE_OPENAI_BASE_URL"); v != "" {
		c.Providers.OpenAIBaseURL = v
	}
	if v := os.Getenv("CODEFORGE_BEDROCK_REGION"); v != "" {
		c.Providers.BedrockRegion = v
	}
	if v := os.Getenv("CODEFORGE_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
}

// Validate enforces spec §7's ConfigError condition: invalid configuration
// detected at startup is fatal to the process.
func (c *Config) Validate() error {
	switch {
	case c.Orchestrator.MaxConcurrentJobs <= 0:
		return cfgErr("Orchestrator.MaxConcurrentJobs must be > 0")
	case c.Orchestrator.QueueCapacity <= 0:
		return cfgErr("Orchestrator.QueueCapacity must be > 0")
	case c.Orchestrator.RetentionDays < 0:
		return cfgErr("Orchestrator.RetentionDays must be >= 0")
	case c.Orchestrator.DefaultResourceBudget < 0:
		return cfgErr("Orchestrator.DefaultResourceBudget must be >= 0")
	case c.Resilience.RetryAttempts <= 0:
		return cfgErr("Resilience.RetryAttempts must be > 0")
	case c.Resilience.CircuitBreakerThreshold <= 0:
		return cfgErr("Resilience.CircuitBreakerThreshold must be > 0")
	case c.Iteration.MinAcceptableScore < c.Iteration.FloorScore:
		return cfgErr("Iteration.MinAcceptableScore must be >= Iteration.FloorScore")
	case c.Escalation.Tier1Threshold <= 0 || c.Escalation.Tier2Threshold <= c.Escalation.Tier1Threshold:
		return cfgErr("Escalation.Tier2Threshold must exceed Escalation.Tier1Threshold")
	case len(c.Facade.AllowedLanguages) == 0:
		return cfgErr("Facade.AllowedLanguages must not be empty")
	case c.Store.Dir == "":
		return cfgErr("Store.Dir must not be empty")
	}
	return nil
}

func cfgErr(msg string) error {
	return orcherr.New("config.Validate", orcherr.KindConfig, "", msg, nil)
}

// DefaultCatalog returns the built-in model catalog used when Models.Catalog
// is empty in the loaded config (spec §4.1's ConfigError fires if neither
// supplies a Thinking/CodeGeneration/Validation model).
func DefaultCatalog() []model.ModelDescriptor {
	return []model.ModelDescriptor{
		{ID: "local-thinker", Purpose: model.PurposeThinking, Tier: model.TierLocal, Priority: 0, ApproximateWeight: 1},
		{ID: "local-codegen", Purpose: model.PurposeCodeGeneration, Tier: model.TierLocal, Priority: 0, ApproximateWeight: 1},
		{ID: "cloud-codegen", Purpose: model.PurposeCodeGeneration, Tier: model.TierCloud, Priority: 1, ApproximateWeight: 4},
		{ID: "premium-codegen", Purpose: model.PurposeCodeGeneration, Tier: model.TierPremium, Priority: 2, ApproximateWeight: 10},
		{ID: "local-validator", Purpose: model.PurposeValidation, Tier: model.TierLocal, Priority: 0, ApproximateWeight: 1},
	}
}
