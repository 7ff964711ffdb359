package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a Thoth deployment.
//
// Every component receives its section through the composition root;
// there is no process-global configuration state.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Filter    FilterConfig    `yaml:"filter"`
	Store     StoreConfig     `yaml:"store"`
	Vector    VectorConfig    `yaml:"vector"`
	Coord     CoordConfig     `yaml:"coordination"`
	Server    ServerConfig    `yaml:"server"`
}

// PathsConfig locates the on-disk workspace.
type PathsConfig struct {
	// Workspace is the root directory for all Thoth state.
	Workspace string `yaml:"workspace"`

	// Incoming is the watched directory for new PDFs.
	Incoming string `yaml:"incoming,omitempty"`

	// Notes is where rendered notes (and their colocated PDFs) land.
	Notes string `yaml:"notes,omitempty"`

	// Queries holds one research-query document per file.
	Queries string `yaml:"queries,omitempty"`

	// Cache holds conversion results keyed by content hash.
	Cache string `yaml:"cache,omitempty"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	// Provider type. Currently "openai" (any OpenAI-compatible endpoint).
	Provider string `yaml:"provider,omitempty"`

	Model   string `yaml:"model,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	Temperature float32 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	// ContextBudget is the token budget for a single call. Longer inputs
	// are split map-reduce style by callers that support it.
	ContextBudget int `yaml:"context_budget,omitempty"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"`
}

// ServiceConfig describes one named outbound API service.
type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`

	// RateLimit is requests per second for this service. Zero inherits
	// the gateway default.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// CacheTTL overrides the gateway default TTL for this service.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`

	// APIKeyHeader and APIKey inject a static auth header when set.
	APIKeyHeader string `yaml:"api_key_header,omitempty"`
	APIKey       string `yaml:"api_key,omitempty"`
}

// GatewayConfig configures the outbound API gateway.
type GatewayConfig struct {
	Services map[string]ServiceConfig `yaml:"services,omitempty"`

	// DefaultRateLimit is the requests/sec floor applied to services
	// without an explicit limit.
	DefaultRateLimit float64 `yaml:"default_rate_limit,omitempty"`

	// CacheTTL is the default response cache TTL.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`

	// CacheMaxEntries bounds the in-memory cache (LRU eviction).
	CacheMaxEntries int `yaml:"cache_max_entries,omitempty"`

	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBase    time.Duration `yaml:"retry_base,omitempty"`
	RetryCeiling time.Duration `yaml:"retry_ceiling,omitempty"`

	// CircuitThreshold is the consecutive-failure count that marks a
	// service cold; CircuitCooldown is how long it stays cold.
	CircuitThreshold int           `yaml:"circuit_threshold,omitempty"`
	CircuitCooldown  time.Duration `yaml:"circuit_cooldown,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// PipelineConfig configures the ingestion pipeline.
type PipelineConfig struct {
	// Workers is how many PDFs may be processed concurrently.
	Workers int `yaml:"workers,omitempty"`

	// EnhanceWorkers bounds the citation-enhancement fan-out per PDF.
	EnhanceWorkers int `yaml:"enhance_workers,omitempty"`

	// StepTimeout is the per-step timeout. The whole pipeline run is
	// bounded by 10x this value.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`

	// FingerprintBytes is how much of the file head feeds the tracker
	// fingerprint hash.
	FingerprintBytes int64 `yaml:"fingerprint_bytes,omitempty"`

	// WatchRecursive enables recursive directory watching.
	WatchRecursive bool `yaml:"watch_recursive,omitempty"`

	// DebounceDelay coalesces rapid watcher events.
	DebounceDelay time.Duration `yaml:"debounce_delay,omitempty"`
}

// AnalysisConfig locates the analysis schema document.
type AnalysisConfig struct {
	// SchemaPath points at the preset configuration document.
	// Empty means the built-in default preset.
	SchemaPath string `yaml:"schema_path,omitempty"`
}

// RetrievalConfig configures the hybrid retrieval engine.
type RetrievalConfig struct {
	ChunkSize    int `yaml:"chunk_size,omitempty"`
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`

	// TopK is how many fused candidates enter grading.
	TopK int `yaml:"top_k,omitempty"`

	// FusionK is the reciprocal-rank-fusion constant.
	FusionK int `yaml:"fusion_k,omitempty"`

	// GradeBatch bounds parallel grading calls.
	GradeBatch int `yaml:"grade_batch,omitempty"`

	// CRAG thresholds: fraction of retained documents above
	// RelevanceFloor maps to correct/ambiguous/incorrect.
	UpperConfidence float64 `yaml:"upper_confidence,omitempty"`
	LowerConfidence float64 `yaml:"lower_confidence,omitempty"`
	RelevanceFloor  float64 `yaml:"relevance_floor,omitempty"`

	// Enrich enables contextual chunk enrichment at index time.
	Enrich bool `yaml:"enrich,omitempty"`

	// EnrichBatch bounds parallel enrichment calls.
	EnrichBatch int `yaml:"enrich_batch,omitempty"`

	// HallucinationMode is "strict" or "lenient".
	HallucinationMode string `yaml:"hallucination_mode,omitempty"`

	// SemanticRouter routes queries by embedding similarity instead of
	// keyword heuristics when enabled.
	SemanticRouter bool `yaml:"semantic_router,omitempty"`
}

// FilterConfig configures the query-driven article filter.
type FilterConfig struct {
	// QuickScoreThreshold gates which queries get an LLM evaluation.
	// Zero evaluates every query.
	QuickScoreThreshold float64 `yaml:"quick_score_threshold,omitempty"`

	// DecisionLog is the append-only decision log path.
	DecisionLog string `yaml:"decision_log,omitempty"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver,omitempty"`

	// DSN is the driver-specific connection string. For sqlite this is
	// a file path; empty derives <workspace>/thoth.db.
	DSN string `yaml:"dsn,omitempty"`
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	// Provider is "chromem" (embedded) or "qdrant".
	Provider string `yaml:"provider,omitempty"`

	// PersistPath enables chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Collection is the vector collection name.
	Collection string `yaml:"collection,omitempty"`

	// Qdrant connection details.
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

// CoordConfig configures the shared coordination block.
type CoordConfig struct {
	// BlockPath is the backing file for the message block.
	BlockPath string `yaml:"block_path,omitempty"`

	// KeepRecent is how many completed records Compact retains.
	KeepRecent int `yaml:"keep_recent,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// SetDefaults applies defaults across all sections.
func (c *Config) SetDefaults() {
	c.Paths.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Gateway.SetDefaults()
	c.Pipeline.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Filter.SetDefaults(c.Paths.Workspace)
	c.Store.SetDefaults(c.Paths.Workspace)
	c.Vector.SetDefaults()
	c.Coord.SetDefaults(c.Paths.Workspace)
	c.Server.SetDefaults()
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Paths.Validate(); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	return nil
}

func (c *PathsConfig) SetDefaults() {
	if c.Workspace == "" {
		c.Workspace = ".thoth"
	}
	if c.Incoming == "" {
		c.Incoming = c.Workspace + "/incoming"
	}
	if c.Notes == "" {
		c.Notes = c.Workspace + "/notes"
	}
	if c.Queries == "" {
		c.Queries = c.Workspace + "/queries"
	}
	if c.Cache == "" {
		c.Cache = c.Workspace + "/cache"
	}
}

func (c *PathsConfig) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	return nil
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.ContextBudget == 0 {
		c.ContextBudget = 100000
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

func (c *GatewayConfig) SetDefaults() {
	if c.DefaultRateLimit == 0 {
		c.DefaultRateLimit = 1.0
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 2048
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase == 0 {
		c.RetryBase = time.Second
	}
	if c.RetryCeiling == 0 {
		c.RetryCeiling = 30 * time.Second
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = 30 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	// Known research APIs get sensible entries unless overridden.
	if c.Services == nil {
		c.Services = make(map[string]ServiceConfig, len(defaultServices))
	}
	for name, svc := range defaultServices {
		if _, ok := c.Services[name]; !ok {
			c.Services[name] = svc
		}
	}
}

// defaultServices are the research APIs the enhancement and filter
// paths talk to. Rate limits follow each provider's published polite
// limits for unauthenticated use.
var defaultServices = map[string]ServiceConfig{
	"semanticscholar": {BaseURL: "https://api.semanticscholar.org/graph/v1", RateLimit: 1},
	"opencitations":   {BaseURL: "https://opencitations.net/index/api/v1", RateLimit: 2},
	"arxiv":           {BaseURL: "https://export.arxiv.org/api", RateLimit: 0.5},
	"crossref":        {BaseURL: "https://api.crossref.org", RateLimit: 2},
	"unpaywall":       {BaseURL: "https://api.unpaywall.org/v2", RateLimit: 2},
	"openalex":        {BaseURL: "https://api.openalex.org", RateLimit: 2},
	"pubmed":          {BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils", RateLimit: 3},
	"biorxiv":         {BaseURL: "https://api.biorxiv.org", RateLimit: 1},
}

func (c *GatewayConfig) Validate() error {
	if c.DefaultRateLimit < 0 {
		return fmt.Errorf("default_rate_limit must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	for name, svc := range c.Services {
		if svc.BaseURL == "" {
			return fmt.Errorf("service %q: base_url is required", name)
		}
	}
	return nil
}

func (c *PipelineConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.EnhanceWorkers == 0 {
		c.EnhanceWorkers = 3
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = 2 * time.Minute
	}
	if c.FingerprintBytes == 0 {
		c.FingerprintBytes = 1 << 20
	}
	if c.DebounceDelay == 0 {
		c.DebounceDelay = 500 * time.Millisecond
	}
}

func (c *RetrievalConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.FusionK == 0 {
		c.FusionK = 60
	}
	if c.GradeBatch == 0 {
		c.GradeBatch = 4
	}
	if c.UpperConfidence == 0 {
		c.UpperConfidence = 0.7
	}
	if c.LowerConfidence == 0 {
		c.LowerConfidence = 0.4
	}
	if c.RelevanceFloor == 0 {
		c.RelevanceFloor = 0.5
	}
	if c.EnrichBatch == 0 {
		c.EnrichBatch = 8
	}
	if c.HallucinationMode == "" {
		c.HallucinationMode = "strict"
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be less than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.LowerConfidence > c.UpperConfidence {
		return fmt.Errorf("lower_confidence (%.2f) must not exceed upper_confidence (%.2f)", c.LowerConfidence, c.UpperConfidence)
	}
	switch c.HallucinationMode {
	case "strict", "lenient":
	default:
		return fmt.Errorf("invalid hallucination_mode: %q", c.HallucinationMode)
	}
	return nil
}

func (c *FilterConfig) SetDefaults(workspace string) {
	if c.DecisionLog == "" {
		c.DecisionLog = workspace + "/decisions.jsonl"
	}
}

func (c *StoreConfig) SetDefaults(workspace string) {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = workspace + "/thoth.db"
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported driver: %q (supported: sqlite, postgres)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "thoth-chunks"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported vector provider: %q (supported: chromem, qdrant)", c.Provider)
	}
	return nil
}

func (c *CoordConfig) SetDefaults(workspace string) {
	if c.BlockPath == "" {
		c.BlockPath = workspace + "/coordination.md"
	}
	if c.KeepRecent == 0 {
		c.KeepRecent = 20
	}
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8420
	}
}
