package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Store      StoreConfig      `yaml:"store"`
	EmbedLLM   LLMConfig        `yaml:"embed_llm"`
	ChatLLM    LLMConfig        `yaml:"chat_llm"`
	Schema     SchemaConfig     `yaml:"schema"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	// DSN of the business database, which also hosts the retrieval tables.
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Driver is "pgdriver" (default) or "pq".
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
	// Name reported in row chunk metadata.
	Name string `yaml:"name"`
}

type StoreConfig struct {
	// Backend is "postgres" (default) or "chromem".
	Backend   string `yaml:"backend"`
	Dimension int    `yaml:"dimension"`
	// ChromemPath enables persistence for the chromem backend.
	ChromemPath string        `yaml:"chromem_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	// Provider is "ollama" or "openai" (any OpenAI compatible endpoint).
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Key         string        `yaml:"key"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type SchemaConfig struct {
	Name          string        `yaml:"name"`
	ExcludeTables []string      `yaml:"exclude_tables"`
	TTL           time.Duration `yaml:"ttl"`
}

type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	KeywordLimit     int     `yaml:"keyword_limit"`
	MinPool          int     `yaml:"min_pool"`
	PoolFactor       int     `yaml:"pool_factor"`
	LowConfidence    float64 `yaml:"low_confidence"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
}

type AnalyticsConfig struct {
	SQLTimeout   time.Duration `yaml:"sql_timeout"`
	MaxGroupRows int           `yaml:"max_group_rows"`
	MaxJoinHops  int           `yaml:"max_join_hops"`
	Currency     string        `yaml:"currency"`
}

type ClassifierConfig struct {
	// RulesFile replaces the embedded rule table when set.
	RulesFile string `yaml:"rules_file"`
}

type IngestConfig struct {
	ChunkSize     int      `yaml:"chunk_size"`
	ChunkOverlap  int      `yaml:"chunk_overlap"`
	MinChunkChars int      `yaml:"min_chunk_chars"`
	MinAlphaRatio float64  `yaml:"min_alpha_ratio"`
	MaxFieldChars int      `yaml:"max_field_chars"`
	MaxDocChars   int      `yaml:"max_doc_chars"`
	RowLimit      int      `yaml:"row_limit"`
	BatchSize     int      `yaml:"batch_size"`
	// Tables restricts the row indexer; empty means every table of the schema.
	Tables []string `yaml:"tables"`
	Dir    string   `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// LoadConfig reads the YAML file at path, applies defaults and then
// environment overrides. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setString(&c.Database.Driver, "pgdriver")
	setString(&c.Database.Name, "maxula")

	setString(&c.Store.Backend, "postgres")
	setInt(&c.Store.Dimension, 1024)
	setDuration(&c.Store.Timeout, 5*time.Second)

	setString(&c.EmbedLLM.Provider, "ollama")
	setString(&c.EmbedLLM.BaseURL, "http://localhost:11434")
	setString(&c.EmbedLLM.Model, "bge-m3")
	setDuration(&c.EmbedLLM.Timeout, 10*time.Second)

	setString(&c.ChatLLM.Provider, "ollama")
	setString(&c.ChatLLM.BaseURL, "http://localhost:11434")
	setString(&c.ChatLLM.Model, "llama3.2")
	setDuration(&c.ChatLLM.Timeout, 60*time.Second)
	if c.ChatLLM.Temperature == 0 {
		c.ChatLLM.Temperature = 0.1
	}
	setInt(&c.ChatLLM.Retries, 2)
	setDuration(&c.ChatLLM.RetryDelay, 400*time.Millisecond)

	setString(&c.Schema.Name, "public")
	if c.Schema.ExcludeTables == nil {
		c.Schema.ExcludeTables = []string{"alembic_version", "rag_chunks", "rag_sources"}
	}
	setDuration(&c.Schema.TTL, 300*time.Second)

	setInt(&c.Retrieval.TopK, 8)
	setInt(&c.Retrieval.KeywordLimit, 5)
	setInt(&c.Retrieval.MinPool, 30)
	setInt(&c.Retrieval.PoolFactor, 6)
	if c.Retrieval.LowConfidence == 0 {
		c.Retrieval.LowConfidence = 0.50
	}
	setInt(&c.Retrieval.MaxContextTokens, 3000)

	setDuration(&c.Analytics.SQLTimeout, 8*time.Second)
	setInt(&c.Analytics.MaxGroupRows, 200)
	setInt(&c.Analytics.MaxJoinHops, 3)
	setString(&c.Analytics.Currency, "TND")

	setInt(&c.Ingest.ChunkSize, 1400)
	setInt(&c.Ingest.ChunkOverlap, 200)
	setInt(&c.Ingest.MinChunkChars, 250)
	if c.Ingest.MinAlphaRatio == 0 {
		c.Ingest.MinAlphaRatio = 0.55
	}
	setInt(&c.Ingest.MaxFieldChars, 500)
	setInt(&c.Ingest.MaxDocChars, 2500)
	setInt(&c.Ingest.RowLimit, 50000)
	setInt(&c.Ingest.BatchSize, 128)
	setString(&c.Ingest.Dir, "./data")

	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "json")
}

func (c *Config) applyEnv() error {
	envString(&c.Database.URL, "DATABASE_URL")
	envString(&c.Schema.Name, "MAXULA_SCHEMA")
	if v, ok := os.LookupEnv("MAXULA_EXCLUDE_TABLES"); ok {
		c.Schema.ExcludeTables = splitList(v)
	}
	envString(&c.ChatLLM.BaseURL, "OLLAMA_BASE_URL")
	envString(&c.EmbedLLM.BaseURL, "OLLAMA_BASE_URL")
	envString(&c.ChatLLM.Model, "LLM_MODEL")
	envString(&c.EmbedLLM.Model, "EMBED_MODEL")
	envString(&c.ChatLLM.Key, "LLM_API_KEY")
	if v, ok := os.LookupEnv("MAXULA_INCLUDE_TABLES"); ok {
		c.Ingest.Tables = splitList(v)
	}

	if err := envSeconds(&c.Schema.TTL, "ANALYTICS_SCHEMA_TTL"); err != nil {
		return err
	}
	if err := envSeconds(&c.Analytics.SQLTimeout, "KPI_SQL_TIMEOUT_SEC"); err != nil {
		return err
	}
	if err := envInt(&c.Analytics.MaxGroupRows, "KPI_MAX_GROUP_ROWS"); err != nil {
		return err
	}
	if err := envInt(&c.Ingest.RowLimit, "MAXULA_ROW_LIMIT"); err != nil {
		return err
	}
	if err := envInt(&c.Ingest.BatchSize, "MAXULA_BATCH_SIZE"); err != nil {
		return err
	}
	return envInt(&c.Analytics.MaxJoinHops, "KPI_MAX_JOIN_HOPS")
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envSeconds(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(f * float64(time.Second))
	return nil
}
