package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	QdrantURL string `mapstructure:"qdrant_url"`

	// Exactly one embedder form may be configured: a remote model id, or a
	// pair of local ONNX paths.
	EmbedModel        string `mapstructure:"embed_model"`
	EmbedAPIBase      string `mapstructure:"embed_api_base"`
	OnnxModelPath     string `mapstructure:"onnx_model_path"`
	OnnxTokenizerPath string `mapstructure:"onnx_tokenizer_path"`

	RepositoriesBasePath string `mapstructure:"repositories_base_path"`
	VocabularyBasePath   string `mapstructure:"vocabulary_base_path"`

	Indexing    IndexingConfig    `mapstructure:"indexing"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Search      SearchConfig      `mapstructure:"search"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type IndexingConfig struct {
	MaxConcurrentUpserts int `mapstructure:"max_concurrent_upserts"`
	// WatchdogSeconds is the no-progress deadline for a running sync.
	WatchdogSeconds int `mapstructure:"watchdog_seconds"`
	// HeartbeatSeconds is the minimum interval between keepalive events.
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	// IncludeExtensions, when set, limits indexing to files with these
	// extensions. Empty means every file is eligible.
	IncludeExtensions []string `mapstructure:"include_extensions"`
}

type PerformanceConfig struct {
	BatchSize            int    `mapstructure:"batch_size"`
	CollectionNamePrefix string `mapstructure:"collection_name_prefix"`
	MaxFileSizeBytes     int64  `mapstructure:"max_file_size_bytes"`
	VectorDimension      int    `mapstructure:"vector_dimension"`
}

type EmbeddingConfig struct {
	SessionTimeoutSeconds int  `mapstructure:"session_timeout_seconds"`
	EnableSessionCleanup  bool `mapstructure:"enable_session_cleanup"`
	EmbeddingBatchSize    int  `mapstructure:"embedding_batch_size"`
	PoolSize              int  `mapstructure:"pool_size"`
}

type SearchConfig struct {
	// Fusion selects how dense and sparse prefetch streams are combined:
	// "rrf" (default) or "dbsf".
	Fusion            string  `mapstructure:"fusion"`
	DensePrefetchMul  int     `mapstructure:"dense_prefetch_multiplier"`
	SparsePrefetchMul int     `mapstructure:"sparse_prefetch_multiplier"`
	FilenameBoost     float32 `mapstructure:"filename_boost"`
	ScoreThreshold    float32 `mapstructure:"score_threshold"`
	CacheSize         int     `mapstructure:"cache_size"`
	CacheTTLSeconds   int     `mapstructure:"cache_ttl_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

// Default returns a configuration with all tunables at their defaults.
func Default() *Config {
	return &Config{
		QdrantURL: "localhost:6334",
		Indexing: IndexingConfig{
			MaxConcurrentUpserts: 8,
			WatchdogSeconds:      120,
			HeartbeatSeconds:     5,
			MaxRetries:           3,
		},
		Performance: PerformanceConfig{
			BatchSize:            64,
			CollectionNamePrefix: "repovec_",
			MaxFileSizeBytes:     1 << 20,
			VectorDimension:      384,
		},
		Embedding: EmbeddingConfig{
			SessionTimeoutSeconds: 300,
			EnableSessionCleanup:  true,
			EmbeddingBatchSize:    32,
			PoolSize:              4,
		},
		Search: SearchConfig{
			Fusion:            "rrf",
			DensePrefetchMul:  4,
			SparsePrefetchMul: 6,
			FilenameBoost:     2.0,
			CacheSize:         1000,
			CacheTTLSeconds:   60,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks configuration for hard errors and returns advisory warnings.
// Contradictory embedder settings are errors; questionable tunables are
// warnings and fall back to defaults.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	hasModel := c.EmbedModel != ""
	hasOnnxModel := c.OnnxModelPath != ""
	hasOnnxTok := c.OnnxTokenizerPath != ""

	if hasModel && (hasOnnxModel || hasOnnxTok) {
		return warnings, errors.New("embed_model and onnx_model_path/onnx_tokenizer_path are mutually exclusive")
	}
	if hasOnnxModel != hasOnnxTok {
		return warnings, errors.New("onnx_model_path and onnx_tokenizer_path must both be set")
	}

	if c.QdrantURL == "" {
		return warnings, errors.New("qdrant_url must not be empty")
	}

	if c.Indexing.MaxConcurrentUpserts <= 0 {
		warnings = append(warnings, fmt.Sprintf("indexing.max_concurrent_upserts %d is not positive, using default 8", c.Indexing.MaxConcurrentUpserts))
		c.Indexing.MaxConcurrentUpserts = 8
	}
	if c.Performance.BatchSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("performance.batch_size %d is not positive, using default 64", c.Performance.BatchSize))
		c.Performance.BatchSize = 64
	}
	if c.Performance.VectorDimension <= 0 {
		warnings = append(warnings, fmt.Sprintf("performance.vector_dimension %d is not positive, using default 384", c.Performance.VectorDimension))
		c.Performance.VectorDimension = 384
	}
	if c.Performance.MaxFileSizeBytes <= 0 {
		warnings = append(warnings, "performance.max_file_size_bytes is not positive, using default 1 MiB")
		c.Performance.MaxFileSizeBytes = 1 << 20
	}
	switch strings.ToLower(c.Search.Fusion) {
	case "", "rrf", "dbsf":
	default:
		warnings = append(warnings, fmt.Sprintf("search.fusion %q is unknown, using rrf", c.Search.Fusion))
		c.Search.Fusion = "rrf"
	}

	return warnings, nil
}

// Load reads configuration from file and environment. A missing file is not
// an error: defaults plus environment overrides are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPOVEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				var pathErr *os.PathError
				if !errors.As(err, &pathErr) {
					return nil, fmt.Errorf("reading config: %w", err)
				}
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	for _, warning := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	return cfg, nil
}

// setDefaults seeds viper so env overrides work for keys absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("qdrant_url", cfg.QdrantURL)
	v.SetDefault("indexing.max_concurrent_upserts", cfg.Indexing.MaxConcurrentUpserts)
	v.SetDefault("indexing.watchdog_seconds", cfg.Indexing.WatchdogSeconds)
	v.SetDefault("indexing.heartbeat_seconds", cfg.Indexing.HeartbeatSeconds)
	v.SetDefault("indexing.max_retries", cfg.Indexing.MaxRetries)
	v.SetDefault("indexing.include_extensions", cfg.Indexing.IncludeExtensions)
	v.SetDefault("performance.batch_size", cfg.Performance.BatchSize)
	v.SetDefault("performance.collection_name_prefix", cfg.Performance.CollectionNamePrefix)
	v.SetDefault("performance.max_file_size_bytes", cfg.Performance.MaxFileSizeBytes)
	v.SetDefault("performance.vector_dimension", cfg.Performance.VectorDimension)
	v.SetDefault("embedding.session_timeout_seconds", cfg.Embedding.SessionTimeoutSeconds)
	v.SetDefault("embedding.enable_session_cleanup", cfg.Embedding.EnableSessionCleanup)
	v.SetDefault("embedding.embedding_batch_size", cfg.Embedding.EmbeddingBatchSize)
	v.SetDefault("embedding.pool_size", cfg.Embedding.PoolSize)
	v.SetDefault("search.fusion", cfg.Search.Fusion)
	v.SetDefault("search.dense_prefetch_multiplier", cfg.Search.DensePrefetchMul)
	v.SetDefault("search.sparse_prefetch_multiplier", cfg.Search.SparsePrefetchMul)
	v.SetDefault("search.filename_boost", cfg.Search.FilenameBoost)
	v.SetDefault("search.cache_size", cfg.Search.CacheSize)
	v.SetDefault("search.cache_ttl_seconds", cfg.Search.CacheTTLSeconds)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
