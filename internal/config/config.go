package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Paths        PathsConfig        `yaml:"paths" mapstructure:"paths"`
	OCR          OCRConfig          `yaml:"ocr" mapstructure:"ocr"`
	Raster       RasterConfig       `yaml:"raster" mapstructure:"raster"`
	AI           AIConfig           `yaml:"ai" mapstructure:"ai"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Correction   CorrectionConfig   `yaml:"correction" mapstructure:"correction"`
	Parser       ParserConfig       `yaml:"parser" mapstructure:"parser"`
	Stage        StageConfig        `yaml:"stage" mapstructure:"stage"`
	Repair       RepairConfig       `yaml:"repair" mapstructure:"repair"`
	Fetch        FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PathsConfig holds the artifact roots.
type PathsConfig struct {
	PDFRoot    string `yaml:"pdf_root" mapstructure:"pdf_root"`
	ImagesRoot string `yaml:"images_root" mapstructure:"images_root"`
	TextRoot   string `yaml:"text_root" mapstructure:"text_root"`
	JSONRoot   string `yaml:"json_root" mapstructure:"json_root"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RasterConfig configures PDF page rasterization.
type RasterConfig struct {
	PdfToPpmPath string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	DPI          int    `yaml:"dpi" mapstructure:"dpi"`
}

// ProviderConfig describes one AI provider endpoint.
type ProviderConfig struct {
	Kind              string   `yaml:"kind" mapstructure:"kind"`
	BaseURL           string   `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string   `yaml:"api_key" mapstructure:"api_key"`
	Model             string   `yaml:"model" mapstructure:"model"`
	RequiredModels    []string `yaml:"required_models" mapstructure:"required_models"`
	RequestsPerMinute int      `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxInputChars     int      `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	MaxTokens         int64    `yaml:"max_tokens" mapstructure:"max_tokens"`
	// Vision marks models that accept page images.
	Vision            bool     `yaml:"vision" mapstructure:"vision"`
}

// Enabled reports whether the provider block is configured.
func (p ProviderConfig) Enabled() bool {
	return p.Kind != "" && p.Kind != "none"
}

// AIConfig configures AI-assisted extraction.
type AIConfig struct {
	Primary   ProviderConfig `yaml:"primary" mapstructure:"primary"`
	Secondary ProviderConfig `yaml:"secondary" mapstructure:"secondary"`
	Mode      string         `yaml:"mode" mapstructure:"mode"`
}

// OrchestratorConfig holds extraction-method selection parameters.
type OrchestratorConfig struct {
	MinCPUsForAI          int     `yaml:"min_cpus_for_ai" mapstructure:"min_cpus_for_ai"`
	AcceptPatternAbove    float64 `yaml:"accept_pattern_above" mapstructure:"accept_pattern_above"`
	OCRBandLow            float64 `yaml:"ocr_band_low" mapstructure:"ocr_band_low"`
	OCRBandHigh           float64 `yaml:"ocr_band_high" mapstructure:"ocr_band_high"`
	CorrectedBandLow      float64 `yaml:"corrected_band_low" mapstructure:"corrected_band_low"`
	CorrectedBandHigh     float64 `yaml:"corrected_band_high" mapstructure:"corrected_band_high"`
	AICorrectedConfidence float64 `yaml:"ai_corrected_confidence" mapstructure:"ai_corrected_confidence"`
	AIFullConfidence      float64 `yaml:"ai_full_confidence" mapstructure:"ai_full_confidence"`
	ChunkSize             int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap          int     `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	EnrichBelow           float64 `yaml:"enrich_below" mapstructure:"enrich_below"`
	PagesPerRequest       int     `yaml:"pages_per_request" mapstructure:"pages_per_request"`
}

// CorrectionConfig configures the text correction engine.
type CorrectionConfig struct {
	MaxEditDistance int    `yaml:"max_edit_distance" mapstructure:"max_edit_distance"`
	MinTokenLength  int    `yaml:"min_token_length" mapstructure:"min_token_length"`
	PromoteAfter    int    `yaml:"promote_after" mapstructure:"promote_after"`
	SeedFile        string `yaml:"seed_file" mapstructure:"seed_file"`
}

// ParserConfig configures the pattern parser.
type ParserConfig struct {
	PatternsFile            string `yaml:"patterns_file" mapstructure:"patterns_file"`
	ExpectedCharsPerArticle int    `yaml:"expected_chars_per_article" mapstructure:"expected_chars_per_article"`
	MinArticleChars         int    `yaml:"min_article_chars" mapstructure:"min_article_chars"`
}

// StageConfig configures the stage engine.
type StageConfig struct {
	ChunkSize       int `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxWorkers      int `yaml:"max_workers" mapstructure:"max_workers"`
	ItemTimeoutSecs int `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	MaxChunks       int `yaml:"max_chunks" mapstructure:"max_chunks"`
}

// ItemTimeout returns the per-item timeout as a duration.
func (s StageConfig) ItemTimeout() time.Duration {
	return time.Duration(s.ItemTimeoutSecs) * time.Second
}

// RepairConfig configures the fix/repair scanner.
type RepairConfig struct {
	MinConfidence   float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	StuckAfterHours int     `yaml:"stuck_after_hours" mapstructure:"stuck_after_hours"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	VerifyHash      bool    `yaml:"verify_hash" mapstructure:"verify_hash"`
	IntervalMins    int     `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// FetchConfig configures source checks and downloads.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the query API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LAWDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lawdoc.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("paths.pdf_root", "data/pdf")
	v.SetDefault("paths.images_root", "data/images")
	v.SetDefault("paths.text_root", "data/text")
	v.SetDefault("paths.json_root", "data/json")

	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.timeout_secs", 120)

	v.SetDefault("raster.pdftoppm_path", "pdftoppm")
	v.SetDefault("raster.dpi", 200)

	v.SetDefault("ai.mode", "correct")
	v.SetDefault("ai.primary.kind", "openai")
	v.SetDefault("ai.primary.base_url", "http://localhost:11434/v1")
	v.SetDefault("ai.primary.model", "llama3.1:8b")
	v.SetDefault("ai.primary.requests_per_minute", 30)
	v.SetDefault("ai.primary.timeout_secs", 180)
	v.SetDefault("ai.primary.max_input_chars", 12000)
	v.SetDefault("ai.primary.max_tokens", 8192)
	v.SetDefault("ai.secondary.kind", "anthropic")
	v.SetDefault("ai.secondary.model", "claude-haiku-4-5-20251001")
	v.SetDefault("ai.secondary.requests_per_minute", 50)
	v.SetDefault("ai.secondary.timeout_secs", 120)
	v.SetDefault("ai.secondary.max_input_chars", 60000)
	v.SetDefault("ai.secondary.max_tokens", 16000)
	v.SetDefault("ai.secondary.vision", true)

	v.SetDefault("orchestrator.min_cpus_for_ai", 4)
	v.SetDefault("orchestrator.accept_pattern_above", 1.0)
	v.SetDefault("orchestrator.ocr_band_low", 0.5)
	v.SetDefault("orchestrator.ocr_band_high", 0.7)
	v.SetDefault("orchestrator.corrected_band_low", 0.7)
	v.SetDefault("orchestrator.corrected_band_high", 0.8)
	v.SetDefault("orchestrator.ai_corrected_confidence", 0.9)
	v.SetDefault("orchestrator.ai_full_confidence", 0.95)
	v.SetDefault("orchestrator.chunk_size", 12000)
	v.SetDefault("orchestrator.chunk_overlap", 400)
	v.SetDefault("orchestrator.enrich_below", 0.85)
	v.SetDefault("orchestrator.pages_per_request", 4)

	v.SetDefault("correction.max_edit_distance", 2)
	v.SetDefault("correction.min_token_length", 3)
	v.SetDefault("correction.promote_after", 5)

	v.SetDefault("parser.expected_chars_per_article", 600)
	v.SetDefault("parser.min_article_chars", 20)

	v.SetDefault("stage.chunk_size", 50)
	v.SetDefault("stage.max_workers", 8)
	v.SetDefault("stage.item_timeout_secs", 300)
	v.SetDefault("stage.max_chunks", 0)

	v.SetDefault("repair.min_confidence", 0.5)
	v.SetDefault("repair.stuck_after_hours", 24)
	v.SetDefault("repair.batch_size", 200)
	v.SetDefault("repair.verify_hash", true)
	v.SetDefault("repair.interval_mins", 0)

	v.SetDefault("fetch.user_agent", "lawdoc-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 2.0)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
}

// Validate checks cross-field constraints. Errors here are fatal: no stage
// may claim work under an invalid configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}

	switch c.AI.Mode {
	case "correct", "full":
	default:
		return eris.Errorf("config: unsupported ai mode %q", c.AI.Mode)
	}
	for name, p := range map[string]ProviderConfig{"primary": c.AI.Primary, "secondary": c.AI.Secondary} {
		switch p.Kind {
		case "", "none", "openai", "anthropic":
		default:
			return eris.Errorf("config: ai.%s: unsupported kind %q", name, p.Kind)
		}
	}

	o := c.Orchestrator
	bands := [][2]float64{{o.OCRBandLow, o.OCRBandHigh}, {o.CorrectedBandLow, o.CorrectedBandHigh}}
	for _, b := range bands {
		if b[0] > b[1] {
			return eris.Errorf("config: orchestrator band [%.2f, %.2f] is inverted", b[0], b[1])
		}
	}
	for _, v := range []float64{
		o.OCRBandLow, o.OCRBandHigh, o.CorrectedBandLow, o.CorrectedBandHigh,
		o.AICorrectedConfidence, o.AIFullConfidence, o.AcceptPatternAbove, o.EnrichBelow,
		c.Repair.MinConfidence,
	} {
		if v < 0 || v > 1 {
			return eris.Errorf("config: confidence value %.2f outside [0, 1]", v)
		}
	}
	if o.ChunkOverlap < 0 || (o.ChunkSize > 0 && o.ChunkOverlap >= o.ChunkSize) {
		return eris.Errorf("config: chunk overlap %d must be in [0, chunk_size)", o.ChunkOverlap)
	}
	if c.Stage.ChunkSize <= 0 {
		return eris.New("config: stage.chunk_size must be positive")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
