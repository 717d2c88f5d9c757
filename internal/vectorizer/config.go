// Package vectorizer implements the vectorizer control plane: configuration
// documents, validation, schema provisioning, and the queue/trigger machinery
// that keeps source tables synchronized with their embedding stores.
package vectorizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Config is the full configuration document attached to a vectorizer. Each
// sub-block is a tagged variant: config_type names the slot, implementation
// selects the concrete behavior. The document is parsed once at ingestion and
// stored verbatim on the vectorizer row.
type Config struct {
	Version     string            `json:"version,omitempty"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Chunking    ChunkingConfig    `json:"chunking"`
	Loading     LoadingConfig     `json:"loading"`
	Parsing     ParsingConfig     `json:"parsing"`
	Formatting  FormattingConfig  `json:"formatting"`
	Destination DestinationConfig `json:"destination"`
	Scheduling  SchedulingConfig  `json:"scheduling"`
	Indexing    IndexingConfig    `json:"indexing"`
	Processing  ProcessingConfig  `json:"processing"`
	GrantTo     GrantToConfig     `json:"grant_to"`
}

// Implementation enums per slot.
const (
	EmbeddingOpenAI   = "openai"
	EmbeddingOllama   = "ollama"
	EmbeddingVoyageAI = "voyageai"

	ChunkingCharacter          = "character_text_splitter"
	ChunkingRecursiveCharacter = "recursive_character_text_splitter"

	LoadingRow      = "row"
	LoadingDocument = "document"

	ParsingAuto    = "auto"
	ParsingNone    = "none"
	ParsingPyMuPDF = "pymupdf"

	DestinationDefault = "default"
	DestinationCustom  = "custom"
	DestinationSource  = "source"

	SchedulingNone        = "none"
	SchedulingTimescaleDB = "timescaledb"

	IndexingNone    = "none"
	IndexingDefault = "default"
	IndexingDiskANN = "diskann"
	IndexingHNSW    = "hnsw"

	GrantToDefault   = "default"
	GrantToExplicit  = "explicit"
	GrantToTimescale = "timescale"
)

// EmbeddingConfig selects the embedding provider and model.
type EmbeddingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions"`
	APIKeyName     string `json:"api_key_name,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`

	// openai only
	UseBatchAPI bool   `json:"use_batch_api,omitempty"`
	ChatUser    string `json:"chat_user,omitempty"`

	// ollama only
	KeepAlive string `json:"keep_alive,omitempty"`
	Truncate  *bool  `json:"truncate,omitempty"`

	// voyageai only
	InputType string `json:"input_type,omitempty"`
}

// ChunkingConfig selects the text splitter applied to the chunk column.
// ChunkOverlap is a pointer so an omitted value and an explicit zero stay
// distinguishable; ApplyDefaults fills the omitted case.
type ChunkingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
	ChunkColumn    string `json:"chunk_column"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   *int   `json:"chunk_overlap,omitempty"`

	// character_text_splitter only
	Separator        string `json:"separator,omitempty"`
	IsSeparatorRegex bool   `json:"is_separator_regex,omitempty"`

	// recursive_character_text_splitter only
	Separators []string `json:"separators,omitempty"`
}

// LoadingConfig selects how source content is obtained.
type LoadingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
	ColumnName     string `json:"column_name"`

	// document only: optional loader for URL/path columns
	FileLoader string `json:"file_loader,omitempty"`
}

// ParsingConfig selects how loaded bytes become text.
type ParsingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
}

// FormattingConfig renders the text payload actually embedded. The template
// uses $chunk plus any source column referenced as $<column>.
type FormattingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
	Template       string `json:"template"`
}

// FormattingPythonTemplate is the only formatting implementation.
const FormattingPythonTemplate = "python_template"

// DestinationConfig selects where embeddings land.
type DestinationConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`

	// custom only
	TargetSchema string `json:"target_schema,omitempty"`
	TargetTable  string `json:"target_table,omitempty"`
	ViewSchema   string `json:"view_schema,omitempty"`
	ViewName     string `json:"view_name,omitempty"`

	// source only: vector column added to the source table
	EmbeddingColumn string `json:"embedding_column,omitempty"`
}

// SchedulingConfig selects the external timer integration.
type SchedulingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`

	// timescaledb only
	ScheduleInterval Duration `json:"schedule_interval,omitempty"`
	InitialStart     string   `json:"initial_start,omitempty"`
	FixedSchedule    *bool    `json:"fixed_schedule,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	JobID            int64    `json:"job_id,omitempty"` // written back after registration
}

// IndexingConfig records the similarity index the scheduler should build.
// The core records it; it never creates indexes itself.
type IndexingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
	MinRows        int    `json:"min_rows,omitempty"`

	// diskann only
	StorageLayout       string   `json:"storage_layout,omitempty"`
	NumNeighbors        int      `json:"num_neighbors,omitempty"`
	SearchListSize      int      `json:"search_list_size,omitempty"`
	MaxAlpha            *float64 `json:"max_alpha,omitempty"`
	NumDimensions       int      `json:"num_dimensions,omitempty"`
	NumBitsPerDimension int      `json:"num_bits_per_dimension,omitempty"`

	// hnsw only
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	OpClass        string `json:"opclass,omitempty"`
}

// ProcessingConfig tunes the worker pass over this vectorizer.
type ProcessingConfig struct {
	ConfigType     string `json:"config_type"`
	Implementation string `json:"implementation"`
	BatchSize      int    `json:"batch_size"`
	Concurrency    int    `json:"concurrency"`
	MaxRetries     int    `json:"max_retries"`
}

// ProcessingDefault is the only processing implementation.
const ProcessingDefault = "default"

// GrantToConfig names the roles granted access to the queue and target.
type GrantToConfig struct {
	ConfigType     string   `json:"config_type"`
	Implementation string   `json:"implementation"`
	Roles          []string `json:"roles,omitempty"`
}

// Duration wraps time.Duration with Postgres-interval-ish JSON encoding
// ("5m", "1h", "30s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Defaults used when a config document omits optional settings.
const (
	DefaultBatchSize    = 50
	DefaultConcurrency  = 1
	DefaultMaxRetries   = 6
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 400
)

// ParseConfig decodes a configuration document, rejecting unknown fields, and
// applies defaults for omitted optional settings.
func ParseConfig(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse vectorizer config: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills omitted optional settings in place.
func (c *Config) ApplyDefaults() {
	if c.Parsing.Implementation == "" {
		c.Parsing.ConfigType = "parsing"
		c.Parsing.Implementation = ParsingAuto
	}
	if c.Formatting.Implementation == "" {
		c.Formatting.ConfigType = "formatting"
		c.Formatting.Implementation = FormattingPythonTemplate
		c.Formatting.Template = "$chunk"
	}
	if c.Destination.Implementation == "" {
		c.Destination.ConfigType = "destination"
		c.Destination.Implementation = DestinationDefault
	}
	if c.Scheduling.Implementation == "" {
		c.Scheduling.ConfigType = "scheduling"
		c.Scheduling.Implementation = SchedulingNone
	}
	if c.Indexing.Implementation == "" {
		c.Indexing.ConfigType = "indexing"
		c.Indexing.Implementation = IndexingNone
	}
	if c.GrantTo.Implementation == "" {
		c.GrantTo.ConfigType = "grant_to"
		c.GrantTo.Implementation = GrantToDefault
	}
	if c.Processing.Implementation == "" {
		c.Processing.ConfigType = "processing"
		c.Processing.Implementation = ProcessingDefault
	}
	if c.Processing.BatchSize <= 0 {
		c.Processing.BatchSize = DefaultBatchSize
	}
	if c.Processing.Concurrency <= 0 {
		c.Processing.Concurrency = DefaultConcurrency
	}
	if c.Processing.MaxRetries <= 0 {
		c.Processing.MaxRetries = DefaultMaxRetries
	}
	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = DefaultChunkSize
	}
	if c.Chunking.ChunkOverlap == nil {
		overlap := DefaultChunkOverlap
		if overlap >= c.Chunking.ChunkSize {
			overlap = c.Chunking.ChunkSize / 2
		}
		c.Chunking.ChunkOverlap = &overlap
	} else if *c.Chunking.ChunkOverlap < 0 {
		*c.Chunking.ChunkOverlap = 0
	}
	if c.Chunking.Implementation == ChunkingCharacter && c.Chunking.Separator == "" {
		c.Chunking.Separator = "\n\n"
	}
	if c.Chunking.Implementation == ChunkingRecursiveCharacter && len(c.Chunking.Separators) == 0 {
		c.Chunking.Separators = []string{"\n\n", "\n", ".", "?", "!", " ", ""}
	}
	if c.Loading.Implementation == "" {
		c.Loading.ConfigType = "loading"
		c.Loading.Implementation = LoadingRow
	}
	if c.Loading.ColumnName == "" {
		c.Loading.ColumnName = c.Chunking.ChunkColumn
	}
	if c.Chunking.ChunkColumn == "" {
		c.Chunking.ChunkColumn = c.Loading.ColumnName
	}
}

// MarshalConfig encodes a configuration document for storage on the
// vectorizer row.
func MarshalConfig(c *Config) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal vectorizer config: %w", err)
	}
	return data, nil
}
