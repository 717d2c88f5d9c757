package vectorizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_AppliesDefaults(t *testing.T) {
	doc := `{
		"embedding": {
			"config_type": "embedding",
			"implementation": "openai",
			"model": "text-embedding-3-small",
			"dimensions": 768
		},
		"chunking": {
			"config_type": "chunking",
			"implementation": "recursive_character_text_splitter",
			"chunk_column": "body"
		}
	}`

	cfg, err := ParseConfig([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, ParsingAuto, cfg.Parsing.Implementation)
	assert.Equal(t, FormattingPythonTemplate, cfg.Formatting.Implementation)
	assert.Equal(t, "$chunk", cfg.Formatting.Template)
	assert.Equal(t, DestinationDefault, cfg.Destination.Implementation)
	assert.Equal(t, SchedulingNone, cfg.Scheduling.Implementation)
	assert.Equal(t, IndexingNone, cfg.Indexing.Implementation)
	assert.Equal(t, GrantToDefault, cfg.GrantTo.Implementation)

	assert.Equal(t, DefaultBatchSize, cfg.Processing.BatchSize)
	assert.Equal(t, DefaultConcurrency, cfg.Processing.Concurrency)
	assert.Equal(t, DefaultMaxRetries, cfg.Processing.MaxRetries)
	assert.Equal(t, DefaultChunkSize, cfg.Chunking.ChunkSize)
	require.NotNil(t, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, DefaultChunkOverlap, *cfg.Chunking.ChunkOverlap)

	// Loading defaults to row loading of the chunk column.
	assert.Equal(t, LoadingRow, cfg.Loading.Implementation)
	assert.Equal(t, "body", cfg.Loading.ColumnName)

	// The recursive splitter gets the standard separator cascade, ending in
	// the hard-split fallback.
	require.NotEmpty(t, cfg.Chunking.Separators)
	assert.Equal(t, "", cfg.Chunking.Separators[len(cfg.Chunking.Separators)-1])
}

func TestParseConfig_ExplicitZeroOverlapKept(t *testing.T) {
	doc := `{
		"embedding": {"implementation": "openai", "model": "m", "dimensions": 8},
		"chunking": {"implementation": "character_text_splitter", "chunk_column": "body", "chunk_overlap": 0}
	}`
	cfg, err := ParseConfig([]byte(doc))
	require.NoError(t, err)
	require.NotNil(t, cfg.Chunking.ChunkOverlap)
	assert.Zero(t, *cfg.Chunking.ChunkOverlap)
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := ParseConfig([]byte(`{"embedding": {"modle": "typo"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse vectorizer config")
}

func TestParseConfig_CharacterSeparatorDefault(t *testing.T) {
	doc := `{
		"embedding": {"implementation": "openai", "model": "m", "dimensions": 8},
		"chunking": {"implementation": "character_text_splitter", "chunk_column": "body"}
	}`
	cfg, err := ParseConfig([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "\n\n", cfg.Chunking.Separator)
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var s SchedulingConfig
	require.NoError(t, json.Unmarshal([]byte(`{"schedule_interval": "5m"}`), &s))
	assert.Equal(t, 5*time.Minute, time.Duration(s.ScheduleInterval))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"5m0s"`)

	require.Error(t, json.Unmarshal([]byte(`{"schedule_interval": "tomorrow"}`), &s))
}

func TestMarshalConfig_RoundTrip(t *testing.T) {
	cfg := &Config{
		Embedding: EmbeddingConfig{
			ConfigType: "embedding", Implementation: EmbeddingOpenAI,
			Model: "text-embedding-3-small", Dimensions: 768,
		},
		Chunking: ChunkingConfig{
			ConfigType: "chunking", Implementation: ChunkingRecursiveCharacter,
			ChunkColumn: "body",
		},
	}
	cfg.ApplyDefaults()

	data, err := MarshalConfig(cfg)
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "_vectorizer_q_42", QueueTableName(42))
	assert.Equal(t, "_vectorizer_src_trg_42", TriggerName(42))
	assert.Equal(t, "_vectorizer_src_trg_fn_42", TriggerFuncName(42))
	assert.Equal(t, "_vectorizer_embedding_batches_42", BatchTableName(42))
	assert.Equal(t, "_vectorizer_embedding_batch_chunks_42", BatchChunksTableName(42))
	assert.Equal(t, "posts_embedding_store", DefaultTargetTable("posts"))
	assert.Equal(t, "posts_embedding", DefaultViewName("posts"))
}
