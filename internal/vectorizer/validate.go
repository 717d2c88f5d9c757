package vectorizer

import (
	"context"
	"fmt"
	"strings"
)

// Validation error kinds. Failures are reported by kind so callers can fix
// every problem in one round trip instead of replaying create_vectorizer.
const (
	KindBadImplementation = "bad_implementation"
	KindBadConfigType     = "bad_config_type"
	KindMissingField      = "missing_field"
	KindBadColumn         = "bad_column"
	KindIncompatible      = "incompatible"
	KindNameCollision     = "name_collision"
	KindBadValue          = "bad_value"
)

// ValidationError is one validation failure.
type ValidationError struct {
	Kind    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Field, e.Kind, e.Message)
}

// ValidationErrors aggregates all failures found in one validation pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d invalid config setting(s): %s", len(e), strings.Join(msgs, "; "))
}

// textualTypes are the column types chunking and loading may target.
var textualTypes = map[string]bool{
	"text":    true,
	"varchar": true,
	"char":    true,
	"bpchar":  true,
	"bytea":   true,
}

// Validate checks every sub-block of a configuration document against the
// source table. It collects failures instead of stopping at the first one;
// a nil return means the config is valid. id is the allocated vectorizer id,
// used to derive the batch-table names checked for openai's batch mode.
func Validate(ctx context.Context, db DB, srcSchema, srcTable string, id int32, cfg *Config) ValidationErrors {
	var errs ValidationErrors

	add := func(kind, field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	checkType := func(got, want, field string) {
		if got != "" && got != want {
			add(KindBadConfigType, field, "config_type must be %q, got %q", want, got)
		}
	}

	// embedding
	checkType(cfg.Embedding.ConfigType, "embedding", "embedding.config_type")
	switch cfg.Embedding.Implementation {
	case EmbeddingOpenAI, EmbeddingOllama, EmbeddingVoyageAI:
	default:
		add(KindBadImplementation, "embedding.implementation",
			"must be one of openai, ollama, voyageai; got %q", cfg.Embedding.Implementation)
	}
	if cfg.Embedding.Model == "" {
		add(KindMissingField, "embedding.model", "embedding model is required")
	}
	if cfg.Embedding.Dimensions <= 0 {
		add(KindBadValue, "embedding.dimensions", "dimensions must be positive")
	}
	if cfg.Embedding.Implementation == EmbeddingVoyageAI && cfg.Embedding.InputType != "" {
		if cfg.Embedding.InputType != "query" && cfg.Embedding.InputType != "document" {
			add(KindBadValue, "embedding.input_type",
				"input_type must be query or document; got %q", cfg.Embedding.InputType)
		}
	}
	if cfg.Embedding.Implementation != EmbeddingVoyageAI && cfg.Embedding.InputType != "" {
		add(KindBadValue, "embedding.input_type", "input_type is only valid for voyageai")
	}
	if cfg.Embedding.UseBatchAPI && cfg.Embedding.Implementation != EmbeddingOpenAI {
		add(KindBadValue, "embedding.use_batch_api", "batch API is only available for openai")
	}

	// chunking
	checkType(cfg.Chunking.ConfigType, "chunking", "chunking.config_type")
	switch cfg.Chunking.Implementation {
	case ChunkingCharacter, ChunkingRecursiveCharacter:
	default:
		add(KindBadImplementation, "chunking.implementation",
			"must be character_text_splitter or recursive_character_text_splitter; got %q",
			cfg.Chunking.Implementation)
	}
	if cfg.Chunking.ChunkColumn == "" {
		add(KindMissingField, "chunking.chunk_column", "chunk_column is required")
	}
	if o := cfg.Chunking.ChunkOverlap; o != nil && *o >= cfg.Chunking.ChunkSize && cfg.Chunking.ChunkSize > 0 {
		add(KindBadValue, "chunking.chunk_overlap", "chunk_overlap must be smaller than chunk_size")
	}

	// loading
	checkType(cfg.Loading.ConfigType, "loading", "loading.config_type")
	switch cfg.Loading.Implementation {
	case LoadingRow, LoadingDocument:
	default:
		add(KindBadImplementation, "loading.implementation",
			"must be row or document; got %q", cfg.Loading.Implementation)
	}
	if cfg.Loading.ColumnName == "" {
		add(KindMissingField, "loading.column_name", "column_name is required")
	}

	// parsing
	checkType(cfg.Parsing.ConfigType, "parsing", "parsing.config_type")
	switch cfg.Parsing.Implementation {
	case ParsingAuto, ParsingNone, ParsingPyMuPDF:
	default:
		add(KindBadImplementation, "parsing.implementation",
			"must be auto, none, or pymupdf; got %q", cfg.Parsing.Implementation)
	}
	if cfg.Loading.Implementation == LoadingDocument && cfg.Parsing.Implementation == ParsingNone {
		add(KindIncompatible, "parsing.implementation",
			"loading=document is incompatible with parsing=none")
	}

	// Column checks against the source table. The parsing compatibility rules
	// apply to row loading only: with document loading the column holds a
	// path or URL and the parser sees the loaded document instead.
	colParsing := cfg.Parsing.Implementation
	if cfg.Loading.Implementation == LoadingDocument {
		colParsing = ""
	}
	if cfg.Chunking.ChunkColumn != "" {
		typname, err := ColumnTypeName(ctx, db, srcSchema, srcTable, cfg.Chunking.ChunkColumn)
		if err != nil {
			add(KindBadColumn, "chunking.chunk_column", "%v", err)
		} else {
			validateTextColumn(&errs, "chunking.chunk_column", typname, colParsing)
		}
	}
	if cfg.Loading.ColumnName != "" && cfg.Loading.ColumnName != cfg.Chunking.ChunkColumn {
		typname, err := ColumnTypeName(ctx, db, srcSchema, srcTable, cfg.Loading.ColumnName)
		if err != nil {
			add(KindBadColumn, "loading.column_name", "%v", err)
		} else {
			validateTextColumn(&errs, "loading.column_name", typname, colParsing)
		}
	}

	// formatting
	checkType(cfg.Formatting.ConfigType, "formatting", "formatting.config_type")
	if cfg.Formatting.Implementation != FormattingPythonTemplate {
		add(KindBadImplementation, "formatting.implementation",
			"must be python_template; got %q", cfg.Formatting.Implementation)
	}
	if !strings.Contains(cfg.Formatting.Template, "$chunk") {
		add(KindBadValue, "formatting.template", "template must reference $chunk")
	}

	// destination
	checkType(cfg.Destination.ConfigType, "destination", "destination.config_type")
	switch cfg.Destination.Implementation {
	case DestinationDefault:
	case DestinationCustom:
		if cfg.Destination.TargetTable == "" {
			add(KindMissingField, "destination.target_table",
				"destination=custom requires target_table")
		}
	case DestinationSource:
		if cfg.Destination.EmbeddingColumn == "" {
			add(KindMissingField, "destination.embedding_column",
				"destination=source requires embedding_column")
		} else {
			if _, err := ColumnTypeName(ctx, db, srcSchema, srcTable, cfg.Destination.EmbeddingColumn); err == nil {
				add(KindNameCollision, "destination.embedding_column",
					"column %s already exists on %s.%s",
					cfg.Destination.EmbeddingColumn, srcSchema, srcTable)
			}
		}
	default:
		add(KindBadImplementation, "destination.implementation",
			"must be default, custom, or source; got %q", cfg.Destination.Implementation)
	}

	// scheduling / indexing
	checkType(cfg.Scheduling.ConfigType, "scheduling", "scheduling.config_type")
	switch cfg.Scheduling.Implementation {
	case SchedulingNone, SchedulingTimescaleDB:
	default:
		add(KindBadImplementation, "scheduling.implementation",
			"must be none or timescaledb; got %q", cfg.Scheduling.Implementation)
	}
	checkType(cfg.Indexing.ConfigType, "indexing", "indexing.config_type")
	switch cfg.Indexing.Implementation {
	case IndexingNone, IndexingDefault, IndexingDiskANN, IndexingHNSW:
	default:
		add(KindBadImplementation, "indexing.implementation",
			"must be none, default, diskann, or hnsw; got %q", cfg.Indexing.Implementation)
	}
	if cfg.Scheduling.Implementation == SchedulingNone && cfg.Indexing.Implementation != IndexingNone {
		add(KindIncompatible, "indexing.implementation",
			"automatic indexing requires a scheduler; set scheduling or disable indexing")
	}

	// grant_to
	checkType(cfg.GrantTo.ConfigType, "grant_to", "grant_to.config_type")
	switch cfg.GrantTo.Implementation {
	case GrantToDefault, GrantToExplicit, GrantToTimescale:
	default:
		add(KindBadImplementation, "grant_to.implementation",
			"must be default, explicit, or timescale; got %q", cfg.GrantTo.Implementation)
	}
	if cfg.GrantTo.Implementation == GrantToExplicit && len(cfg.GrantTo.Roles) == 0 {
		add(KindMissingField, "grant_to.roles", "grant_to=explicit requires at least one role")
	}

	// processing
	checkType(cfg.Processing.ConfigType, "processing", "processing.config_type")
	if cfg.Processing.Implementation != ProcessingDefault {
		add(KindBadImplementation, "processing.implementation",
			"must be default; got %q", cfg.Processing.Implementation)
	}

	// openai batch mode writes to two batch tables; their names must be free.
	if cfg.Embedding.Implementation == EmbeddingOpenAI && cfg.Embedding.UseBatchAPI {
		for _, name := range []string{BatchTableName(id), BatchChunksTableName(id)} {
			exists, err := RelationExists(ctx, db, "ai", name)
			if err != nil {
				add(KindBadValue, "embedding.use_batch_api", "%v", err)
			} else if exists {
				add(KindNameCollision, "embedding.use_batch_api", "table ai.%s already exists", name)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateTextColumn(errs *ValidationErrors, field, typname, parsing string) {
	if !textualTypes[typname] {
		*errs = append(*errs, ValidationError{
			Kind: KindBadColumn, Field: field,
			Message: fmt.Sprintf("column type %s is not usable; need text, varchar, char, bpchar, or bytea", typname),
		})
		return
	}
	if typname == "bytea" && parsing == ParsingNone {
		*errs = append(*errs, ValidationError{
			Kind: KindIncompatible, Field: field,
			Message: "bytea column requires a parser; parsing=none only accepts text columns",
		})
	}
	if typname != "bytea" && parsing == ParsingPyMuPDF {
		*errs = append(*errs, ValidationError{
			Kind: KindIncompatible, Field: field,
			Message: fmt.Sprintf("parsing=pymupdf requires a bytea column, got %s", typname),
		})
	}
}
