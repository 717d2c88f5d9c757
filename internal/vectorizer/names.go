package vectorizer

import "fmt"

// CatalogSchema is the schema holding vectorsync's own state: the vectorizer
// registry, worker records, semantic catalogs, and per-vectorizer queues.
const CatalogSchema = "ai"

// QueueTableName returns the per-vectorizer queue table name.
func QueueTableName(id int32) string {
	return fmt.Sprintf("_vectorizer_q_%d", id)
}

// TriggerName returns the per-vectorizer source trigger name.
func TriggerName(id int32) string {
	return fmt.Sprintf("_vectorizer_src_trg_%d", id)
}

// TriggerFuncName returns the function backing the source trigger.
func TriggerFuncName(id int32) string {
	return fmt.Sprintf("_vectorizer_src_trg_fn_%d", id)
}

// BatchTableName returns the openai batch-request tracking table name.
func BatchTableName(id int32) string {
	return fmt.Sprintf("_vectorizer_embedding_batches_%d", id)
}

// BatchChunksTableName returns the openai batch chunk-staging table name.
func BatchChunksTableName(id int32) string {
	return fmt.Sprintf("_vectorizer_embedding_batch_chunks_%d", id)
}

// DefaultTargetTable returns the default embedding-store table name derived
// from the source table.
func DefaultTargetTable(sourceTable string) string {
	return sourceTable + "_embedding_store"
}

// DefaultViewName returns the default join-view name derived from the source
// table.
func DefaultViewName(sourceTable string) string {
	return sourceTable + "_embedding"
}
