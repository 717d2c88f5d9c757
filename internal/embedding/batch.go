package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// BatchProvider wraps the OpenAI provider with the asynchronous batch API.
// Inputs are staged into the per-vectorizer batch tables, submitted as one
// batch job, and polled until the job completes. Cheaper per token, much
// slower per call; only worth it for large backfills.
type BatchProvider struct {
	inner        *OpenAIProvider
	db           vectorizer.DB
	vectorizerID int32
	pollInterval time.Duration
}

// NewBatchProvider creates a batch-mode wrapper around an OpenAI provider.
func NewBatchProvider(inner *OpenAIProvider, db vectorizer.DB, vectorizerID int32) *BatchProvider {
	return &BatchProvider{
		inner:        inner,
		db:           db,
		vectorizerID: vectorizerID,
		pollInterval: 30 * time.Second,
	}
}

// SetPollInterval overrides the status poll interval. Used in tests.
func (p *BatchProvider) SetPollInterval(d time.Duration) { p.pollInterval = d }

type batchJob struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

type batchLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed implements Provider through the batch API.
func (p *BatchProvider) Embed(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	fileID, err := p.uploadInput(ctx, texts)
	if err != nil {
		return nil, err
	}

	job, err := p.createBatch(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if err := p.stageBatch(ctx, job.ID, texts); err != nil {
		return nil, err
	}

	job, err = p.waitForBatch(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	results, err := p.collectResults(ctx, job, len(texts))
	if err != nil {
		return nil, err
	}

	if err := p.finishBatch(ctx, job.ID); err != nil {
		return nil, err
	}
	return results, nil
}

// Model implements Provider.
func (p *BatchProvider) Model() string { return p.inner.Model() }

// Dimensions implements Provider.
func (p *BatchProvider) Dimensions() int { return p.inner.Dimensions() }

// uploadInput builds the JSONL request file and uploads it with purpose=batch.
func (p *BatchProvider) uploadInput(ctx context.Context, texts []string) (string, error) {
	var jsonl bytes.Buffer
	enc := json.NewEncoder(&jsonl)
	for i, text := range texts {
		line := map[string]interface{}{
			"custom_id": strconv.Itoa(i),
			"method":    "POST",
			"url":       "/v1/embeddings",
			"body": openaiRequest{
				Input:      []string{text},
				Model:      p.inner.model,
				Dimensions: p.inner.dimensions,
			},
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("encode batch line: %w", err)
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", "batch.jsonl")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(jsonl.Bytes()); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &body, &uploaded); err != nil {
		return "", fmt.Errorf("upload batch input: %w", err)
	}
	return uploaded.ID, nil
}

func (p *BatchProvider) createBatch(ctx context.Context, fileID string) (*batchJob, error) {
	reqBody, err := json.Marshal(map[string]string{
		"input_file_id":     fileID,
		"endpoint":          "/v1/embeddings",
		"completion_window": "24h",
	})
	if err != nil {
		return nil, err
	}

	var job batchJob
	if err := p.doJSON(ctx, http.MethodPost, "/batches", "application/json", bytes.NewReader(reqBody), &job); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return &job, nil
}

// stageBatch records the batch job and its inputs in the per-vectorizer
// tracking tables so an operator can inspect in-flight batches.
func (p *BatchProvider) stageBatch(ctx context.Context, batchID string, texts []string) error {
	batches := qualifiedBatch(vectorizer.BatchTableName(p.vectorizerID))
	chunks := qualifiedBatch(vectorizer.BatchChunksTableName(p.vectorizerID))

	stmt := fmt.Sprintf(
		"INSERT INTO %s (batch_id, status, created_at) VALUES ($1, $2, now())", batches)
	if _, err := p.db.ExecContext(ctx, stmt, batchID, "submitted"); err != nil {
		return fmt.Errorf("record batch: %w", err)
	}

	stmt = fmt.Sprintf(
		"INSERT INTO %s (batch_id, input_index, chunk) VALUES ($1, $2, $3)", chunks)
	for i, text := range texts {
		if _, err := p.db.ExecContext(ctx, stmt, batchID, i, text); err != nil {
			return fmt.Errorf("stage batch chunk %d: %w", i, err)
		}
	}
	return nil
}

func (p *BatchProvider) waitForBatch(ctx context.Context, batchID string) (*batchJob, error) {
	batches := qualifiedBatch(vectorizer.BatchTableName(p.vectorizerID))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		var job batchJob
		if err := p.doJSON(ctx, http.MethodGet, "/batches/"+batchID, "", nil, &job); err != nil {
			return nil, fmt.Errorf("poll batch %s: %w", batchID, err)
		}

		stmt := fmt.Sprintf("UPDATE %s SET status = $2 WHERE batch_id = $1", batches)
		if _, err := p.db.ExecContext(ctx, stmt, batchID, job.Status); err != nil {
			return nil, fmt.Errorf("update batch status: %w", err)
		}

		switch job.Status {
		case "completed":
			return &job, nil
		case "failed", "expired", "cancelled":
			return nil, fmt.Errorf("batch %s ended with status %s", batchID, job.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *BatchProvider) collectResults(ctx context.Context, job *batchJob, n int) ([]Result, error) {
	if job.OutputFileID == "" {
		return nil, fmt.Errorf("batch %s completed without an output file", job.ID)
	}

	data, err := p.doRaw(ctx, http.MethodGet, "/files/"+job.OutputFileID+"/content")
	if err != nil {
		return nil, fmt.Errorf("fetch batch output: %w", err)
	}

	results := make([]Result, n)
	for i := range results {
		results[i] = Result{Index: i, Err: fmt.Errorf("no batch result for input %d", i)}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var line batchLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("parse batch output: %w", err)
		}
		idx, err := strconv.Atoi(line.CustomID)
		if err != nil || idx < 0 || idx >= n {
			continue
		}
		if line.Error != nil {
			results[idx] = Result{Index: idx, Err: fmt.Errorf("batch input %d: %s", idx, line.Error.Message)}
			continue
		}
		var body openaiResponse
		if err := json.Unmarshal(line.Response.Body, &body); err != nil {
			results[idx] = Result{Index: idx, Err: fmt.Errorf("batch input %d: %w", idx, err)}
			continue
		}
		if len(body.Data) == 0 {
			results[idx] = Result{Index: idx, Err: fmt.Errorf("batch input %d: empty response", idx)}
			continue
		}
		results[idx] = Result{Index: idx, Vector: body.Data[0].Embedding}
	}
	return results, nil
}

// finishBatch clears the staging rows and stamps completion.
func (p *BatchProvider) finishBatch(ctx context.Context, batchID string) error {
	batches := qualifiedBatch(vectorizer.BatchTableName(p.vectorizerID))
	chunks := qualifiedBatch(vectorizer.BatchChunksTableName(p.vectorizerID))

	stmt := fmt.Sprintf("DELETE FROM %s WHERE batch_id = $1", chunks)
	if _, err := p.db.ExecContext(ctx, stmt, batchID); err != nil {
		return fmt.Errorf("clear batch staging: %w", err)
	}
	stmt = fmt.Sprintf("UPDATE %s SET completed_at = now() WHERE batch_id = $1", batches)
	if _, err := p.db.ExecContext(ctx, stmt, batchID); err != nil {
		return fmt.Errorf("stamp batch completion: %w", err)
	}
	return nil
}

func (p *BatchProvider) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	data, err := p.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *BatchProvider) doRaw(ctx context.Context, method, path string) ([]byte, error) {
	return p.do(ctx, method, path, "", nil)
}

func (p *BatchProvider) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.inner.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+p.inner.apiKey)

	resp, err := p.inner.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &TransportError{StatusCode: resp.StatusCode, Message: string(data)}
		}
		return nil, fmt.Errorf("openai batch API: status %d: %s", resp.StatusCode, data)
	}
	return data, nil
}

func qualifiedBatch(table string) string {
	return pq.QuoteIdentifier(vectorizer.CatalogSchema) + "." + pq.QuoteIdentifier(table)
}
