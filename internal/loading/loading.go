// Package loading turns a source row into the text handed to the chunker.
// Row loading reads the configured column directly; document loading treats
// the column as a file path or URL and fetches the bytes, which a parser
// then converts to text.
package loading

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// ErrEmptyContent marks a row whose configured column held nothing usable.
// It is deterministic: the worker drops the queue row instead of retrying.
var ErrEmptyContent = errors.New("source column yielded no content")

// Document is the raw content loaded for one row, plus the name used for
// format detection.
type Document struct {
	Data []byte
	Name string
}

// Loader obtains the raw content for one row from the configured column's
// value.
type Loader interface {
	Load(ctx context.Context, value interface{}) (Document, error)
}

// New builds the loader named by a vectorizer's loading config.
func New(cfg *vectorizer.LoadingConfig) (Loader, error) {
	switch cfg.Implementation {
	case vectorizer.LoadingRow:
		return &RowLoader{}, nil
	case vectorizer.LoadingDocument:
		return NewDocumentLoader(), nil
	default:
		return nil, fmt.Errorf("unknown loading implementation %q", cfg.Implementation)
	}
}

// RowLoader uses the column value itself as the content.
type RowLoader struct{}

// Load implements Loader.
func (l *RowLoader) Load(_ context.Context, value interface{}) (Document, error) {
	data, err := coerceBytes(value)
	if err != nil {
		return Document{}, err
	}
	if len(data) == 0 {
		return Document{}, ErrEmptyContent
	}
	return Document{Data: data}, nil
}

// DocumentLoader treats the column value as a file path or http(s) URL and
// fetches the referenced bytes.
type DocumentLoader struct {
	httpClient *http.Client
}

// NewDocumentLoader creates a document loader.
func NewDocumentLoader() *DocumentLoader {
	return &DocumentLoader{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Load implements Loader.
func (l *DocumentLoader) Load(ctx context.Context, value interface{}) (Document, error) {
	raw, err := coerceBytes(value)
	if err != nil {
		return Document{}, err
	}
	ref := strings.TrimSpace(string(raw))
	if ref == "" {
		return Document{}, ErrEmptyContent
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return l.fetchURL(ctx, ref)
	}
	return l.readFile(ref)
}

func (l *DocumentLoader) readFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read document %s: %w", path, err)
	}
	return Document{Data: data, Name: path}, nil
}

func (l *DocumentLoader) fetchURL(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch document %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document %s: %w", url, err)
	}
	return Document{Data: data, Name: url}, nil
}

// coerceBytes handles the types database/sql produces for text and bytea
// columns.
func coerceBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, ErrEmptyContent
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column value type %T", value)
	}
}
