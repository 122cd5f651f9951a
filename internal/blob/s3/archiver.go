package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// multipartThreshold is the payload size above which archives are uploaded
// in parts.
const multipartThreshold = 8 * 1024 * 1024

// Auditor records archive events. postgres.AuditStore satisfies it.
type Auditor interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// ResultArchiver writes each backtest result as JSON to
// results/{config_hash}/{id}.json and its trades as JSONL beside it. Result
// IDs are content derived, so an existing object is left alone.
type ResultArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  Auditor
}

// NewArchiver creates a ResultArchiver. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit Auditor) *ResultArchiver {
	return &ResultArchiver{writer: writer, reader: reader, audit: audit}
}

// ResultPath is the object path of a result document.
func ResultPath(r domain.BacktestResult) string {
	hash := r.ConfigHash
	if hash == "" {
		hash = "unhashed"
	}
	return fmt.Sprintf("results/%s/%s.json", hash, r.ID)
}

// SaveResult implements domain.ResultStore.
func (a *ResultArchiver) SaveResult(ctx context.Context, r domain.BacktestResult) error {
	p := ResultPath(r)
	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, p)
		if err != nil {
			return fmt.Errorf("s3blob: archive result %s: %w", r.ID, err)
		}
		if ok {
			return nil
		}
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("s3blob: marshal result %s: %w", r.ID, err)
	}
	if len(doc) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(doc), minPartSize)
	} else {
		err = a.writer.Put(ctx, p, bytes.NewReader(doc), domain.ContentTypeJSON)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive result %s: %w", r.ID, err)
	}

	if len(r.Trades) > 0 {
		lines, err := marshalJSONL(r.Trades)
		if err != nil {
			return fmt.Errorf("s3blob: marshal trades of %s: %w", r.ID, err)
		}
		tp := strings.TrimSuffix(p, ".json") + ".trades.jsonl"
		if err := a.writer.Put(ctx, tp, bytes.NewReader(lines), domain.ContentTypeJSONL); err != nil {
			return fmt.Errorf("s3blob: archive trades of %s: %w", r.ID, err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.result", map[string]any{
			"path":   p,
			"bytes":  len(doc),
			"trades": len(r.Trades),
		}); err != nil {
			return fmt.Errorf("s3blob: audit archive of %s: %w", r.ID, err)
		}
	}
	return nil
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
