// Package artifact exports the durable outputs of a finished run through a
// pluggable blob store. Every run produces the same set: the normalized
// records as CSV, the parse-failure report as CSV, the summary as JSON, and
// a manifest tying them together with integrity digests.
package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/parse"
	"github.com/logsift/logsift/internal/record"
)

const defaultPrefix = "runs"

// Exporter writes run artifacts and returns a manifest describing them.
type Exporter struct {
	store  analysis.ArtifactStore
	hasher analysis.Hasher
	prefix string
}

// NewExporter creates an Exporter over the given store. prefix groups
// objects under a common root; empty means "runs".
func NewExporter(store analysis.ArtifactStore, hasher analysis.Hasher, prefix string) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Exporter{store: store, hasher: hasher, prefix: prefix}, nil
}

// Export writes records.csv, failures.csv, summary.json, and manifest.json
// under <prefix>/<run id>/. The returned manifest lists the three data
// artifacts; manifest.json itself is written last and not self-referenced.
func (e *Exporter) Export(
	ctx context.Context,
	run analysis.Run,
	records []record.Record,
	failures []parse.LineError,
	summary analysis.Summary,
) (analysis.ArtifactManifest, error) {
	manifest := analysis.ArtifactManifest{
		RunID:     run.ID,
		CreatedAt: time.Now().UTC(),
	}

	recordsCSV, err := encodeRecordsCSV(records)
	if err != nil {
		return analysis.ArtifactManifest{}, fmt.Errorf("encode records csv: %w", err)
	}
	if err := e.put(ctx, &manifest, run.ID, "records.csv", "text/csv", recordsCSV); err != nil {
		return analysis.ArtifactManifest{}, err
	}

	failuresCSV, err := encodeFailuresCSV(failures)
	if err != nil {
		return analysis.ArtifactManifest{}, fmt.Errorf("encode failures csv: %w", err)
	}
	if err := e.put(ctx, &manifest, run.ID, "failures.csv", "text/csv", failuresCSV); err != nil {
		return analysis.ArtifactManifest{}, err
	}

	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return analysis.ArtifactManifest{}, fmt.Errorf("encode summary json: %w", err)
	}
	if err := e.put(ctx, &manifest, run.ID, "summary.json", "application/json", summaryJSON); err != nil {
		return analysis.ArtifactManifest{}, err
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return analysis.ArtifactManifest{}, fmt.Errorf("encode manifest json: %w", err)
	}
	if _, err := e.store.PutObject(ctx, e.objectPath(run.ID, "manifest.json"), "application/json", manifestJSON); err != nil {
		return analysis.ArtifactManifest{}, fmt.Errorf("write manifest.json: %w", err)
	}

	return manifest, nil
}

func (e *Exporter) put(
	ctx context.Context,
	manifest *analysis.ArtifactManifest,
	runID, name, contentType string,
	data []byte,
) error {
	digest, err := e.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash %s: %w", name, err)
	}
	uri, err := e.store.PutObject(ctx, e.objectPath(runID, name), contentType, data)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	manifest.Artifacts = append(manifest.Artifacts, analysis.ArtifactRef{
		Name:   name,
		URI:    uri,
		SHA256: digest,
		Bytes:  int64(len(data)),
	})
	return nil
}

func (e *Exporter) objectPath(runID, name string) string {
	return path.Join(e.prefix, runID, name)
}

var recordsHeader = []string{
	"ip", "day", "hour", "minute", "second",
	"method", "resource", "protocol", "status",
	"bytes", "url_length", "cluster_k3", "cluster_k6",
}

func encodeRecordsCSV(records []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(recordsHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			rec.IP,
			strconv.Itoa(rec.Timestamp.Day),
			strconv.Itoa(rec.Timestamp.Hour),
			strconv.Itoa(rec.Timestamp.Minute),
			strconv.Itoa(rec.Timestamp.Second),
			rec.Method,
			rec.Resource,
			rec.Protocol,
			strconv.Itoa(rec.Status),
			formatInt64Ptr(rec.Bytes),
			strconv.Itoa(rec.URLLength),
			formatIntPtr(rec.ClusterK3),
			formatIntPtr(rec.ClusterK6),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func encodeFailuresCSV(failures []parse.LineError) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"line", "error"}); err != nil {
		return nil, err
	}
	for _, f := range failures {
		if err := w.Write([]string{strconv.Itoa(f.Line), f.Err.Error()}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
