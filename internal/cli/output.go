// Package cli formats dalil results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/dalil/internal/app"
	"github.com/hyperjump/dalil/internal/evaluation"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const excerptLen = 160

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (want text or json)", models.ErrInvalidArgument, s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteQueryResponse writes one agent response.
func WriteQueryResponse(w io.Writer, resp *models.AgentResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp.ToQueryResponse())
	}
	fmt.Fprintf(w, "Action: %s | Language: %s\n\n", resp.Action, resp.Language)
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Retrieved) > 0 {
		fmt.Fprintln(w, "\nRetrieved passages:")
		for i, r := range resp.Retrieved {
			fmt.Fprintf(w, "%d. %s (chunk %d) score=%.3f\n", i+1, r.Source, r.ChunkID, r.Score)
			fmt.Fprintf(w, "   %s\n", utils.Truncate(oneLine(r.Text), excerptLen))
		}
	}
	return nil
}

// WriteIngestResult writes the summary of an ingestion run.
func WriteIngestResult(w io.Writer, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Ingested %d documents into %d chunks\n", res.Documents, res.Chunks)
	fmt.Fprintf(w, "Index: %s\n", res.IndexPath)
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "Skipped: %s\n", s)
	}
	return nil
}

// WriteStatus writes a status snapshot.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents: %d\n", st.Documents)
	fmt.Fprintf(w, "Passages:  %d\n", st.Passages)
	if st.Corpus.Generation == "" {
		fmt.Fprintln(w, "Corpus:    not built")
	} else {
		fmt.Fprintf(w, "Corpus:    %s (%d passages, dim %d, %s index, %s)\n",
			st.Corpus.Generation, st.Corpus.Passages, st.Corpus.Dimensions, st.Corpus.IndexType, st.Corpus.Embedding)
	}
	if st.LastIngest != nil {
		fmt.Fprintf(w, "Last ingest: %s (%s)\n",
			st.LastIngest.FinishedAt.Format("2006-01-02 15:04:05"), st.LastIngest.FinishedAt.Sub(st.LastIngest.StartedAt))
	}
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(*st.DiskUsageBytes))
	}
	c := st.Config
	fmt.Fprintf(w, "Embedding:  %s %s\n", c.EmbeddingProvider, c.EmbeddingModel)
	fmt.Fprintf(w, "Generation: %s %s\n", c.GenerationProvider, c.GenerationModel)
	fmt.Fprintf(w, "Retrieval:  top_k=%d chunk_size=%d chunk_overlap=%d index=%s\n",
		c.TopK, c.ChunkSize, c.ChunkOverlap, c.IndexType)
	return nil
}

// WriteModelInfo writes the result of a model check.
func WriteModelInfo(w io.Writer, info *app.ModelInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, info)
	}
	fmt.Fprintf(w, "Provider:   %s\n", info.Provider)
	fmt.Fprintf(w, "Model:      %s\n", info.Model)
	fmt.Fprintf(w, "Dimensions: %d\n", info.Dimensions)
	fmt.Fprintf(w, "Loaded in:  %s\n", info.Elapsed.Round(time.Millisecond))
	return nil
}

// WriteReport writes an evaluation report.
func WriteReport(w io.Writer, report *evaluation.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	_, err := io.WriteString(w, report.Markdown())
	if err == nil && report.Path != "" {
		_, err = fmt.Fprintf(w, "\nReport written to %s\n", report.Path)
	}
	return err
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
