package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/protlit/protlit/internal/output"
	"github.com/protlit/protlit/internal/store"
)

// paperInput is the JSON wire form accepted by `protlit ingest`.
type paperInput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Abstract    string   `json:"abstract"`
	FullText    string   `json:"full_text,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Journal     string   `json:"journal,omitempty"`
	PublishedAt string   `json:"published_at"`
	Source      string   `json:"source"`
	DOI         string   `json:"doi,omitempty"`
	Entities    []struct {
		Text       string  `json:"text"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
	} `json:"entities,omitempty"`
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Ingest papers from a JSON file",
		Long: `Ingest papers into the engine. The input is a JSON array of papers;
use "-" to read from stdin.

Re-ingesting a known paper ID overwrites the stored version in place.
Papers land searchable even when embedding or entity extraction is
unavailable; the summary reports what was skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0])
		},
	}
	return cmd
}

func runIngest(cmd *cobra.Command, path string) error {
	docs, err := readPapers(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.pipeline.Ingest(ctx, docs)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Success("ingested %d papers (generation %d)", summary.Upserted, summary.Generation)
	if summary.Embedded > 0 {
		out.Printf("embedded %d vectors\n", summary.Embedded)
	}
	if summary.EntitiesExtracted > 0 {
		out.Printf("extracted %d entity mentions\n", summary.EntitiesExtracted)
	}
	if summary.EmbeddingsSkipped > 0 {
		out.Warning("skipped %d embeddings (embedder unavailable); papers remain text searchable",
			summary.EmbeddingsSkipped)
	}
	return nil
}

func readPapers(path string) ([]*store.Document, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var inputs []paperInput
	if err := json.NewDecoder(r).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	docs := make([]*store.Document, 0, len(inputs))
	for _, in := range inputs {
		doc := &store.Document{
			ID:       in.ID,
			Title:    in.Title,
			Abstract: in.Abstract,
			FullText: in.FullText,
			Authors:  in.Authors,
			Journal:  in.Journal,
			Source:   store.Source(in.Source),
			DOI:      in.DOI,
		}
		if in.PublishedAt != "" {
			t, err := time.Parse(time.DateOnly, in.PublishedAt)
			if err != nil {
				return nil, fmt.Errorf("paper %s: invalid published_at %q", in.ID, in.PublishedAt)
			}
			doc.PublishedAt = t
		}
		for _, e := range in.Entities {
			doc.Entities = append(doc.Entities, store.EntityMention{
				DocID:      in.ID,
				Text:       e.Text,
				Type:       store.EntityType(e.Type),
				Confidence: e.Confidence,
				Start:      e.Start,
				End:        e.End,
			})
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
