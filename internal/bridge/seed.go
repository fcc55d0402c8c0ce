package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/schema"
	"github.com/tracos/syncbridge/internal/store"
)

// SeedReport summarises a Seed call.
type SeedReport struct {
	Files     int
	Documents int
	Upserted  int
	Failed    int
	Errors    []RecordError
}

// Seed loads TracOS documents from Extended JSON files and upserts them into
// st. A file holds a single document or an array of documents. Documents
// without a number are rejected; everything else is stored as given, so
// fixtures may carry records the outbound pass will fail to translate.
func Seed(ctx context.Context, st store.Store, paths []string, log zerolog.Logger) (SeedReport, error) {
	var rep SeedReport
	log = log.With().Str("cmp", "seed").Logger()

	if err := st.Connect(ctx); err != nil {
		return rep, fmt.Errorf("connect store: %w", err)
	}
	defer func() {
		if err := st.Disconnect(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect store")
		}
	}()

	for _, path := range paths {
		docs, err := readDocuments(path)
		if err != nil {
			return rep, err
		}
		rep.Files++

		for i, doc := range docs {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.Documents++

			wo, err := schema.TracOSFromDocument(doc)
			if err == nil && wo.Number == 0 {
				err = &schema.MissingFieldError{Record: "tracos workorder", Field: "number"}
			}
			if err != nil {
				log.Warn().Err(err).Str("file", path).Int("index", i).Msg("skipping seed document")
				rep.Errors = append(rep.Errors, RecordError{Key: wo.Number, Path: path, Stage: StageRead, Err: err})
				rep.Failed++
				continue
			}
			if wo.ID == "" {
				wo.ID = schema.NewDocumentID()
			}

			res, err := st.Upsert(ctx, wo)
			if err != nil {
				log.Warn().Err(err).Int64("number", wo.Number).Msg("failed to seed workorder")
				rep.Errors = append(rep.Errors, RecordError{Key: wo.Number, Path: path, Stage: StageUpsert, Err: err})
				rep.Failed++
				continue
			}
			rep.Upserted++
			log.Debug().Int64("number", wo.Number).Str("id", res.ID.String()).Bool("created", res.Created).Msg("seeded workorder")
		}
	}

	log.Info().Int("files", rep.Files).Int("upserted", rep.Upserted).Int("failed", rep.Failed).Msg("seed complete")
	return rep, nil
}

func readDocuments(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}, nil
	case []any:
		docs := make([]map[string]any, 0, len(t))
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parse seed file %s: element %d is not an object", path, i)
			}
			docs = append(docs, m)
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("parse seed file %s: expected an object or an array of objects", path)
	}
}
