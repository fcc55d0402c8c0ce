// Package customer reads and writes customer work-order files.
//
// Inbound records are JSON files in the inbound directory. Every file is
// validated against an embedded JSON Schema before it is decoded; files that
// cannot be read, parsed or validated are logged and listed as rejected.
// Outbound records
// are written as workorder_<orderNo>.json in the outbound directory.
package customer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tracos/syncbridge/internal/schema"
)

// ErrIO marks filesystem failures on the inbound or outbound directory.
var ErrIO = errors.New("customer file i/o failure")

// DefaultPattern selects inbound files.
const DefaultPattern = "*.json"

const schemaURL = "https://tracos.dev/schemas/customer-workorder.json"

//go:embed workorder.schema.json
var workorderSchema []byte

// Options configures a Repository.
type Options struct {
	InboundDir  string
	OutboundDir string

	// Pattern is a doublestar glob relative to InboundDir. Defaults to *.json.
	Pattern string

	Logger zerolog.Logger
}

// InboundRecord is an inbound file.
type InboundRecord struct {
	Path      string
	Workorder schema.CustomerWorkorder

	// Err is set when the file was rejected. Workorder then carries at most
	// the orderNo, when one could be read.
	Err error
}

// Rejected reports whether the file failed to read or validate.
func (r InboundRecord) Rejected() bool { return r.Err != nil }

// Repository is the customer side of the bridge.
type Repository struct {
	inbound  string
	outbound string
	pattern  string
	schema   *jsonschema.Schema
	log      zerolog.Logger
}

// New validates opts and compiles the record schema.
func New(opts Options) (*Repository, error) {
	if opts.InboundDir == "" {
		return nil, errors.New("inbound dir is required")
	}
	if opts.OutboundDir == "" {
		return nil, errors.New("outbound dir is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("invalid inbound pattern %q", opts.Pattern)
	}

	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}

	return &Repository{
		inbound:  opts.InboundDir,
		outbound: opts.OutboundDir,
		pattern:  opts.Pattern,
		schema:   sch,
		log:      opts.Logger.With().Str("cmp", "customer").Logger(),
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(workorderSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse workorder schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to load workorder schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile workorder schema: %w", err)
	}
	return sch, nil
}

// InboundDir returns the directory ListInbound reads.
func (r *Repository) InboundDir() string { return r.inbound }

// OutboundDir returns the directory Save writes to.
func (r *Repository) OutboundDir() string { return r.outbound }

// Matches reports whether a path relative to the inbound dir is an inbound file.
func (r *Repository) Matches(rel string) bool {
	ok, err := doublestar.Match(r.pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

// ListInbound returns every inbound file sorted by path. A missing or
// unreadable inbound directory is an error; bad files come back with Err set.
func (r *Repository) ListInbound(ctx context.Context) ([]InboundRecord, error) {
	info, err := os.Stat(r.inbound)
	if err != nil {
		return nil, fmt.Errorf("%w: inbound dir %s: %w", ErrIO, r.inbound, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: inbound path %s is not a directory", ErrIO, r.inbound)
	}

	matches, err := doublestar.Glob(os.DirFS(r.inbound), r.pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: list inbound dir %s: %w", ErrIO, r.inbound, err)
	}
	sort.Strings(matches)

	records := []InboundRecord{}
	rejected := 0
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(r.inbound, filepath.FromSlash(rel))
		wo, err := r.readFile(path)
		if errors.Is(err, errIsDir) {
			continue
		}
		if err != nil {
			r.log.Warn().Err(err).Str("file", rel).Msg("rejected inbound file")
			records = append(records, InboundRecord{Path: path, Workorder: wo, Err: err})
			rejected++
			continue
		}
		records = append(records, InboundRecord{Path: path, Workorder: wo})
	}

	r.log.Debug().Int("files", len(matches)).Int("records", len(records)).Int("rejected", rejected).Msg("listed inbound workorders")
	return records, nil
}

var errIsDir = errors.New("is a directory")

// ReadFile validates and decodes a single inbound file.
func (r *Repository) ReadFile(path string) (schema.CustomerWorkorder, error) {
	return r.readFile(path)
}

func (r *Repository) readFile(path string) (schema.CustomerWorkorder, error) {
	var wo schema.CustomerWorkorder

	info, err := os.Stat(path)
	if err != nil {
		return wo, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if info.IsDir() {
		return wo, errIsDir
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return wo, fmt.Errorf("%w: %w", ErrIO, err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return wo, fmt.Errorf("invalid json: %w", err)
	}
	if err := r.schema.Validate(inst); err != nil {
		wo.OrderNo = peekOrderNo(inst)
		return wo, fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(data, &wo); err != nil {
		return wo, fmt.Errorf("decode workorder: %w", err)
	}
	return wo, nil
}

// peekOrderNo recovers an integral orderNo from a document that failed
// validation, or 0.
func peekOrderNo(inst any) int64 {
	obj, ok := inst.(map[string]any)
	if !ok {
		return 0
	}
	n, ok := obj["orderNo"].(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}

// OutboundPath returns where Save writes the record for orderNo.
func (r *Repository) OutboundPath(orderNo int64) string {
	return filepath.Join(r.outbound, schema.Filename(orderNo))
}

// Save writes c to the outbound directory, replacing any earlier file for
// the same order number. The write is atomic.
func (r *Repository) Save(ctx context.Context, c schema.CustomerWorkorder) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.outbound, 0o755); err != nil {
		return "", fmt.Errorf("%w: create outbound dir: %w", ErrIO, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("encode workorder %d: %w", c.OrderNo, err)
	}

	path := r.OutboundPath(c.OrderNo)
	if err := writeFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}

	r.log.Debug().Int64("orderNo", c.OrderNo).Str("file", path).Msg("wrote outbound workorder")
	return path, nil
}

func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
