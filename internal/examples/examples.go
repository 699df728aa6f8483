// Package examples moves the curated example sessions between stores in the
// IFL document format.
//
// An IFL document carries a format tag, a version, its creation stamp and
// one entry per example session. Entries hold the session's metadata and its
// structural graph definition only: held values, snapshots and sidecars
// never leave the store. Documents are written as JSON or YAML, chosen by
// the file extension.
package examples

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/flatgraph"
	"github.com/specialistvlad/flowlab/internal/store"
)

const (
	// Format is the document format tag.
	Format = "IFL"
	// Version is the document version written by Export.
	Version = "0.1"

	stampLayout = "20060102_1504"
)

var (
	// ErrUnsupportedDocument is returned for documents with a foreign
	// format tag or version.
	ErrUnsupportedDocument = errors.New("unsupported example document")
	// ErrUnknownEncoding is returned for file extensions that map to no
	// encoding.
	ErrUnknownEncoding = errors.New("unknown document encoding")
)

// Entry is one exported example session.
type Entry struct {
	Created     time.Time      `json:"created" yaml:"created"`
	Username    string         `json:"org_username" yaml:"org_username"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description" yaml:"description"`
	Comment     string         `json:"excomment" yaml:"excomment"`
	ListIndex   int            `json:"listidx" yaml:"listidx"`
	GraphDef    map[string]any `json:"graphdef" yaml:"graphdef"`
}

// Document is an IFL example set.
type Document struct {
	Format  string  `json:"format" yaml:"format"`
	Version string  `json:"version" yaml:"version"`
	Created string  `json:"created" yaml:"created"`
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Encoding selects the textual form of a document.
type Encoding int

const (
	JSON Encoding = iota
	YAML
)

// EncodingFor maps a file name to its encoding: .ifl and .json are JSON,
// .yaml and .yml are YAML.
func EncodingFor(path string) (Encoding, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ifl", ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEncoding, path)
}

// DefaultFileName is the export file name for the day of now.
func DefaultFileName(now time.Time) string {
	return "examples_" + now.Format("20060102") + ".ifl"
}

// Collect gathers the example sessions of st into a document, ordered by
// list index.
func Collect(ctx context.Context, st store.Store, now time.Time) (*Document, error) {
	recs, err := exampleRecords(ctx, st)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		Format:  Format,
		Version: Version,
		Created: now.Format(stampLayout),
		Entries: make([]Entry, 0, len(recs)),
	}
	for _, rec := range recs {
		def, err := graphDefObject(rec.GraphDef)
		if err != nil {
			return nil, fmt.Errorf("example %s: %w", rec.ID, err)
		}
		doc.Entries = append(doc.Entries, Entry{
			Created:     rec.Created,
			Username:    rec.Username,
			Title:       rec.Title,
			Description: rec.Description,
			Comment:     rec.Comment,
			ListIndex:   rec.ListIndex,
			GraphDef:    def,
		})
	}
	return doc, nil
}

// Encode writes doc to w.
func Encode(w io.Writer, doc *Document, enc Encoding) error {
	var (
		b   []byte
		err error
	)
	switch enc {
	case JSON:
		b, err = sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	case YAML:
		var buf bytes.Buffer
		ye := yaml.NewEncoder(&buf)
		ye.SetIndent(2)
		if err = ye.Encode(doc); err == nil {
			err = ye.Close()
		}
		b = buf.Bytes()
	default:
		return ErrUnknownEncoding
	}
	if err != nil {
		return fmt.Errorf("encoding example document: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// Decode reads a document from r and checks its format tag and version.
func Decode(r io.Reader, enc Encoding) (*Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc Document
	switch enc {
	case JSON:
		err = sonic.ConfigStd.Unmarshal(b, &doc)
	case YAML:
		err = yaml.Unmarshal(b, &doc)
	default:
		return nil, ErrUnknownEncoding
	}
	if err != nil {
		return nil, fmt.Errorf("decoding example document: %w", err)
	}
	if doc.Format != Format || doc.Version != Version {
		return nil, fmt.Errorf("%w: format %q version %q", ErrUnsupportedDocument, doc.Format, doc.Version)
	}
	return &doc, nil
}

// Export writes every example session of st to path and returns the
// number of entries written.
func Export(ctx context.Context, st store.Store, path string, now time.Time) (int, error) {
	logger := ctxlog.FromContext(ctx)
	enc, err := EncodingFor(path)
	if err != nil {
		return 0, err
	}
	doc, err := Collect(ctx, st, now)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, doc, enc); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	logger.Info("Examples exported.", "path", path, "count", len(doc.Entries))
	return len(doc.Entries), nil
}

// ImportOptions tunes Import.
type ImportOptions struct {
	// Username owns the imported sessions. Empty keeps each entry's
	// original owner.
	Username string
	// DryRun validates the document and reports the outcome without
	// writing to the store.
	DryRun bool
	// Now stamps entries without a creation time. Defaults to time.Now.
	Now func() time.Time
}

// ImportResult reports what Import did, or would do on a dry run.
type ImportResult struct {
	// Renumbered counts existing examples whose list index moved.
	Renumbered int
	// Imported are the new session records, in list order.
	Imported []store.SessionRecord
}

// Import reads the document at path and adds its entries as example
// sessions. Existing examples are renumbered to 0..n-1 first and the new
// ones follow them in the order of their own list indexes. Every entry is
// validated before the store is touched.
func Import(ctx context.Context, st store.Store, path string, opts ImportOptions) (*ImportResult, error) {
	logger := ctxlog.FromContext(ctx)
	if opts.Now == nil {
		opts.Now = time.Now
	}

	enc, err := EncodingFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := Decode(f, enc)
	if err != nil {
		return nil, err
	}

	existing, err := exampleRecords(ctx, st)
	if err != nil {
		return nil, err
	}

	entries := slices.Clone(doc.Entries)
	slices.SortStableFunc(entries, func(a, b Entry) int { return a.ListIndex - b.ListIndex })

	res := &ImportResult{}
	for i, e := range entries {
		def, err := graphDefString(e.GraphDef)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, e.Title, err)
		}
		rec := store.SessionRecord{
			ID:          uuid.NewString(),
			Username:    e.Username,
			Created:     e.Created,
			GraphDef:    def,
			Example:     true,
			Title:       e.Title,
			Description: e.Description,
			Comment:     e.Comment,
			ListIndex:   len(existing) + i,
		}
		if opts.Username != "" {
			rec.Username = opts.Username
		}
		if rec.Created.IsZero() {
			rec.Created = opts.Now().UTC()
		}
		res.Imported = append(res.Imported, rec)
	}

	for i, rec := range existing {
		if rec.ListIndex == i {
			continue
		}
		res.Renumbered++
		if opts.DryRun {
			continue
		}
		rec.ListIndex = i
		if err := st.SaveSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("renumbering example %s: %w", rec.ID, err)
		}
	}

	if opts.DryRun {
		logger.Info("Dry run, nothing imported.", "path", path, "entries", len(res.Imported), "renumbered", res.Renumbered)
		return res, nil
	}
	for _, rec := range res.Imported {
		if err := st.CreateSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("creating example %q: %w", rec.Title, err)
		}
		logger.Debug("Example imported.", "sessionID", rec.ID, "title", rec.Title, "listIndex", rec.ListIndex)
	}
	logger.Info("Examples imported.", "path", path, "count", len(res.Imported), "renumbered", res.Renumbered)
	return res, nil
}

// Demote clears the example flag on every session and returns how many
// were changed.
func Demote(ctx context.Context, st store.Store) (int, error) {
	recs, err := exampleRecords(ctx, st)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		rec.Example = false
		if err := st.SaveSession(ctx, rec); err != nil {
			return 0, fmt.Errorf("demoting %s: %w", rec.ID, err)
		}
	}
	ctxlog.FromContext(ctx).Info("Examples demoted.", "count", len(recs))
	return len(recs), nil
}

// exampleRecords returns the example sessions of st ordered by list index,
// ties broken by id.
func exampleRecords(ctx context.Context, st store.Store) ([]store.SessionRecord, error) {
	all, err := st.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var out []store.SessionRecord
	for _, rec := range all {
		if rec.Example {
			out = append(out, rec)
		}
	}
	slices.SortStableFunc(out, func(a, b store.SessionRecord) int { return a.ListIndex - b.ListIndex })
	return out, nil
}

// graphDefObject turns a stored definition into a generic object, so it is
// embedded in the document instead of quoted.
func graphDefObject(def string) (map[string]any, error) {
	parsed, err := flatgraph.DecodeGraphDef([]byte(def))
	if err != nil {
		return nil, err
	}
	b, err := flatgraph.EncodeGraphDef(parsed)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := sonic.ConfigStd.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// graphDefString validates an embedded definition and returns its
// canonical stored form.
func graphDefString(obj map[string]any) (string, error) {
	if obj == nil {
		return "", errors.New("graph definition missing")
	}
	b, err := sonic.ConfigStd.Marshal(obj)
	if err != nil {
		return "", err
	}
	def, err := flatgraph.DecodeGraphDef(b)
	if err != nil {
		return "", err
	}
	out, err := flatgraph.EncodeGraphDef(def)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
