package web

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/laketower/internal/cli/config"
	"github.com/leapstack-labs/laketower/internal/ingest"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// maxUploadSize caps multipart import bodies held in memory.
const maxUploadSize = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tableEntry struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	URI    string `json:"uri"`
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	cfg := config.FromContext(r.Context())
	out := make([]tableEntry, len(cfg.Tables))
	for i, t := range cfg.Tables {
		out[i] = tableEntry{Name: t.Name, Format: string(t.Format), URI: t.URI}
	}
	respondJSON(w, http.StatusOK, out)
}

type fieldEntry struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type tableDetail struct {
	Name          string            `json:"name"`
	Format        string            `json:"format"`
	URI           string            `json:"uri"`
	ID            string            `json:"id"`
	Version       int64             `json:"version"`
	DisplayName   *string           `json:"display_name"`
	Description   *string           `json:"description"`
	CreatedAt     time.Time         `json:"created_at"`
	Partitions    []string          `json:"partitions"`
	Configuration map[string]string `json:"configuration"`
	Schema        []fieldEntry      `json:"schema"`
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "table")

	tbl, err := config.FromContext(ctx).LoadTable(ctx, name)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	md, err := tbl.Metadata(ctx)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	schema, err := tbl.Schema(ctx)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	fields := make([]fieldEntry, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = fieldEntry{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
	}
	partitions := md.Partitions
	if partitions == nil {
		partitions = []string{}
	}
	respondJSON(w, http.StatusOK, tableDetail{
		Name:          name,
		Format:        string(md.Format),
		URI:           md.URI,
		ID:            md.ID,
		Version:       md.Version,
		DisplayName:   md.Name,
		Description:   md.Description,
		CreatedAt:     md.CreatedAt,
		Partitions:    partitions,
		Configuration: md.Configuration,
		Schema:        fields,
	})
}

type revisionEntry struct {
	Version             int64          `json:"version"`
	Timestamp           time.Time      `json:"timestamp"`
	ClientVersion       *string        `json:"client_version"`
	Operation           string         `json:"operation"`
	OperationParameters map[string]any `json:"operation_parameters"`
	OperationMetrics    map[string]any `json:"operation_metrics"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tbl, err := config.FromContext(ctx).LoadTable(ctx, chi.URLParam(r, "table"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	history, err := tbl.History(ctx)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	out := make([]revisionEntry, len(history.Revisions))
	for i, rev := range history.Revisions {
		out[i] = revisionEntry(rev)
	}
	respondJSON(w, http.StatusOK, out)
}

// browseOptions reads limit, cols, sort_asc and sort_desc. Columns may be
// repeated or comma separated.
func browseOptions(r *http.Request) (tables.BrowseOptions, error) {
	q := r.URL.Query()
	var opts tables.BrowseOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, badRequest("invalid limit %q", v)
		}
		opts.Limit = n
	}
	for _, v := range q["cols"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				opts.Columns = append(opts.Columns, c)
			}
		}
	}
	opts.SortAsc = q.Get("sort_asc")
	opts.SortDesc = q.Get("sort_desc")
	return opts, nil
}

func versionRef(r *http.Request) (tables.VersionRef, error) {
	ref, err := tables.ParseVersionRef(r.URL.Query().Get("version"))
	if err != nil {
		return ref, &badRequestError{err: err}
	}
	return ref, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	opts, err := browseOptions(r)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	name := chi.URLParam(r, "table")
	s.runTableQuery(w, r, name, tables.BuildBrowseQuery(name, opts))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	s.runTableQuery(w, r, name, tables.BuildStatisticsQuery(name))
}

// runTableQuery runs sql against one table at the requested version.
func (s *Server) runTableQuery(w http.ResponseWriter, r *http.Request, name, sql string) {
	ctx := r.Context()

	ref, err := versionRef(r)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	tbl, err := config.FromContext(ctx).LoadTable(ctx, name)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	ds, err := tbl.Dataset(ctx, ref)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	res, err := s.executor.Execute(ctx, map[string]*tables.Dataset{name: ds}, sql)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondResult(w, r, res)
}

type importResponse struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
	Mode  string `json:"mode"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "table")

	tc, ok := config.FromContext(ctx).Table(name)
	if !ok {
		respondError(w, r, s.logger, fmt.Errorf("%w %q", config.ErrUnknownTable, name))
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, r, s.logger, badRequest("invalid multipart form: %v", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, s.logger, badRequest("missing file field: %v", err))
		return
	}
	defer func() { _ = file.Close() }()

	opts, err := importOptions(r)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	n, err := s.importer.ImportFile(ctx, tc.Descriptor(), file, opts)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, importResponse{Table: name, Rows: n, Mode: string(opts.Mode)})
}

func importOptions(r *http.Request) (ingest.Options, error) {
	mode, err := tables.ParseImportMode(r.FormValue("mode"))
	if err != nil {
		return ingest.Options{}, &badRequestError{err: err}
	}
	format, err := ingest.ParseFileFormat(r.FormValue("format"))
	if err != nil {
		return ingest.Options{}, &badRequestError{err: err}
	}
	opts := ingest.Options{Mode: mode, Format: format, Encoding: r.FormValue("encoding")}

	switch d := r.FormValue("delimiter"); {
	case d == "":
	case d == `\t`:
		opts.Delimiter = '\t'
	case len([]rune(d)) == 1:
		opts.Delimiter = []rune(d)[0]
	default:
		return ingest.Options{}, badRequest("delimiter must be a single character, got %q", d)
	}
	return opts, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sql := r.URL.Query().Get("sql")
	if strings.TrimSpace(sql) == "" {
		respondError(w, r, s.logger, badRequest("missing sql parameter"))
		return
	}
	s.runFederated(w, r, sql)
}

type queryEntry struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	SQL   string `json:"sql"`
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	cfg := config.FromContext(r.Context())
	out := make([]queryEntry, len(cfg.Queries))
	for i, q := range cfg.Queries {
		out[i] = queryEntry{Name: q.Name, Title: q.DisplayTitle(), SQL: q.SQL}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	q, err := config.FromContext(r.Context()).LookupQuery(chi.URLParam(r, "query"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	s.runFederated(w, r, q.SQL)
}

// runFederated runs sql across every valid configured table.
func (s *Server) runFederated(w http.ResponseWriter, r *http.Request, sql string) {
	ctx := r.Context()
	datasets := config.FromContext(ctx).Datasets(ctx, s.logger)

	res, err := s.executor.Execute(ctx, datasets, sql)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondResult(w, r, res)
}

// handleEvents streams a "reload" event after every configuration reload.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, s.logger, fmt.Errorf("streaming is not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			cfg := s.cfg.Load()
			names := cfg.TableNames()
			sort.Strings(names)
			_, _ = fmt.Fprintf(w, "event: reload\ndata: %s\n\n", strings.Join(names, ","))
			flusher.Flush()
		}
	}
}
