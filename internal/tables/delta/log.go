package delta

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/laketower/internal/storage"
)

const logDir = "_delta_log"

// action is one line of a commit file or one row of a checkpoint. Exactly one
// field is set.
type action struct {
	CommitInfo *commitInfo   `json:"commitInfo,omitempty"`
	Protocol   *protocol     `json:"protocol,omitempty"`
	MetaData   *metaData     `json:"metaData,omitempty"`
	Add        *addAction    `json:"add,omitempty"`
	Remove     *removeAction `json:"remove,omitempty"`
}

type protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

type fileFormat struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

type metaData struct {
	ID               string            `json:"id"`
	Name             *string           `json:"name,omitempty"`
	Description      *string           `json:"description,omitempty"`
	Format           fileFormat        `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
}

type addAction struct {
	Path             string             `json:"path"`
	PartitionValues  map[string]*string `json:"partitionValues"`
	Size             int64              `json:"size"`
	ModificationTime int64              `json:"modificationTime"`
	DataChange       bool               `json:"dataChange"`
	Stats            string             `json:"stats,omitempty"`
}

type removeAction struct {
	Path                 string             `json:"path"`
	DeletionTimestamp    *int64             `json:"deletionTimestamp,omitempty"`
	DataChange           bool               `json:"dataChange"`
	ExtendedFileMetadata bool               `json:"extendedFileMetadata,omitempty"`
	PartitionValues      map[string]*string `json:"partitionValues,omitempty"`
	Size                 *int64             `json:"size,omitempty"`
}

type commitInfo struct {
	Timestamp           *int64         `json:"timestamp,omitempty"`
	Operation           string         `json:"operation,omitempty"`
	OperationParameters map[string]any `json:"operationParameters,omitempty"`
	OperationMetrics    map[string]any `json:"operationMetrics,omitempty"`
	ClientVersion       *string        `json:"clientVersion,omitempty"`
	EngineInfo          *string        `json:"engineInfo,omitempty"`
}

func commitKey(version int64) string {
	return fmt.Sprintf("%s/%020d.json", logDir, version)
}

func checkpointKey(version int64) string {
	return fmt.Sprintf("%s/%020d.checkpoint.parquet", logDir, version)
}

const lastCheckpointKey = logDir + "/_last_checkpoint"

// decodeActions parses newline delimited actions. Numbers inside dynamic
// maps are normalized to int64 or float64.
func decodeActions(data []byte) ([]action, error) {
	var actions []action
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		a, err := decodeAction(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

func decodeAction(raw []byte) (action, error) {
	var a action
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return action{}, err
	}
	if a.CommitInfo != nil {
		a.CommitInfo.OperationParameters = normalizeMap(a.CommitInfo.OperationParameters)
		a.CommitInfo.OperationMetrics = normalizeMap(a.CommitInfo.OperationMetrics)
	}
	return a, nil
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
	return m
}

func normalizeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return normalizeMap(x)
	case []any:
		for i := range x {
			x[i] = normalizeNumber(x[i])
		}
		return x
	default:
		return v
	}
}

func encodeActions(actions []action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, a := range actions {
		if err := enc.Encode(a); err != nil {
			return nil, fmt.Errorf("failed to encode commit: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// logListing is the content of the _delta_log directory.
type logListing struct {
	commits     map[int64]storage.ObjectInfo
	checkpoints map[int64][]string
}

// listLog lists commits and complete checkpoints. A missing log directory is
// reported as storage.ErrNotExist.
func listLog(ctx context.Context, store storage.Store) (*logListing, error) {
	objects, err := store.List(ctx, logDir)
	if err != nil {
		return nil, err
	}

	l := &logListing{
		commits:     make(map[int64]storage.ObjectInfo),
		checkpoints: make(map[int64][]string),
	}
	parts := make(map[int64]map[int]string)
	total := make(map[int64]int)

	for _, obj := range objects {
		name := obj.Key[strings.LastIndex(obj.Key, "/")+1:]
		if v, ok := parseCommitName(name); ok {
			l.commits[v] = obj
			continue
		}
		if v, part, of, ok := parseCheckpointName(name); ok {
			if parts[v] == nil {
				parts[v] = make(map[int]string)
			}
			parts[v][part] = obj.Key
			total[v] = of
		}
	}

	for v, p := range parts {
		if len(p) != total[v] {
			continue
		}
		keys := make([]string, 0, len(p))
		complete := true
		for i := 1; i <= total[v]; i++ {
			key, ok := p[i]
			if !ok {
				complete = false
				break
			}
			keys = append(keys, key)
		}
		if complete {
			l.checkpoints[v] = keys
		}
	}

	if len(l.commits) == 0 && len(l.checkpoints) == 0 {
		return nil, fmt.Errorf("%s has no commits: %w", logDir, storage.ErrNotExist)
	}
	return l, nil
}

// head returns the newest version present in the log.
func (l *logListing) head() int64 {
	head := int64(-1)
	for v := range l.commits {
		head = max(head, v)
	}
	for v := range l.checkpoints {
		head = max(head, v)
	}
	return head
}

// checkpointAtOrBefore returns the newest complete checkpoint not after version.
func (l *logListing) checkpointAtOrBefore(version int64) (int64, bool) {
	best := int64(-1)
	for v := range l.checkpoints {
		if v <= version && v > best {
			best = v
		}
	}
	return best, best >= 0
}

func parseCommitName(name string) (int64, bool) {
	digits, ok := strings.CutSuffix(name, ".json")
	if !ok || len(digits) != 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseCheckpointName matches NNN.checkpoint.parquet and the multi part form
// NNN.checkpoint.PPPPPPPPPP.TTTTTTTTTT.parquet.
func parseCheckpointName(name string) (version int64, part, of int, ok bool) {
	fields := strings.Split(name, ".")
	if len(fields[0]) != 20 || len(fields) < 3 || fields[1] != "checkpoint" || fields[len(fields)-1] != "parquet" {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}

	switch len(fields) {
	case 3:
		return v, 1, 1, true
	case 5:
		p, err1 := strconv.Atoi(fields[2])
		n, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || p < 1 || p > n {
			return 0, 0, 0, false
		}
		return v, p, n, true
	default:
		return 0, 0, 0, false
	}
}

func readCommit(ctx context.Context, store storage.Store, version int64) ([]action, error) {
	data, err := store.Get(ctx, commitKey(version))
	if err != nil {
		return nil, err
	}
	actions, err := decodeActions(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commit %d: %w", version, err)
	}
	return actions, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, storage.ErrNotExist)
}
