package tables

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Driver opens tables of one format.
type Driver interface {
	// IsValid probes storage for a table of this format. It never writes.
	IsValid(ctx context.Context, d Descriptor) bool

	// Open returns a handle to the table.
	Open(ctx context.Context, d Descriptor) (Table, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[TableFormat]Driver)
)

// Register adds a format driver to the registry.
// Called by format implementations in their init() functions.
func Register(format TableFormat, driver Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[format] = driver
}

// Formats returns all registered formats (sorted).
func Formats() []TableFormat {
	registryMu.RLock()
	defer registryMu.RUnlock()
	formats := make([]TableFormat, 0, len(registry))
	for f := range registry {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

// IsRegistered checks if a driver exists for format.
func IsRegistered(format TableFormat) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[format]
	return ok
}

func driverFor(format TableFormat) (Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[format]
	return d, ok
}

// Load opens the table a descriptor names. It fails with *InvalidTableError
// when no driver handles the format or the driver's probe rejects the URI.
func Load(ctx context.Context, d Descriptor) (Table, error) {
	driver, ok := driverFor(d.Format)
	if !ok {
		return nil, &InvalidTableError{Name: d.Name, URI: d.URI, Format: d.Format, Reason: "unsupported table format"}
	}
	if !driver.IsValid(ctx, d) {
		return nil, &InvalidTableError{Name: d.Name, URI: d.URI, Format: d.Format, Reason: "not a valid " + string(d.Format) + " table"}
	}

	t, err := driver.Open(ctx, d)
	if err != nil {
		return nil, &InvalidTableError{Name: d.Name, URI: d.URI, Format: d.Format, Reason: err.Error()}
	}
	return t, nil
}

// LoadMany loads the head dataset of every descriptor, keyed by table name.
// Descriptors that fail to load are logged and left out.
func LoadMany(ctx context.Context, descriptors []Descriptor, logger *slog.Logger) map[string]*Dataset {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	datasets := make(map[string]*Dataset, len(descriptors))
	for _, d := range descriptors {
		t, err := Load(ctx, d)
		if err != nil {
			logger.Warn("skipping table", "table", d.Name, "uri", d.URI, "error", err)
			continue
		}
		ds, err := t.Dataset(ctx, VersionRef{})
		if err != nil {
			logger.Warn("skipping table", "table", d.Name, "uri", d.URI, "error", err)
			continue
		}
		datasets[d.Name] = ds
	}
	return datasets
}
