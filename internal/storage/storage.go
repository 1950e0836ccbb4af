// Package storage provides the object stores that table data and transaction
// logs live in. Keys are slash separated and relative to the table root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotExist is returned when a key has no object.
	ErrNotExist = errors.New("object does not exist")

	// ErrExist is returned by PutIfAbsent when the key is already taken.
	ErrExist = errors.New("object already exists")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the minimal object store contract used by table formats.
type Store interface {
	// Get returns the full content of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// PutIfAbsent writes key only if no object exists there yet.
	// It returns ErrExist when another writer got there first.
	PutIfAbsent(ctx context.Context, key string, data []byte) error

	// Stat returns object information for key.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns the objects directly under the directory prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Location returns the address of key understood by the query engine.
	Location(key string) string
}

// S3Config holds the connection options of an S3 compatible store.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	EndpointURL     string
	AllowHTTP       bool
}

// Endpoint returns the endpoint URL without a trailing slash.
func (c *S3Config) Endpoint() string {
	if c == nil {
		return ""
	}
	return strings.TrimSuffix(c.EndpointURL, "/")
}

// Open returns the store for a table URI. Plain paths and file:// URIs map to
// the local filesystem; s3:// and s3a:// URIs map to S3.
func Open(ctx context.Context, uri string, s3cfg *S3Config) (Store, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Windows drive letters parse as a one letter scheme.
		return NewLocalStore(uri), nil
	}

	switch u.Scheme {
	case "file":
		return NewLocalStore(u.Path), nil
	case "s3", "s3a":
		return NewS3StoreFromConfig(ctx, u.Host, strings.Trim(u.Path, "/"), s3cfg)
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q in %s", u.Scheme, uri)
	}
}

// IsRemote reports whether uri points at object storage rather than local disk.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, "s3://") || strings.HasPrefix(uri, "s3a://")
}

func joinKey(parts ...string) string {
	var out []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
