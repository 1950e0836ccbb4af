package tables

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VersionRef pins a dataset to a version. At most one field is set; the zero
// value means the latest version.
type VersionRef struct {
	Version   *int64
	Timestamp *time.Time
}

// IsLatest reports whether the ref selects the head version.
func (r VersionRef) IsLatest() bool {
	return r.Version == nil && r.Timestamp == nil
}

func (r VersionRef) String() string {
	switch {
	case r.Version != nil:
		return strconv.FormatInt(*r.Version, 10)
	case r.Timestamp != nil:
		return r.Timestamp.UTC().Format(time.RFC3339)
	default:
		return "latest"
	}
}

// AtVersion returns a ref to an explicit version.
func AtVersion(v int64) VersionRef {
	return VersionRef{Version: &v}
}

// AtTime returns a ref to the latest version committed at or before t.
func AtTime(t time.Time) VersionRef {
	t = t.UTC()
	return VersionRef{Timestamp: &t}
}

// ParseVersionRef accepts "", "latest", a non-negative version number or an
// RFC 3339 timestamp.
func ParseVersionRef(s string) (VersionRef, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "latest") {
		return VersionRef{}, nil
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return VersionRef{}, fmt.Errorf("invalid version %q: must not be negative", s)
		}
		return AtVersion(v), nil
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return AtTime(t), nil
		}
	}
	return VersionRef{}, fmt.Errorf("invalid version %q: expected a version number or RFC 3339 timestamp", s)
}
