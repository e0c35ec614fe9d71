package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ListingTimeLayout is local time at one-second precision without a zone.
const ListingTimeLayout = "2006-01-02T15:04:05"

const (
	BackendToml  = "toml"
	BackendRedis = "redis"
)

var ErrBadListing = errors.New("malformed listing line")

// Record describes one stored image.
type Record struct {
	ID        uuid.UUID `toml:"id" json:"id" yaml:"id"`
	Filename  string    `toml:"filename" json:"filename" yaml:"filename"`
	Author    string    `toml:"author" json:"author" yaml:"author"`
	Path      string    `toml:"path" json:"path" yaml:"path"`
	ThumbPath string    `toml:"thumb_path,omitempty" json:"thumb_path,omitempty" yaml:"thumb_path,omitempty"`
	Size      int64     `toml:"size" json:"size" yaml:"size"`
	HasThumb  bool      `toml:"has_thumb" json:"has_thumb" yaml:"has_thumb"`
	CreatedAt time.Time `toml:"datetime" json:"datetime" yaml:"datetime"`
}

// NewRecord stamps a record with a fresh id and the current local time
// truncated to whole seconds.
func NewRecord(filename, author, path, thumbPath string, size int64) Record {
	return Record{
		ID:        uuid.New(),
		Filename:  filename,
		Author:    author,
		Path:      path,
		ThumbPath: thumbPath,
		Size:      size,
		HasThumb:  thumbPath != "",
		CreatedAt: time.Now().Truncate(time.Second),
	}
}

func (r Record) Validate() error {
	if r.Filename == "" {
		return errors.New("filename is required")
	}
	if r.Path == "" {
		return errors.New("path is required")
	}
	if r.Size < 0 {
		return errors.New("size must not be negative")
	}
	return nil
}

// ListingLine renders filename|author|datetime|size|has_thumb.
func (r Record) ListingLine() string {
	thumb := "0"
	if r.HasThumb {
		thumb = "1"
	}
	return strings.Join([]string{
		r.Filename,
		r.Author,
		r.CreatedAt.Format(ListingTimeLayout),
		strconv.FormatInt(r.Size, 10),
		thumb,
	}, "|")
}

// FormatListing joins one line per record, in insertion order.
func FormatListing(records []Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, r.ListingLine())
	}
	return strings.Join(lines, "\n")
}

// ParseListing is the client-side inverse of FormatListing. Paths and ids are
// not part of the wire listing and stay empty.
func ParseListing(text string) ([]Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var out []Record
	for i, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != 5 {
			return nil, fmt.Errorf("line %d: %w: %q", i+1, ErrBadListing, line)
		}
		created, err := time.ParseInLocation(ListingTimeLayout, fields[2], time.Local)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", i+1, ErrBadListing, err)
		}
		size, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", i+1, ErrBadListing, err)
		}
		out = append(out, Record{
			Filename:  fields[0],
			Author:    fields[1],
			CreatedAt: created,
			Size:      size,
			HasThumb:  fields[4] == "1",
		})
	}
	return out, nil
}

// Store is the append-only image catalog.
type Store interface {
	Append(ctx context.Context, r Record) error
	All(ctx context.Context) ([]Record, error)
	// Find returns the first record, in insertion order, whose filename
	// matches exactly.
	Find(ctx context.Context, filename string) (Record, bool, error)
	Close() error
}

// Options selects and configures a Store implementation.
type Options struct {
	Backend   string
	TomlPath  string
	RedisAddr string
	RedisKey  string
}

func NewStore(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendToml:
		return NewTomlStore(opts.TomlPath)
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisKey)
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", opts.Backend)
	}
}
