package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/sendrec/cueplayer/internal/languages"
	"github.com/sendrec/cueplayer/internal/validate"
)

var (
	ErrUnknownLanguage   = errors.New("unknown transcript language")
	ErrInvalidTranscript = errors.New("invalid transcript")
	ErrNoTrackURL        = errors.New("store cannot sign track URLs")
	ErrNoDelete          = errors.New("store cannot delete transcripts")
)

// Source yields the cues of one language.
type Source interface {
	Fetch(ctx context.Context, language string) ([]Cue, error)
	// Resource names where the language's cues are expected to live.
	Resource(language string) string
}

// ObjectStore is the slice of object storage the transcript source and
// upload handler need.
type ObjectStore interface {
	GetObject(ctx context.Context, key string, maxBytes int64) ([]byte, error)
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// Presigner is implemented by stores that can hand out time-limited read
// URLs, which browsers use as <track> sources.
type Presigner interface {
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Deleter is implemented by stores that can remove objects.
type Deleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// StorageSource reads <prefix><language file> objects, e.g.
// media/english.vtt.
type StorageSource struct {
	store  ObjectStore
	prefix string
}

func NewStorageSource(store ObjectStore, prefix string) *StorageSource {
	return &StorageSource{store: store, prefix: prefix}
}

func (s *StorageSource) Resource(language string) string {
	return s.prefix + languages.TranscriptFile(language)
}

func (s *StorageSource) Fetch(ctx context.Context, language string) ([]Cue, error) {
	if languages.TranscriptFile(language) == "" {
		return nil, fmt.Errorf("fetch %q: %w", language, ErrUnknownLanguage)
	}
	key := s.Resource(language)
	data, err := s.store.GetObject(ctx, key, validate.MaxTranscriptBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript %s: %w", key, err)
	}
	cues, err := ParseVTT(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", key, err)
	}
	return cues, nil
}

// Store validates a VTT document and writes it to the language's key.
func (s *StorageSource) Store(ctx context.Context, language string, data []byte) ([]Cue, error) {
	if languages.TranscriptFile(language) == "" {
		return nil, fmt.Errorf("store %q: %w", language, ErrUnknownLanguage)
	}
	cues, err := ParseVTT(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTranscript, err)
	}
	var buf bytes.Buffer
	if err := WriteVTT(&buf, cues); err != nil {
		return nil, err
	}
	if err := s.store.PutObject(ctx, s.Resource(language), buf.Bytes(), "text/vtt"); err != nil {
		return nil, fmt.Errorf("store transcript: %w", err)
	}
	return cues, nil
}

// Delete removes a language's VTT object. Sessions loading it afterwards
// report the missing-file diagnostic.
func (s *StorageSource) Delete(ctx context.Context, language string) error {
	if languages.TranscriptFile(language) == "" {
		return fmt.Errorf("delete %q: %w", language, ErrUnknownLanguage)
	}
	d, ok := s.store.(Deleter)
	if !ok {
		return ErrNoDelete
	}
	if err := d.DeleteObject(ctx, s.Resource(language)); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

// TrackURL signs a read URL for a language's VTT object.
func (s *StorageSource) TrackURL(ctx context.Context, language string, expiry time.Duration) (string, error) {
	if languages.TranscriptFile(language) == "" {
		return "", fmt.Errorf("track url %q: %w", language, ErrUnknownLanguage)
	}
	p, ok := s.store.(Presigner)
	if !ok {
		return "", ErrNoTrackURL
	}
	url, err := p.GenerateDownloadURL(ctx, s.Resource(language), expiry)
	if err != nil {
		return "", fmt.Errorf("track url %q: %w", language, err)
	}
	return url, nil
}

// DirSource reads transcripts from a directory, for local development
// without object storage.
type DirSource struct {
	fsys fs.FS
	name string
}

// NewDirSource reads from fsys; name is only used in diagnostics.
func NewDirSource(fsys fs.FS, name string) *DirSource {
	return &DirSource{fsys: fsys, name: name}
}

func (d *DirSource) Resource(language string) string {
	return path.Join(d.name, languages.TranscriptFile(language))
}

func (d *DirSource) Fetch(ctx context.Context, language string) ([]Cue, error) {
	file := languages.TranscriptFile(language)
	if file == "" {
		return nil, fmt.Errorf("fetch %q: %w", language, ErrUnknownLanguage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := d.fsys.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", d.Resource(language), err)
	}
	defer func() { _ = f.Close() }()

	cues, err := ParseVTT(f)
	if err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", d.Resource(language), err)
	}
	return cues, nil
}
