// Package fs is a blob.Store on the local filesystem.
//
// Each stored object is one file named after its ref inside the root
// directory. Pending upload handles live in memory only, so a restart
// invalidates them; clients just request a new one.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/xid"

	"github.com/sakif/chef-chat/internal/apperror"
	"github.com/sakif/chef-chat/internal/blob"
)

const (
	// DefaultTTL is how long an upload handle stays valid.
	DefaultTTL = 15 * time.Minute
	// DefaultMaxBytes caps a single upload.
	DefaultMaxBytes = 5 << 20

	sniffLen = 512
)

type pending struct {
	owner     string
	ref       string
	expiresAt time.Time
}

// Store implements blob.Store.
type Store struct {
	root      string
	publicURL string
	ttl       time.Duration
	maxBytes  int64
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	handles map[string]pending
}

var _ blob.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the upload handle lifetime.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// WithMaxBytes sets the upload size limit.
func WithMaxBytes(n int64) Option { return func(s *Store) { s.maxBytes = n } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates the root directory if needed. publicURL is the externally
// visible base URL of the server, e.g. http://localhost:8080.
func New(root, publicURL string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: creating %s: %w", root, err)
	}
	s := &Store{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		ttl:       DefaultTTL,
		maxBytes:  DefaultMaxBytes,
		now:       time.Now,
		logger:    logger,
		handles:   make(map[string]pending),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AllocateUploadTarget reserves a ref and returns a single-use handle for it.
func (s *Store) AllocateUploadTarget(_ context.Context, owner string) (blob.UploadTarget, error) {
	now := s.now()
	handle := xid.New().String()
	p := pending{owner: owner, ref: xid.New().String(), expiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	for h, old := range s.handles {
		if !now.Before(old.expiresAt) {
			delete(s.handles, h)
		}
	}
	s.handles[handle] = p
	s.mu.Unlock()

	return blob.UploadTarget{
		Handle:    handle,
		Ref:       p.ref,
		UploadURL: s.publicURL + "/api/uploads/" + handle,
		ExpiresAt: p.expiresAt,
	}, nil
}

// Upload stores r under the ref reserved for handle. The handle is consumed
// even when the upload is rejected.
func (s *Store) Upload(ctx context.Context, handle string, r io.Reader) (string, error) {
	p, err := s.consume(handle)
	if err != nil {
		return "", err
	}

	// Sniff the first bytes, then glue them back in front of the rest.
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("blob: reading upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", apperror.ValidationFailed("file", "upload is empty")
	}
	mt := mimetype.Detect(head)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", apperror.ValidationFailed("file", fmt.Sprintf("unsupported content type %s, an image is required", mt.String()))
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after the rename

	body := io.MultiReader(bytes.NewReader(head), r)
	written, err := io.Copy(tmp, io.LimitReader(body, s.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", fmt.Errorf("blob: writing upload: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("blob: writing upload: %w", closeErr)
	}
	if written > s.maxBytes {
		return "", apperror.ValidationFailed("file", fmt.Sprintf("upload exceeds %d bytes", s.maxBytes))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), s.path(p.ref)); err != nil {
		return "", fmt.Errorf("blob: storing %s: %w", p.ref, err)
	}

	s.logger.Info("blob stored",
		slog.String("ref", p.ref),
		slog.String("owner", p.owner),
		slog.String("content_type", mt.String()),
		slog.Int64("size", written),
	)
	return p.ref, nil
}

// ResolveURL returns the download URL of ref, or "" if nothing is stored
// under it.
func (s *Store) ResolveURL(_ context.Context, ref string) (string, error) {
	if !validRef(ref) {
		return "", nil
	}
	if _, err := os.Stat(s.path(ref)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("blob: checking %s: %w", ref, err)
	}
	return s.publicURL + "/blobs/" + ref, nil
}

// Open returns the stored object for ref.
func (s *Store) Open(_ context.Context, ref string) (*blob.Object, error) {
	if !validRef(ref) {
		return nil, apperror.NotFound("blob", ref)
	}
	f, err := os.Open(s.path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound("blob", ref)
		}
		return nil, fmt.Errorf("blob: opening %s: %w", ref, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blob: stat %s: %w", ref, err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blob: sniffing %s: %w", ref, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("blob: rewinding %s: %w", ref, err)
	}

	return &blob.Object{ReadCloser: f, ContentType: mt.String(), Size: info.Size()}, nil
}

// consume removes handle from the pending set and returns its reservation.
func (s *Store) consume(handle string) (pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.handles[handle]
	if !ok {
		return pending{}, apperror.ValidationFailed("uploadHandle", "unknown or already used upload handle")
	}
	delete(s.handles, handle)
	if !s.now().Before(p.expiresAt) {
		return pending{}, apperror.ValidationFailed("uploadHandle", "upload handle expired")
	}
	return p, nil
}

func (s *Store) path(ref string) string {
	return filepath.Join(s.root, ref)
}

// validRef accepts only refs this store could have issued, which also keeps
// path separators out of file names.
func validRef(ref string) bool {
	_, err := xid.FromString(ref)
	return err == nil
}
