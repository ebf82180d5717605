package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const stagingSuffix = ".part"

var (
	ErrNotFound    = errors.New("blob not found")
	ErrExists      = errors.New("blob already exists")
	ErrTooLarge    = errors.New("blob exceeds size limit")
	ErrInvalidName = errors.New("invalid blob name")
)

// Store keeps write-once blobs as flat files under one root directory.
// Names are single path elements; callers derive them from upload ids.
type Store struct {
	root    string
	bufSize int
}

// PutResult describes a committed blob.
type PutResult struct {
	Name string
	Size int64
}

// Entry is one file found under the root.
type Entry struct {
	Name    string
	ModTime time.Time
	Staging bool
}

// NewStore creates root if needed. bufSize is the fixed copy buffer used for
// every write regardless of blob size.
func NewStore(root string, bufSize int) (*Store, error) {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root, bufSize: bufSize}, nil
}

// Root returns the directory blobs live in.
func (s *Store) Root() string { return s.root }

// Path returns the absolute location of name.
func (s *Store) Path(name string) string { return filepath.Join(s.root, name) }

// Put copies r into a staging file next to the final location, syncs it and
// renames it into place. Any failure removes the staging file, so a blob is
// either complete under name or absent. limit <= 0 disables the size check.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, limit int64) (PutResult, error) {
	if err := checkName(name); err != nil {
		return PutResult{}, err
	}
	final := s.Path(name)
	if _, err := os.Stat(final); err == nil {
		return PutResult{}, fmt.Errorf("%s: %w", name, ErrExists)
	}

	tmp, err := os.CreateTemp(s.root, "."+name+".*"+stagingSuffix)
	if err != nil {
		return PutResult{}, fmt.Errorf("create staging file: %w", err)
	}
	staged := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(staged)
		}
	}()

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if limit > 0 {
		// one extra byte tells an exact-limit stream from an oversized one
		src = io.LimitReader(src, limit+1)
	}
	// hide ReadFrom so the fixed buffer is the only one used
	n, err := io.CopyBuffer(struct{ io.Writer }{tmp}, src, make([]byte, s.bufSize))
	if err != nil {
		return PutResult{}, fmt.Errorf("write blob %s: %w", name, err)
	}
	if limit > 0 && n > limit {
		return PutResult{}, fmt.Errorf("%s: %w (%d bytes)", name, ErrTooLarge, limit)
	}
	if err := tmp.Sync(); err != nil {
		return PutResult{}, fmt.Errorf("sync blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return PutResult{}, fmt.Errorf("close blob %s: %w", name, err)
	}
	if err := os.Rename(staged, final); err != nil {
		return PutResult{}, fmt.Errorf("commit blob %s: %w", name, err)
	}
	committed = true
	return PutResult{Name: name, Size: n}, nil
}

// Delete removes name. Deleting a missing blob is not an error.
func (s *Store) Delete(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

// Open returns a read-only handle positioned independently of other readers.
func (s *Store) Open(name string) (*Object, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Object{f: f, size: st.Size()}, nil
}

// List returns committed blobs and leftover staging files.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, Entry{
			Name:    d.Name(),
			ModTime: info.ModTime(),
			Staging: strings.HasPrefix(d.Name(), ".") && strings.HasSuffix(d.Name(), stagingSuffix),
		})
	}
	return out, nil
}

// RemoveStaging deletes a leftover staging file reported by List.
func (s *Store) RemoveStaging(name string) error {
	if !strings.HasSuffix(name, stagingSuffix) {
		return fmt.Errorf("%s: %w", name, ErrInvalidName)
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Object is an open blob. It is safe for concurrent ReadAt calls.
type Object struct {
	f    *os.File
	size int64
}

func (o *Object) Size() int64 { return o.size }

func (o *Object) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }

func (o *Object) Close() error { return o.f.Close() }

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
