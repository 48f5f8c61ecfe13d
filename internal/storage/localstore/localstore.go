// Package localstore implements blob.Store over a local directory tree.
// Each first-level directory under the root is a container and every
// regular file below it is an object whose key is its slash-separated path
// relative to the container directory.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-viper/mapstructure/v2"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

var _ blob.Store = (*Store)(nil)

var errStopWalk = errors.New("stop walk")

// Config holds the options of a local store.
type Config struct {
	Root string `mapstructure:"root"`
}

// DecodeConfig decodes raw store options into a Config.
func DecodeConfig(raw map[string]any) (*Config, error) {
	cfg := &Config{}
	if err := mapstructure.WeakDecode(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode local store config: %w", err)
	}
	if cfg.Root == "" {
		return nil, errors.New("local store root is required")
	}
	return cfg, nil
}

// Store is a directory-backed blob.Store.
type Store struct {
	fs billy.Filesystem
}

// New creates a Store rooted at cfg.Root. The root is created if missing.
func New(cfg *Config) (*Store, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root %q: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store root %q: %w", root, err)
	}
	return NewWithFilesystem(osfs.New(root)), nil
}

// NewWithFilesystem creates a Store over an existing billy filesystem.
func NewWithFilesystem(fsys billy.Filesystem) *Store {
	return &Store{fs: fsys}
}

// URI returns the file:// URI of an object.
func (s *Store) URI(container, key string) string {
	abs := filepath.Join(s.fs.Root(), container, filepath.FromSlash(key))
	return "file://" + filepath.ToSlash(abs)
}

// EnsureExists implements blob.Store. A missing container directory is
// created. A container path occupied by anything but a directory is
// reported as unavailable.
func (s *Store) EnsureExists(_ context.Context, c blob.Container) error {
	if err := validateName(c.Name); err != nil {
		return blob.NewContainerError("ensure", c.Name, err)
	}

	info, err := s.fs.Stat(c.Name)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return blob.NewContainerError("ensure", c.Name, fmt.Errorf("%w: not a directory", blob.ErrNotAvailable))
	case !errors.Is(err, fs.ErrNotExist):
		return blob.NewContainerError("ensure", c.Name, err)
	}

	if err := s.fs.MkdirAll(c.Name, 0o750); err != nil {
		return blob.NewContainerError("ensure", c.Name, err)
	}
	return nil
}

// List implements blob.Store by walking the container directory.
func (s *Store) List(ctx context.Context, c blob.Container) iter.Seq2[blob.ObjectRef, error] {
	return func(yield func(blob.ObjectRef, error) bool) {
		err := util.Walk(s.fs, c.Name, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == c.Name {
					return fmt.Errorf("%w: %v", blob.ErrNotAvailable, err)
				}
				if errors.Is(err, fs.ErrNotExist) {
					// Removed while walking.
					return nil
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}

			key := strings.TrimPrefix(filepath.ToSlash(p), c.Name+"/")
			ref := blob.ObjectRef{Container: c, Key: key, URI: s.URI(c.Name, key)}
			if !yield(ref, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(blob.ObjectRef{}, blob.NewContainerError("list", c.Name, err))
		}
	}
}

// FetchMetadata implements blob.Store. The modification time of the file
// is its last-modified time.
func (s *Store) FetchMetadata(_ context.Context, ref blob.ObjectRef) (blob.ObjectInfo, error) {
	info, err := s.fs.Stat(path.Join(ref.Container.Name, ref.Key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", blob.ErrNotFound, err)
		}
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, err)
	}
	if !info.Mode().IsRegular() {
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, fmt.Errorf("%w: not a regular file", blob.ErrNotFound))
	}
	return blob.ObjectInfo{
		LastModified: info.ModTime().UTC(),
		Size:         info.Size(),
	}, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid container name %q", name)
	}
	return nil
}
