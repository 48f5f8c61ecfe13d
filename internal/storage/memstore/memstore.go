// Package memstore is an in-memory blob.Store. It backs the "memory" store
// type and lets tests script deletions and failures around a scan.
package memstore

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

var _ blob.Store = (*Store)(nil)

type object struct {
	lastModified time.Time
	size         int64
	etag         string
}

type bucket struct {
	objects  map[string]*object
	deleting bool
}

// Store keeps containers and objects in memory.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	// Hooks run outside the lock so they may mutate the store.
	beforeFetch func(ref blob.ObjectRef)
	listErr     map[string]error
	fetchErr    map[string]error
	ensureErr   map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		buckets:   make(map[string]*bucket),
		listErr:   make(map[string]error),
		fetchErr:  make(map[string]error),
		ensureErr: make(map[string]error),
	}
}

// URI returns the URI memstore assigns to an object.
func URI(container, key string) string {
	return fmt.Sprintf("mem://%s/%s", container, key)
}

// Put creates or replaces an object with the given last-modified time.
func (s *Store) Put(container, key string, lastModified time.Time, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucketLocked(container)
	b.objects[key] = &object{
		lastModified: lastModified,
		size:         size,
		etag:         fmt.Sprintf("%x", lastModified.UnixNano()),
	}
}

// Delete removes an object. Deleting a missing object is a no-op.
func (s *Store) Delete(container, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[container]; ok {
		delete(b.objects, key)
	}
}

// MarkDeleting makes the container unavailable, as a store does while a
// bucket deletion is in progress.
func (s *Store) MarkDeleting(container string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucketLocked(container)
	b.deleting = true
	b.objects = make(map[string]*object)
}

// BeforeFetch registers a hook called before each metadata fetch.
func (s *Store) BeforeFetch(fn func(ref blob.ObjectRef)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeFetch = fn
}

// FailList makes listings of container end with err.
func (s *Store) FailList(container string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr[container] = err
}

// FailFetch makes metadata fetches of container/key fail with err.
func (s *Store) FailFetch(container, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr[container+"/"+key] = err
}

// FailEnsure makes EnsureExists for container fail with err.
func (s *Store) FailEnsure(container string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureErr[container] = err
}

// Containers returns the names of every container, sorted.
func (s *Store) Containers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EnsureExists implements blob.Store.
func (s *Store) EnsureExists(_ context.Context, c blob.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureErr[c.Name]; err != nil {
		return blob.NewContainerError("ensure", c.Name, err)
	}
	b := s.bucketLocked(c.Name)
	if b.deleting {
		return blob.NewContainerError("ensure", c.Name, blob.ErrNotAvailable)
	}
	return nil
}

// List implements blob.Store. Keys are listed in lexical order, taken from a
// snapshot at the time iteration starts.
func (s *Store) List(ctx context.Context, c blob.Container) iter.Seq2[blob.ObjectRef, error] {
	return func(yield func(blob.ObjectRef, error) bool) {
		s.mu.Lock()
		listErr := s.listErr[c.Name]
		var keys []string
		if b, ok := s.buckets[c.Name]; ok {
			for k := range b.objects {
				keys = append(keys, k)
			}
		}
		s.mu.Unlock()

		slices.Sort(keys)
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield(blob.ObjectRef{}, err)
				return
			}
			ref := blob.ObjectRef{Container: c, Key: k, URI: URI(c.Name, k)}
			if !yield(ref, nil) {
				return
			}
		}
		if listErr != nil {
			yield(blob.ObjectRef{}, blob.NewContainerError("list", c.Name, listErr))
		}
	}
}

// FetchMetadata implements blob.Store.
func (s *Store) FetchMetadata(_ context.Context, ref blob.ObjectRef) (blob.ObjectInfo, error) {
	s.mu.Lock()
	hook := s.beforeFetch
	s.mu.Unlock()
	if hook != nil {
		hook(ref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fetchErr[ref.Container.Name+"/"+ref.Key]; err != nil {
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, err)
	}
	b, ok := s.buckets[ref.Container.Name]
	if !ok {
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, blob.ErrNotFound)
	}
	obj, ok := b.objects[ref.Key]
	if !ok {
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, blob.ErrNotFound)
	}
	return blob.ObjectInfo{
		LastModified: obj.lastModified,
		Size:         obj.size,
		ETag:         obj.etag,
	}, nil
}

func (s *Store) bucketLocked(name string) *bucket {
	b, ok := s.buckets[name]
	if !ok {
		b = &bucket{objects: make(map[string]*object)}
		s.buckets[name] = b
	}
	return b
}
