// Package blob defines the object-store vocabulary shared by the change
// detector and the store backends: containers, object references, object
// metadata and the Store capability the scanner calls into.
package blob

import (
	"context"
	"iter"
	"time"
)

// EpochStart is the initial watermark of every newly tracked container.
// It is older than any object a real store can report.
var EpochStart = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Container is a handle to a remote, mutable, unordered collection of
// objects. Its identity belongs to the store; blobtrigger only keeps the name.
type Container struct {
	Name string `json:"name"`
}

func (c Container) String() string { return c.Name }

// ObjectRef identifies an object as produced by a listing.
type ObjectRef struct {
	Container Container `json:"container"`
	Key       string    `json:"key"`
	URI       string    `json:"uri"`
}

// ObjectInfo is the per-object metadata fetched from the store.
type ObjectInfo struct {
	LastModified time.Time
	Size         int64
	ETag         string
	ContentType  string
}

// Object describes an object detected as new or modified. It carries enough
// identity for a consumer to open the object through the same store.
type Object struct {
	Container    string    `json:"container"`
	Key          string    `json:"key"`
	URI          string    `json:"uri"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
}

// NewObject combines a listing reference with its fetched metadata.
func NewObject(ref ObjectRef, info ObjectInfo) Object {
	return Object{
		Container:    ref.Container.Name,
		Key:          ref.Key,
		URI:          ref.URI,
		LastModified: info.LastModified,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
	}
}

// Store is the object-store capability the scanner depends on.
type Store interface {
	// EnsureExists creates the container when missing. It fails with
	// ErrNotAvailable when the container cannot be used, for example because
	// it is being deleted.
	EnsureExists(ctx context.Context, c Container) error

	// List returns a flat listing of every object in the container. The
	// sequence is lazy, finite and can be ranged over only once. A non-nil
	// error ends the sequence.
	List(ctx context.Context, c Container) iter.Seq2[ObjectRef, error]

	// FetchMetadata reads the current metadata of a single object. It fails
	// with ErrNotFound when the object no longer exists.
	FetchMetadata(ctx context.Context, ref ObjectRef) (ObjectInfo, error)
}
