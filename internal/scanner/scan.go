package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

// ScanResult is the outcome of scanning a single container.
type ScanResult struct {
	// Watermark is the latest last-modified time seen in the container,
	// never earlier than the prior watermark.
	Watermark time.Time
	// Objects holds, in listing order, every object modified after the
	// prior watermark.
	Objects []blob.Object
	// Skipped counts listed objects whose metadata could not be fetched.
	Skipped int
	// SkippedNotFound is the part of Skipped caused by deleted objects.
	SkippedNotFound int
	// Unavailable is set when the container could not be ensured.
	Unavailable bool
	// Cancelled is set when the listing was cut short by ctx.
	Cancelled bool
}

// Scan lists every object of c and returns those modified after prior along
// with the advanced watermark.
//
// The watermark is the maximum last-modified time over all objects whose
// metadata could be read, not only the new ones, and it never comes from the
// local clock. An unavailable container or a vanished object is not an
// error. If ctx is cancelled during the listing the scan reports nothing and
// leaves the watermark at prior so the next poll sees the same objects again.
func Scan(ctx context.Context, store blob.Store, c blob.Container, prior time.Time) (ScanResult, error) {
	result := ScanResult{Watermark: prior}

	if err := store.EnsureExists(ctx, c); err != nil {
		if errors.Is(err, blob.ErrNotAvailable) {
			logger.Debug(ctx, "Container not available; nothing to scan", tag.Container(c.Name), tag.Error(err))
			result.Unavailable = true
			return result, nil
		}
		return result, fmt.Errorf("failed to ensure container %s: %w", c.Name, err)
	}

	latest := prior
	var objects []blob.Object

	for ref, err := range store.List(ctx, c) {
		if ctx.Err() != nil {
			logger.Debug(ctx, "Scan cancelled during listing", tag.Container(c.Name))
			return ScanResult{Watermark: prior, Cancelled: true}, nil
		}
		if err != nil {
			if errors.Is(err, blob.ErrNotAvailable) {
				// Deleted after EnsureExists succeeded.
				logger.Debug(ctx, "Container became unavailable during listing", tag.Container(c.Name), tag.Error(err))
				return ScanResult{Watermark: prior, Unavailable: true}, nil
			}
			return result, fmt.Errorf("failed to list container %s: %w", c.Name, err)
		}

		info, err := store.FetchMetadata(ctx, ref)
		if err != nil {
			// Anything may happen between listing and fetching; most often
			// the object was deleted. The object is skipped either way.
			result.Skipped++
			if errors.Is(err, blob.ErrNotFound) {
				result.SkippedNotFound++
				logger.Debug(ctx, "Object vanished before metadata fetch", tag.Container(c.Name), tag.Key(ref.Key))
			} else {
				logger.Warn(ctx, "Failed to fetch object metadata; skipping", tag.Container(c.Name), tag.Key(ref.Key), tag.Error(err))
			}
			continue
		}

		if info.LastModified.After(latest) {
			latest = info.LastModified
		}
		if info.LastModified.After(prior) {
			objects = append(objects, blob.NewObject(ref, info))
		}
	}

	result.Watermark = latest
	result.Objects = objects
	return result, nil
}
