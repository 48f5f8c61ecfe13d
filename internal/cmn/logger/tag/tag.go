// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Object store tags

// Container creates a tag for container (bucket, directory) names.
func Container(name string) slog.Attr {
	return slog.String("container", name)
}

// Key creates a tag for object keys within a container.
func Key(key string) slog.Attr {
	return slog.String("key", key)
}

// URI creates a tag for object URIs.
func URI(uri string) slog.Attr {
	return slog.String("uri", uri)
}

// Store creates a tag for store backend types.
func Store(kind string) slog.Attr {
	return slog.String("store", kind)
}

// Watermark creates a tag for a container watermark.
func Watermark(t time.Time) slog.Attr {
	return slog.Time("watermark", t)
}

// PriorWatermark creates a tag for the watermark observed before a scan.
func PriorWatermark(t time.Time) slog.Attr {
	return slog.Time("prior-watermark", t)
}

// LastModified creates a tag for an object's last-modified time.
func LastModified(t time.Time) slog.Attr {
	return slog.Time("last-modified", t)
}

// Reason creates a tag for skip or failure reasons.
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// Execution tags

// PollID creates a tag for a single poll pass.
func PollID(id string) slog.Attr {
	return slog.String("poll-id", id)
}

// Function creates a tag for function names.
func Function(name string) slog.Attr {
	return slog.String("function", name)
}

// InstanceID creates a tag for function instance IDs.
func InstanceID(id string) slog.Attr {
	return slog.String("instance-id", id)
}

// Executor creates a tag for executor types.
func Executor(kind string) slog.Attr {
	return slog.String("executor", kind)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// ExitCode creates a tag for process exit codes.
func ExitCode(code int) slog.Attr {
	return slog.Int("exit-code", code)
}

// WorkerID creates a tag for worker indices.
func WorkerID(id int) slog.Attr {
	return slog.Int("worker-id", id)
}

// Path and file tags

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Counting tags

// Count creates a tag for numeric counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Skipped creates a tag for the number of skipped items.
func Skipped(n int) slog.Attr {
	return slog.Int("skipped", n)
}

// Size creates a tag for size values.
func Size(n int) slog.Attr {
	return slog.Int("size", n)
}

// Network and service tags

// Port creates a tag for port numbers.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// StatusCode creates a tag for HTTP status codes.
func StatusCode(code int) slog.Attr {
	return slog.Int("status-code", code)
}

// Endpoint creates a tag for API endpoints.
func Endpoint(ep string) slog.Attr {
	return slog.String("endpoint", ep)
}

// Time-related tags

// Schedule creates a tag for schedule expressions.
func Schedule(spec string) slog.Attr {
	return slog.String("schedule", spec)
}

// Interval creates a tag for time intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Duration creates a tag for time durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// NextRun creates a tag for the next scheduled time.
func NextRun(t time.Time) slog.Attr {
	return slog.Time("next-run", t)
}
