// Package dispatch turns detected objects into function instances and runs
// them on a bounded worker pool.
package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

// ExecutionReason records what started a function instance.
type ExecutionReason string

const (
	// ReasonAutomaticTrigger marks instances started by the poll loop.
	ReasonAutomaticTrigger ExecutionReason = "AutomaticTrigger"
	// ReasonHostCall marks instances started explicitly from the command line.
	ReasonHostCall ExecutionReason = "HostCall"
)

// FunctionInstance is a single invocation of a function for one object.
type FunctionInstance struct {
	ID        string          `json:"id"`
	Function  string          `json:"function"`
	Object    blob.Object     `json:"object"`
	Reason    ExecutionReason `json:"reason"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewFunctionInstance creates an instance with a time-ordered ID.
func NewFunctionInstance(function string, obj blob.Object, reason ExecutionReason) (*FunctionInstance, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}
	return &FunctionInstance{
		ID:        id.String(),
		Function:  function,
		Object:    obj,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Environ returns the object identity as environment variables.
func (fi *FunctionInstance) Environ() []string {
	return []string{
		"BLOB_CONTAINER=" + fi.Object.Container,
		"BLOB_KEY=" + fi.Object.Key,
		"BLOB_URI=" + fi.Object.URI,
		"BLOB_LAST_MODIFIED=" + fi.Object.LastModified.UTC().Format(time.RFC3339Nano),
		"BLOB_SIZE=" + fmt.Sprint(fi.Object.Size),
		"BLOB_ETAG=" + fi.Object.ETag,
		"BLOB_INSTANCE_ID=" + fi.ID,
		"BLOB_FUNCTION=" + fi.Function,
	}
}
