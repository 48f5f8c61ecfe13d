package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/itchyny/gojq"

	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

// Matcher decides whether a detected object triggers a function.
type Matcher struct {
	container string
	prefix    string
	pattern   string
	filter    *gojq.Code
}

// NewMatcher compiles the match rules of fn.
func NewMatcher(fn config.Function) (*Matcher, error) {
	m := &Matcher{
		container: fn.Container,
		prefix:    fn.Prefix,
		pattern:   strings.TrimSpace(fn.Pattern),
	}
	if m.pattern != "" && !doublestar.ValidatePattern(m.pattern) {
		return nil, fmt.Errorf("function %q: invalid pattern %q", fn.Name, m.pattern)
	}
	if fn.Filter != "" {
		query, err := gojq.Parse(fn.Filter)
		if err != nil {
			return nil, fmt.Errorf("function %q: failed to parse filter: %w", fn.Name, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("function %q: failed to compile filter: %w", fn.Name, err)
		}
		m.filter = code
	}
	return m, nil
}

// Match reports whether obj satisfies every rule. The filter matches when its
// first result is the boolean true.
func (m *Matcher) Match(ctx context.Context, obj blob.Object) (bool, error) {
	if obj.Container != m.container {
		return false, nil
	}
	if !strings.HasPrefix(obj.Key, m.prefix) {
		return false, nil
	}
	if m.pattern != "" {
		ok, err := doublestar.Match(m.pattern, obj.Key)
		if err != nil || !ok {
			return false, err
		}
	}
	if m.filter == nil {
		return true, nil
	}

	input, err := toJQInput(obj)
	if err != nil {
		return false, err
	}
	v, ok := m.filter.RunWithContext(ctx, input).Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("filter failed: %w", err)
	}
	matched, _ := v.(bool)
	return matched, nil
}

// toJQInput converts obj to the generic JSON shape gojq evaluates.
func toJQInput(obj blob.Object) (map[string]any, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return input, nil
}
