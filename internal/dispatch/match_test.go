package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

func object(container, key string, size int64) blob.Object {
	return blob.Object{
		Container:    container,
		Key:          key,
		URI:          "mem://" + container + "/" + key,
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Size:         size,
		ContentType:  "image/png",
	}
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   config.Function
		obj  blob.Object
		want bool
	}{
		{
			name: "ContainerOnly",
			fn:   config.Function{Container: "uploads"},
			obj:  object("uploads", "a.txt", 1),
			want: true,
		},
		{
			name: "OtherContainer",
			fn:   config.Function{Container: "uploads"},
			obj:  object("archive", "a.txt", 1),
			want: false,
		},
		{
			name: "PrefixMatches",
			fn:   config.Function{Container: "uploads", Prefix: "images/"},
			obj:  object("uploads", "images/a.png", 1),
			want: true,
		},
		{
			name: "PrefixMisses",
			fn:   config.Function{Container: "uploads", Prefix: "images/"},
			obj:  object("uploads", "docs/a.png", 1),
			want: false,
		},
		{
			name: "PatternAcrossDirectories",
			fn:   config.Function{Container: "uploads", Pattern: "**/*.png"},
			obj:  object("uploads", "2024/01/a.png", 1),
			want: true,
		},
		{
			name: "PatternMisses",
			fn:   config.Function{Container: "uploads", Pattern: "**/*.png"},
			obj:  object("uploads", "2024/01/a.jpg", 1),
			want: false,
		},
		{
			name: "FilterTrue",
			fn:   config.Function{Container: "uploads", Filter: `.size > 100 and .contentType == "image/png"`},
			obj:  object("uploads", "big.png", 512),
			want: true,
		},
		{
			name: "FilterFalse",
			fn:   config.Function{Container: "uploads", Filter: ".size > 100"},
			obj:  object("uploads", "small.png", 10),
			want: false,
		},
		{
			name: "FilterNotBoolean",
			fn:   config.Function{Container: "uploads", Filter: ".key"},
			obj:  object("uploads", "a.png", 10),
			want: false,
		},
		{
			name: "FilterEmptyResult",
			fn:   config.Function{Container: "uploads", Filter: "empty"},
			obj:  object("uploads", "a.png", 10),
			want: false,
		},
		{
			name: "AllRules",
			fn:   config.Function{Container: "uploads", Prefix: "in/", Pattern: "in/*.png", Filter: `.key | endswith(".png")`},
			obj:  object("uploads", "in/a.png", 10),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := NewMatcher(tt.fn)
			require.NoError(t, err)

			got, err := m.Match(context.Background(), tt.obj)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_FilterError(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(config.Function{Container: "uploads", Filter: `error("boom")`})
	require.NoError(t, err)

	matched, err := m.Match(context.Background(), object("uploads", "a", 1))
	assert.Error(t, err)
	assert.False(t, matched)
}

func TestNewMatcher_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewMatcher(config.Function{Name: "f", Container: "c", Pattern: "[a-"})
	assert.ErrorContains(t, err, "invalid pattern")

	_, err = NewMatcher(config.Function{Name: "f", Container: "c", Filter: ".size >"})
	assert.ErrorContains(t, err, "failed to parse filter")
}
