// Package storage builds the configured blob.Store backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/storage/localstore"
	"github.com/dagucloud/blobtrigger/internal/storage/memstore"
	"github.com/dagucloud/blobtrigger/internal/storage/miniostore"
	"github.com/dagucloud/blobtrigger/internal/storage/s3store"
)

// ErrUnknownStore is returned for an unsupported store type.
var ErrUnknownStore = errors.New("unknown store type")

// Store types.
const (
	TypeMinio  = "minio"
	TypeS3     = "s3"
	TypeLocal  = "local"
	TypeMemory = "memory"
)

// Types lists every supported store type.
var Types = []string{TypeMinio, TypeS3, TypeLocal, TypeMemory}

// New builds the store named by typ from its raw options.
func New(ctx context.Context, typ string, options map[string]any) (blob.Store, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case TypeMinio:
		cfg, err := miniostore.DecodeConfig(options)
		if err != nil {
			return nil, err
		}
		return miniostore.New(cfg)

	case TypeS3:
		cfg, err := s3store.DecodeConfig(options)
		if err != nil {
			return nil, err
		}
		return s3store.New(ctx, cfg)

	case TypeLocal:
		cfg, err := localstore.DecodeConfig(options)
		if err != nil {
			return nil, err
		}
		return localstore.New(cfg)

	case TypeMemory:
		return memstore.New(), nil

	default:
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownStore, typ, strings.Join(Types, ", "))
	}
}
