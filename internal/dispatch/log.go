package dispatch

import (
	"context"

	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
)

type logExecutor struct{}

var _ FunctionExecutor = (*logExecutor)(nil)

func (logExecutor) TryExecute(ctx context.Context, inst *FunctionInstance) DelayedError {
	logger.Info(ctx, "Object detected",
		tag.Function(inst.Function),
		tag.InstanceID(inst.ID),
		tag.Container(inst.Object.Container),
		tag.Key(inst.Object.Key),
		tag.URI(inst.Object.URI),
		tag.LastModified(inst.Object.LastModified),
	)
	return nil
}

func newLogExecutor(config.Function) (FunctionExecutor, error) {
	return logExecutor{}, nil
}

func init() {
	Register(config.ExecutorLog, newLogExecutor)
}
