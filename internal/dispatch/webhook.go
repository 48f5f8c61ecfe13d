package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-resty/resty/v2"

	"github.com/dagucloud/blobtrigger/internal/cmn/backoff"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
)

type webhookExecutor struct {
	url    string
	client *resty.Client
}

var _ FunctionExecutor = (*webhookExecutor)(nil)

func newWebhookExecutor(fn config.Function) (FunctionExecutor, error) {
	client := resty.New()
	if fn.Timeout > 0 {
		client.SetTimeout(fn.Timeout)
	}
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", config.AppSlug+"/"+config.Version)
	for k, v := range fn.Headers {
		client.SetHeader(k, os.ExpandEnv(v))
	}

	return &webhookExecutor{
		url:    os.ExpandEnv(fn.URL),
		client: client,
	}, nil
}

func (e *webhookExecutor) TryExecute(ctx context.Context, inst *FunctionInstance) DelayedError {
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("X-Blobtrigger-Instance", inst.ID).
		SetBody(inst).
		Post(e.url)
	if err != nil {
		return Delay(inst, fmt.Errorf("webhook request failed: %w", err))
	}

	code := resp.StatusCode()
	if resp.IsSuccess() {
		logger.Debug(ctx, "Webhook delivered",
			tag.Function(inst.Function),
			tag.InstanceID(inst.ID),
			tag.StatusCode(code),
		)
		return nil
	}

	err = fmt.Errorf("webhook returned %s", resp.Status())
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
		return Delay(inst, err)
	}
	return Delay(inst, backoff.Permanent(err))
}

func init() {
	Register(config.ExecutorWebhook, newWebhookExecutor)
}
