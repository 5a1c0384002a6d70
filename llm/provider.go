package llm

import (
	"context"
	"errors"

	"github.com/PipeOpsHQ/campaign-engine/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Capabilities struct {
	StructuredOutput bool
}

type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}
