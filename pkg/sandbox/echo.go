package sandbox

import (
	"context"
	"time"
)

// Echo acknowledges the request without evaluating the agent code.
type Echo struct {
	now func() time.Time
}

func NewEcho() *Echo {
	return &Echo{now: time.Now}
}

func (e *Echo) Kind() string {
	return KindEcho
}

func (e *Echo) Run(ctx context.Context, req Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return envelope(req, e.now()), nil
}
