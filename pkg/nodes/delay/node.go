// Package delay provides the wait node that parks a workflow run.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
)

// MaxWait bounds the duration of a single wait node.
const MaxWait = 365 * 24 * time.Hour

var units = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// Config is the typed configuration of a wait node.
type Config struct {
	Duration float64 `json:"duration"`
	Unit     string  `json:"unit"`
}

// Node parks the running execution for a fixed duration. The executor
// releases the worker and resumes the run once the duration has elapsed.
type Node struct {
	id       string
	duration time.Duration
	now      func() time.Time
}

func NewNode(id string, config map[string]any) (*Node, error) {
	cfg := Config{Unit: "minutes"}

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	unit, ok := units[cfg.Unit]
	if !ok {
		return nil, fmt.Errorf("unknown unit %q", cfg.Unit)
	}

	if cfg.Duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", cfg.Duration)
	}

	// Compared as floats so the conversion below cannot overflow.
	if cfg.Duration*float64(unit) > float64(MaxWait) {
		return nil, fmt.Errorf("duration must not exceed %s, got %v %s", MaxWait, cfg.Duration, cfg.Unit)
	}

	return &Node{
		id:       id,
		duration: time.Duration(cfg.Duration * float64(unit)),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (n *Node) ID() string {
	return n.id
}

// Execute returns the time the run resumes at. A zero duration completes at once.
func (n *Node) Execute(_ context.Context, _ *models.ExecutionContext) (models.NodeResult, error) {
	if n.duration == 0 {
		return models.NodeResult{Data: map[string]any{"waitedMs": int64(0)}}, nil
	}

	return models.NodeResult{ResumeAt: n.now().Add(n.duration)}, nil
}
