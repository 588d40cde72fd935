package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultMaxCallStackSize bounds recursion inside agent code.
const DefaultMaxCallStackSize = 1024

// EntryPoint is the function agent code may define to receive input and config.
const EntryPoint = "run"

// JavaScript evaluates agent code in a fresh goja runtime per run. The runtime
// only carries the ECMAScript built-ins; input and config are plain copies.
//
// The result is the return value of a global run(input, config) function when
// the code defines one, otherwise the completion value of the script.
type JavaScript struct {
	maxCallStackSize int
	now              func() time.Time
}

func NewJavaScript(maxCallStackSize int) *JavaScript {
	if maxCallStackSize <= 0 {
		maxCallStackSize = DefaultMaxCallStackSize
	}

	return &JavaScript{maxCallStackSize: maxCallStackSize, now: time.Now}
}

func (j *JavaScript) Kind() string {
	return KindJavaScript
}

func (j *JavaScript) Run(ctx context.Context, req Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(j.maxCallStackSize)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(context.Cause(ctx))
		case <-done:
		}
	}()

	result, err := j.evaluate(vm, req)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, cause
			}
		}

		return nil, fmt.Errorf("agent code failed: %w", err)
	}

	output := envelope(req, j.now())
	output["result"] = result

	return output, nil
}

func (j *JavaScript) evaluate(vm *goja.Runtime, req Request) (any, error) {
	prelude, err := preludeFor(req)
	if err != nil {
		return nil, err
	}

	_, err = vm.RunScript("prelude.js", prelude)
	if err != nil {
		return nil, err
	}

	value, err := vm.RunScript("agent.js", req.Code)
	if err != nil {
		return nil, err
	}

	if entry, ok := goja.AssertFunction(vm.Get(EntryPoint)); ok {
		value, err = entry(goja.Undefined(), vm.Get("input"), vm.Get("config"))
		if err != nil {
			return nil, err
		}
	}

	return export(value)
}

func preludeFor(req Request) (string, error) {
	input, err := json.Marshal(orEmpty(req.Input))
	if err != nil {
		return "", fmt.Errorf("failed to encode input: %w", err)
	}

	config, err := json.Marshal(orEmpty(req.Config))
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	return fmt.Sprintf("var input = %s;\nvar config = %s;\n", input, config), nil
}

// export converts a script value to plain JSON data so nothing from the
// runtime escapes into stored output.
func export(value goja.Value) (any, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}

	raw, err := json.Marshal(value.Export())
	if err != nil {
		return nil, fmt.Errorf("agent result is not serializable: %w", err)
	}

	var result any

	err = json.Unmarshal(raw, &result)
	if err != nil {
		return nil, fmt.Errorf("agent result is not serializable: %w", err)
	}

	return result, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
