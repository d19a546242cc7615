package main

import (
	"context"
	"encoding/json"
	"fmt"
)

// noopToolExecutor rejects every tool call with a data-not-exception error
// result; individual tool implementations (file I/O, shell, browser
// automation, search) are an external collaborator this daemon only defines
// the contract for.
type noopToolExecutor struct{}

func (noopToolExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	return fmt.Sprintf("no tool executor configured for %q", name), true, nil
}
