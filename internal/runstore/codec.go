package runstore

import (
	"encoding/json"
	"fmt"

	"matrixci/internal/core"
)

// Runs travel as JSON in every backend; the in-memory store uses the same
// round trip so callers never share a RunResult with the store.

func encode(run *core.RunResult) ([]byte, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*core.RunResult, error) {
	var run core.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

func clone(run *core.RunResult) (*core.RunResult, error) {
	data, err := encode(run)
	if err != nil {
		return nil, err
	}
	return decode(data)
}
