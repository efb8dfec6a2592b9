package function

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LoadFunction reads and decodes a function definition.
func LoadFunction(path string) (*Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read function: %w", err)
	}
	var fn Function
	if err := json.Unmarshal(data, &fn); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &fn, nil
}

// LoadProfile reads and decodes a profile definition.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &p, nil
}

// LoadInputs reads the example inputs file. Every malformed entry is
// reported in the returned error; the well-formed entries are still
// returned in order.
func LoadInputs(path string) ([]ExampleInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inputs: %w", err)
	}
	return DecodeInputs(data)
}

// DecodeInputs decodes a JSON array of example inputs.
func DecodeInputs(data []byte) ([]ExampleInput, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("example inputs must be a JSON array: %w", err)
	}

	examples := make([]ExampleInput, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		var ex ExampleInput
		if err := json.Unmarshal(raw, &ex); err != nil {
			errs = append(errs, fmt.Errorf("example %d: %w", i, err))
			continue
		}
		examples = append(examples, ex)
	}
	return examples, errors.Join(errs...)
}
