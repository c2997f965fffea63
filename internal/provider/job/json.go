package job

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxStatusBodyBytes bounds the JSON bodies read from submit and poll responses.
const maxStatusBodyBytes = 1 << 20

// parseJSON parses JSON data into the target interface.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// readJSON reads a bounded response body and parses it into target.
func readJSON(body io.Reader, target any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxStatusBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return parseJSON(data, target)
}
