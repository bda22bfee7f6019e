package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

type fixRequest struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Current any    `json:"current_value"`
}

type fixResponse struct {
	Fix   bool            `json:"fix"`
	Value json.RawMessage `json:"value"`
}

// FixField asks the model for a replacement value. It satisfies the
// corrector's Fixer contract.
func (c *Client) FixField(ctx context.Context, field, message string, current any) (any, bool, error) {
	user, err := json.Marshal(fixRequest{Field: field, Message: message, Current: current})
	if err != nil {
		return nil, false, fmt.Errorf("llm: encode fix request: %w", err)
	}
	out, err := c.CompleteJSON(ctx, c.fixPrompt, string(user))
	if err != nil {
		return nil, false, err
	}
	var fr fixResponse
	if err := json.Unmarshal([]byte(out), &fr); err != nil {
		return nil, false, fmt.Errorf("llm: decode fix response: %w", err)
	}
	if !fr.Fix || len(fr.Value) == 0 || string(fr.Value) == "null" {
		return nil, false, nil
	}
	var v any
	if err := json.Unmarshal(fr.Value, &v); err != nil {
		return nil, false, fmt.Errorf("llm: decode fix value: %w", err)
	}
	return v, true, nil
}
