package reasoning

import "context"

// StaticClient is a canned-response Client for tests.
type StaticClient struct {
	// Responses are returned in order; the last one repeats once exhausted.
	Responses []string

	// Err, when set, is returned from every call.
	Err error

	// Prompts records every user prompt received.
	Prompts []string

	next int
}

// Generate returns the next canned response.
func (c *StaticClient) Generate(_ context.Context, _ string, userPrompt string, _ int) (string, error) {
	c.Prompts = append(c.Prompts, userPrompt)
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Responses) == 0 {
		return "", nil
	}
	i := c.next
	if i >= len(c.Responses) {
		i = len(c.Responses) - 1
	}
	c.next++
	return c.Responses[i], nil
}

var _ Client = (*StaticClient)(nil)
