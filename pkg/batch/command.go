package batch

import (
	"maps"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
)

// Command is one REST call destined for a batch request.
type Command struct {
	key    string
	method string
	params map[string]any
}

// NewCommand creates a command. params is copied, later changes to the
// caller's map do not affect the command.
func NewCommand(key, method string, params map[string]any) Command {
	return Command{
		key:    key,
		method: method,
		params: maps.Clone(params),
	}
}

// Key returns the correlation key of the command.
func (c Command) Key() string {
	return c.key
}

// Method returns the REST method name.
func (c Command) Method() string {
	return c.method
}

// Params returns a copy of the command parameters.
func (c Command) Params() map[string]any {
	return maps.Clone(c.params)
}

// Query renders the command as it appears inside a batch cmd entry.
func (c Command) Query() (string, error) {
	query, err := client.EncodeQuery(c.params)
	if err != nil {
		return "", err
	}
	if query == "" {
		return c.method, nil
	}
	return c.method + "?" + query, nil
}
