package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// Time is the timing block the portal attaches to every response.
// Durations are reported in seconds.
type Time struct {
	Start            float64 `json:"start"`
	Finish           float64 `json:"finish"`
	Duration         float64 `json:"duration"`
	Processing       float64 `json:"processing"`
	DateStart        string  `json:"date_start,omitempty"`
	DateFinish       string  `json:"date_finish,omitempty"`
	Operating        float64 `json:"operating,omitempty"`
	OperatingResetAt int64   `json:"operating_reset_at,omitempty"`
}

// DurationMs returns the server-side request duration in milliseconds.
func (t Time) DurationMs() float64 {
	return t.Duration * 1000
}

// OperatingReset returns when the method's operating budget window resets.
// Returns the zero time if the portal did not report it.
func (t Time) OperatingReset() time.Time {
	if t.OperatingResetAt == 0 {
		return time.Time{}
	}
	return time.Unix(t.OperatingResetAt, 0)
}

// Response is one logical result of a REST call.
//
// For a plain call, Result holds the decoded "result" member of the envelope.
// For a demultiplexed batch sub-response, Error is set when the sub-command
// failed and Result is empty.
type Response struct {
	Result json.RawMessage `json:"result"`
	Total  *int            `json:"total,omitempty"`
	Next   *int            `json:"next,omitempty"`
	Time   Time            `json:"time"`

	Error *APIError `json:"-"`
}

// Failed reports whether the response carries a portal error.
func (r *Response) Failed() bool {
	return r != nil && r.Error != nil
}

// envelope is the wire form of a portal response, success or failure.
type envelope struct {
	Response
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// DecodeResponse parses a portal response body.
// A body carrying an "error" member is returned as *APIError.
func DecodeResponse(body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Code != "" {
		return nil, &APIError{Code: env.Code, Description: env.Description}
	}
	resp := env.Response
	return &resp, nil
}

// IntPtr is a convenience for building responses with pagination fields.
func IntPtr(v int) *int {
	return &v
}
