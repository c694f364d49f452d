package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for batch execution.
var (
	b24BatchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b24_batch_requests_total",
		Help: "Total number of physical batch requests sent",
	})

	b24BatchCommandsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "b24_batch_commands_total",
		Help: "Total number of commands sent inside batch requests",
	})

	b24BatchCommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_batch_command_errors_total",
		Help: "Total number of failed batch sub-commands by method",
	}, []string{"method"})

	b24BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "b24_batch_size",
		Help:    "Number of commands per batch request",
		Buckets: []float64{1, 5, 10, 20, 30, 40, 50},
	})
)

// MethodBatch is the REST method that executes several commands at once.
const MethodBatch = "batch"

// errMalformedPayload marks a batch response that cannot be demultiplexed.
var errMalformedPayload = errors.New("malformed batch payload")

// Transport performs a single REST call. *client.Client implements it.
type Transport interface {
	Call(ctx context.Context, method string, params map[string]any) (*client.Response, error)
}

// Result is the outcome of one command of a batch.
type Result struct {
	Key      string
	Command  Command
	Response *client.Response
}

// Err returns the portal error of the sub-command, or nil if it succeeded.
func (r Result) Err() error {
	if r.Response != nil && r.Response.Error != nil {
		return r.Response.Error
	}
	return nil
}

// Executor sends command collections as batch requests.
type Executor struct {
	transport Transport
	logger    zerolog.Logger
}

// NewExecutor creates an executor on top of transport.
func NewExecutor(transport Transport, logger zerolog.Logger) *Executor {
	return &Executor{
		transport: transport,
		logger:    logger,
	}
}

// Execute sends every command of cc in one batch request and returns one
// Result per command in registration order. cc is reset afterwards.
//
// Transport failures are returned unchanged with no results. Sub-command
// failures are reported through Result.Err.
func (e *Executor) Execute(ctx context.Context, cc *CommandCollection) ([]Result, error) {
	if cc == nil || cc.Len() == 0 {
		return nil, nil
	}
	defer cc.Reset()

	commands := cc.commands
	cmd := make(client.Ordered, 0, len(commands))
	for i, c := range commands {
		query, err := c.Query()
		if err != nil {
			return nil, &BaseError{Method: c.method, Index: i, Err: fmt.Errorf("encode command %q: %w", c.key, err)}
		}
		cmd = append(cmd, client.KV{Key: c.key, Value: query})
	}

	e.logger.Debug().Int("commands", len(commands)).Msg("Executing batch")

	start := time.Now()
	resp, err := e.transport.Call(ctx, MethodBatch, map[string]any{
		"halt": 0,
		"cmd":  cmd,
	})
	if err != nil {
		return nil, err
	}

	b24BatchRequestsTotal.Inc()
	b24BatchCommandsTotal.Add(float64(len(commands)))
	b24BatchSize.Observe(float64(len(commands)))

	payload := gjson.ParseBytes(resp.Result)
	if !payload.IsObject() {
		return nil, &BaseError{Method: MethodBatch, Index: -1, Err: errMalformedPayload}
	}

	results := make([]Result, 0, len(commands))
	failed := 0
	for i, c := range commands {
		sub, err := subResponse(payload, c.key)
		if err != nil {
			return nil, &BaseError{Method: c.method, Index: i, Err: err}
		}
		if sub.Error != nil {
			failed++
			b24BatchCommandErrorsTotal.WithLabelValues(c.method).Inc()
			e.logger.Debug().
				Str("method", c.method).
				Str("key", c.key).
				Str("error", sub.Error.Code).
				Msg("Batch sub-command failed")
		}
		results = append(results, Result{Key: c.key, Command: c, Response: sub})
	}

	e.logger.Debug().
		Int("commands", len(commands)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch executed")

	return results, nil
}

// subResponse extracts the response of the command registered under key.
// Each section of the payload may be an object keyed by command key or, when
// the keys are 0..n-1, a JSON array; gjson paths address both the same way.
func subResponse(payload gjson.Result, key string) (*client.Response, error) {
	path := gjson.Escape(key)

	if failure := payload.Get("result_error." + path); failure.IsObject() {
		return &client.Response{
			Error: &client.APIError{
				Code:        failure.Get("error").String(),
				Description: failure.Get("error_description").String(),
			},
		}, nil
	}

	result := payload.Get("result." + path)
	if !result.Exists() {
		return &client.Response{
			Error: &client.APIError{
				Code:        client.CodeBatchResultMissing,
				Description: fmt.Sprintf("no result for command %q", key),
			},
		}, nil
	}

	sub := &client.Response{Result: json.RawMessage(result.Raw)}
	if total := payload.Get("result_total." + path); total.Exists() {
		sub.Total = client.IntPtr(int(total.Int()))
	}
	if next := payload.Get("result_next." + path); next.Exists() {
		sub.Next = client.IntPtr(int(next.Int()))
	}
	if timing := payload.Get("result_time." + path); timing.IsObject() {
		if err := json.Unmarshal([]byte(timing.Raw), &sub.Time); err != nil {
			return nil, fmt.Errorf("%w: result_time of %q: %v", errMalformedPayload, key, err)
		}
	}
	return sub, nil
}
