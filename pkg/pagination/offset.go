package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// OffsetConfig configures an OffsetTraverser.
type OffsetConfig struct {
	// ResultPath is the gjson path of the item array inside the result.
	ResultPath string `yaml:"result_path"`

	// PageSize is the portal's fixed page size.
	PageSize int `yaml:"page_size" default:"50" validate:"min=1"`

	// PagesPerBatch is the number of page requests sent per batch request.
	PagesPerBatch int `yaml:"pages_per_batch" default:"50" validate:"min=1,max=50"`
}

// OffsetTraverser streams list items page by page using the row count.
type OffsetTraverser struct {
	transport Transport
	exec      Executor
	config    OffsetConfig
	logger    zerolog.Logger
}

// NewOffsetTraverser creates an offset traverser. The first page goes
// through transport, the remaining pages through exec.
func NewOffsetTraverser(transport Transport, exec Executor, cfg OffsetConfig, logger zerolog.Logger) (*OffsetTraverser, error) {
	if transport == nil || exec == nil {
		return nil, fmt.Errorf("transport and executor are required")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply traverser defaults: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid traverser config: %w", err)
	}
	return &OffsetTraverser{
		transport: transport,
		exec:      exec,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Traverse returns the items of method matching q in the order the portal
// lists them. Any order is accepted. A failing page ends the sequence with
// the portal's *client.APIError.
func (o *OffsetTraverser) Traverse(ctx context.Context, method string, q ListQuery) (iter.Seq2[json.RawMessage, error], error) {
	if method == "" {
		return nil, &batch.InvalidArgumentError{Index: -1, Type: "string", Reason: "method is required"}
	}
	if q.Limit < 0 {
		return nil, &batch.InvalidArgumentError{Method: method, Index: -1, Type: "int", Reason: "limit must not be negative"}
	}

	return func(yield func(json.RawMessage, error) bool) {
		start := time.Now()
		yielded := 0
		log := o.logger.With().Str("method", method).Logger()

		// emit yields one page; false means stop.
		emit := func(result json.RawMessage) (bool, error) {
			items, ok := pageItems(result, o.config.ResultPath)
			if !ok {
				return false, &batch.BaseError{Method: method, Index: -1, Err: fmt.Errorf("list result is not an array")}
			}
			for _, item := range items {
				yielded++
				b24TraversalItemsTotal.WithLabelValues(method).Inc()
				if !yield(json.RawMessage(item.Raw), nil) {
					return false, nil
				}
				if q.Limit > 0 && yielded >= q.Limit {
					return false, nil
				}
			}
			return true, nil
		}

		// Fetch first page to learn the total
		resp, err := o.transport.Call(ctx, method, listParams(q.Order, cloneFilter(q.Filter), q.Select, 0))
		if err != nil {
			yield(nil, err)
			return
		}
		b24TraversalRequestsTotal.WithLabelValues(method, "count").Inc()

		total := 0
		if resp.Total != nil {
			total = *resp.Total
		}
		wanted := total
		if q.Limit > 0 {
			wanted = min(total, q.Limit)
		}

		log.Info().Int("total", total).Msg("Starting offset traversal")

		more, err := emit(resp.Result)
		if err != nil {
			yield(nil, err)
			return
		}
		if !more {
			return
		}

		var offsets []int
		for offset := o.config.PageSize; offset < wanted; offset += o.config.PageSize {
			offsets = append(offsets, offset)
		}

		for _, chunk := range lo.Chunk(offsets, o.config.PagesPerBatch) {
			cc := batch.NewCommandCollection(o.config.PagesPerBatch)
			for _, offset := range chunk {
				params := listParams(q.Order, cloneFilter(q.Filter), q.Select, offset)
				if err := cc.Add(batch.NewCommand(strconv.Itoa(offset), method, params)); err != nil {
					yield(nil, &batch.BaseError{Method: method, Index: -1, Err: err})
					return
				}
			}

			results, err := o.exec.Execute(ctx, cc)
			if err != nil {
				log.Error().Err(err).Int("offset", chunk[0]).Msg("Page batch failed")
				yield(nil, err)
				return
			}
			b24TraversalRequestsTotal.WithLabelValues(method, "batch").Inc()

			for _, r := range results {
				if err := r.Err(); err != nil {
					log.Error().Err(err).Str("offset", r.Key).Msg("Page request failed")
					yield(nil, err)
					return
				}
				more, err := emit(r.Response.Result)
				if err != nil {
					yield(nil, err)
					return
				}
				if !more {
					return
				}
			}

			log.Debug().
				Int("fetched", yielded).
				Int("total", total).
				Float64("progress_pct", float64(yielded)/float64(max(total, 1))*100).
				Msg("Traversal progress")
		}

		log.Info().
			Int("items", yielded).
			Dur("duration", time.Since(start)).
			Msg("Offset traversal finished")
	}, nil
}
