package entity

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/logging"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrSequenceConsumed is yielded when a result sequence is ranged over twice.
var ErrSequenceConsumed = errors.New("sequence already consumed")

// Executor runs one command collection as a single batch request.
// *batch.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, cc *batch.CommandCollection) ([]batch.Result, error)
}

// UpdateItem is one entity to update.
type UpdateItem struct {
	ID     any
	Fields map[string]any
	// Params is sent as the "params" argument when non-nil.
	Params map[string]any
}

// Adapter performs bulk operations on one kind of entity.
type Adapter struct {
	exec   Executor
	config Config
	logger zerolog.Logger
}

// NewAdapter creates an adapter. Zero config fields take their defaults.
func NewAdapter(exec Executor, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply adapter defaults: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid adapter config: %w", err)
	}
	return &Adapter{
		exec:   exec,
		config: cfg,
		logger: logger,
	}, nil
}

// Config returns the effective adapter configuration.
func (a *Adapter) Config() Config {
	return a.config
}

// AddEntityItems creates every item with method (e.g. crm.deal.add).
// Each item is sent as the fields parameter, merged with extra.
func (a *Adapter) AddEntityItems(ctx context.Context, method string, items []map[string]any, extra map[string]any) (iter.Seq2[AddedItemResult, error], error) {
	log := a.begin(method, len(items))

	if err := checkMethod(method); err != nil {
		return nil, a.reject(log, err)
	}
	commands := make([]batch.Command, 0, len(items))
	for i, fields := range items {
		if err := checkFields(method, i, fields); err != nil {
			return nil, a.reject(log, err)
		}
		params := merge(extra, map[string]any{a.config.FieldsParam: fields})
		commands = append(commands, batch.NewCommand(strconv.Itoa(i), method, params))
	}

	return stream(ctx, a, log, method, commands, func(base ItemResult) AddedItemResult {
		base.ID = createdID(base.Response, a.config.ResultIDPath)
		return AddedItemResult{ItemResult: base}
	}), nil
}

// UpdateEntityItems updates every item with method (e.g. crm.deal.update).
func (a *Adapter) UpdateEntityItems(ctx context.Context, method string, items []UpdateItem, extra map[string]any) (iter.Seq2[UpdatedItemResult, error], error) {
	log := a.begin(method, len(items))

	if err := checkMethod(method); err != nil {
		return nil, a.reject(log, err)
	}
	ids := make([]int64, len(items))
	commands := make([]batch.Command, 0, len(items))
	for i, item := range items {
		id, err := checkID(method, i, item.ID)
		if err != nil {
			return nil, a.reject(log, err)
		}
		if err := checkFields(method, i, item.Fields); err != nil {
			return nil, a.reject(log, err)
		}
		ids[i] = id
		params := map[string]any{
			a.config.IDParam:     id,
			a.config.FieldsParam: item.Fields,
		}
		if item.Params != nil {
			params["params"] = item.Params
		}
		commands = append(commands, batch.NewCommand(strconv.Itoa(i), method, merge(extra, params)))
	}

	return stream(ctx, a, log, method, commands, func(base ItemResult) UpdatedItemResult {
		base.ID = ids[base.Index]
		return UpdatedItemResult{ItemResult: base, Updated: succeeded(base.Response)}
	}), nil
}

// DeleteEntityItems deletes every identifier with method (e.g. crm.deal.delete).
func (a *Adapter) DeleteEntityItems(ctx context.Context, method string, ids []any, extra map[string]any) (iter.Seq2[DeletedItemResult, error], error) {
	log := a.begin(method, len(ids))

	if err := checkMethod(method); err != nil {
		return nil, a.reject(log, err)
	}
	normalized := make([]int64, len(ids))
	commands := make([]batch.Command, 0, len(ids))
	for i, raw := range ids {
		id, err := checkID(method, i, raw)
		if err != nil {
			return nil, a.reject(log, err)
		}
		normalized[i] = id
		params := merge(extra, map[string]any{a.config.IDParam: id})
		commands = append(commands, batch.NewCommand(strconv.Itoa(i), method, params))
	}

	return stream(ctx, a, log, method, commands, func(base ItemResult) DeletedItemResult {
		base.ID = normalized[base.Index]
		return DeletedItemResult{ItemResult: base, Deleted: succeeded(base.Response)}
	}), nil
}

// begin logs the start of an operation and returns its scoped logger.
func (a *Adapter) begin(method string, items int) zerolog.Logger {
	log := logging.ForOperation(a.logger, uuid.NewString(), method)
	log.Info().Int("items", items).Msg("Bulk operation started")
	return log
}

// reject logs a validation failure and returns it unchanged.
func (a *Adapter) reject(log zerolog.Logger, err error) error {
	ev := log.Error().Err(err)
	if inv, ok := err.(*batch.InvalidArgumentError); ok {
		ev = ev.Int("index", inv.Index)
	}
	ev.Msg("Bulk operation rejected")
	log.Info().Int("yielded", 0).Msg("Bulk operation finished")
	return err
}

// stream executes commands chunk by chunk as the caller pulls results.
// The sequence runs once; ranging over it again yields ErrSequenceConsumed.
func stream[T any](ctx context.Context, a *Adapter, log zerolog.Logger, method string, commands []batch.Command, wrap func(ItemResult) T) iter.Seq2[T, error] {
	size := a.config.MaxBatchSize
	var used atomic.Bool

	return func(yield func(T, error) bool) {
		var zero T
		if used.Swap(true) {
			log.Error().Msg("Bulk operation sequence already consumed")
			yield(zero, &batch.BaseError{Method: method, Index: -1, Err: ErrSequenceConsumed})
			return
		}

		start := time.Now()
		yielded := 0
		finished := false
		finish := func() {
			if finished {
				return
			}
			finished = true
			log.Info().
				Int("items", len(commands)).
				Int("yielded", yielded).
				Dur("duration", time.Since(start)).
				Msg("Bulk operation finished")
		}
		defer finish()

		for n, chunk := range lo.Chunk(commands, size) {
			offset := n * size

			cc := batch.NewCommandCollection(size)
			for i, c := range chunk {
				if err := cc.Add(c); err != nil {
					wrapped := &batch.BaseError{Method: method, Index: offset + i, Err: err}
					log.Error().Err(err).Int("index", offset+i).Msg("Failed to register command")
					finish()
					yield(zero, wrapped)
					return
				}
			}

			results, err := a.exec.Execute(ctx, cc)
			if err != nil {
				log.Error().Err(err).Int("index", offset).Msg("Bulk operation failed")
				finish()
				yield(zero, err)
				return
			}

			for i, r := range results {
				base := ItemResult{Index: offset + i, Response: r.Response}
				if err := r.Err(); err != nil {
					log.Debug().Err(err).Int("index", base.Index).Msg("Item failed")
				}
				yielded++
				if !yield(wrap(base), nil) {
					return
				}
			}
		}
	}
}

// merge returns extra overlaid with params.
func merge(extra, params map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(params))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

func checkMethod(method string) error {
	if method == "" {
		return &batch.InvalidArgumentError{Index: -1, Reason: "method is required"}
	}
	return nil
}

// checkID accepts any Go integer kind greater than zero.
func checkID(method string, index int, v any) (int64, error) {
	invalid := func(reason string) error {
		return &batch.InvalidArgumentError{
			Method: method,
			Index:  index,
			Type:   fmt.Sprintf("%T", v),
			Reason: reason,
		}
	}

	if v == nil {
		return 0, invalid("identifier must be an integer")
	}
	rv := reflect.ValueOf(v)
	var id int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		id = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return 0, invalid("identifier out of range")
		}
		id = int64(u)
	default:
		return 0, invalid("identifier must be an integer")
	}
	if id <= 0 {
		return 0, invalid("identifier must be positive")
	}
	return id, nil
}

func checkFields(method string, index int, fields map[string]any) error {
	if len(fields) == 0 {
		reason := "fields must not be empty"
		if fields == nil {
			reason = "fields must not be nil"
		}
		return &batch.InvalidArgumentError{
			Method: method,
			Index:  index,
			Type:   fmt.Sprintf("%T", fields),
			Reason: reason,
		}
	}
	return nil
}
