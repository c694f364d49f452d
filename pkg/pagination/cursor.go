package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// ErrCursorStalled is returned when a page does not move the cursor forward.
var ErrCursorStalled = errors.New("cursor did not advance")

// CursorConfig configures a Traverser.
type CursorConfig struct {
	// IDField is the identifier field used for ordering and filtering.
	IDField string `yaml:"id_field" default:"ID" validate:"required"`

	// ItemIDField is the key of the identifier inside result items. It
	// defaults to IDField; tasks.task.list filters on ID but returns id.
	ItemIDField string `yaml:"item_id_field"`

	// ResultPath is the gjson path of the item array inside the result,
	// e.g. "tasks" for tasks.task.list. Empty means the result itself.
	ResultPath string `yaml:"result_path"`

	// PageSize is the portal's fixed page size.
	PageSize int `yaml:"page_size" default:"50" validate:"min=1"`
}

// Traverser streams list items ordered by ascending ID.
type Traverser struct {
	transport Transport
	config    CursorConfig
	logger    zerolog.Logger
}

// NewTraverser creates a cursor traverser. Zero config fields take their defaults.
func NewTraverser(transport Transport, cfg CursorConfig, logger zerolog.Logger) (*Traverser, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply traverser defaults: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid traverser config: %w", err)
	}
	if cfg.ItemIDField == "" {
		cfg.ItemIDField = cfg.IDField
	}
	return &Traverser{
		transport: transport,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Traverse returns every item of method matching q, each exactly once.
//
// Invalid queries are rejected with *batch.InvalidArgumentError before any
// request. Transport errors end the sequence and are yielded unchanged.
// Items deleted during the scan are skipped; items created after the first
// probes are outside the scanned ID window.
func (t *Traverser) Traverse(ctx context.Context, method string, q ListQuery) (iter.Seq2[json.RawMessage, error], error) {
	if err := t.validate(method, q); err != nil {
		return nil, err
	}

	return func(yield func(json.RawMessage, error) bool) {
		start := time.Now()
		idField := t.config.IDField
		yielded, pages := 0, 0
		log := t.logger.With().Str("method", method).Logger()

		defer func() {
			log.Info().
				Int("items", yielded).
				Int("pages", pages).
				Dur("duration", time.Since(start)).
				Msg("Traversal finished")
		}()

		firstID, found, err := t.probe(ctx, method, q.Filter, "ASC")
		if err != nil || !found {
			if err != nil {
				yield(nil, err)
			}
			return
		}
		lastID, found, err := t.probe(ctx, method, q.Filter, "DESC")
		if err != nil || !found {
			if err != nil {
				yield(nil, err)
			}
			return
		}

		log.Debug().Int64("first_id", firstID).Int64("last_id", lastID).Msg("Traversal window")

		var fields []string
		if len(q.Select) > 0 {
			fields = append(append(fields, q.Select...), idField)
		}
		order := client.Ordered{{Key: idField, Value: "ASC"}}

		current := firstID
		first := true
		for {
			filter := cloneFilter(q.Filter)
			if first {
				filter[">="+idField] = firstID
			} else {
				filter[">"+idField] = current
			}
			filter["<="+idField] = lastID

			resp, err := t.transport.Call(ctx, method, listParams(order, filter, fields, -1))
			if err != nil {
				log.Error().Err(err).Int64("cursor", current).Msg("Page request failed")
				yield(nil, err)
				return
			}
			pages++
			b24TraversalRequestsTotal.WithLabelValues(method, "page").Inc()

			items, ok := pageItems(resp.Result, t.config.ResultPath)
			if !ok {
				yield(nil, &batch.BaseError{Method: method, Index: -1, Err: fmt.Errorf("list result is not an array")})
				return
			}
			if len(items) == 0 {
				// the rest of the window was deleted mid-scan
				return
			}

			pageLast := current
			for _, item := range items {
				id := item.Get(gjson.Escape(t.config.ItemIDField))
				if !isNumeric(id) {
					yield(nil, &batch.BaseError{Method: method, Index: yielded, Err: fmt.Errorf("item has no numeric %s", t.config.ItemIDField)})
					return
				}
				pageLast = id.Int()

				yielded++
				b24TraversalItemsTotal.WithLabelValues(method).Inc()
				if !yield(json.RawMessage(item.Raw), nil) {
					return
				}
				if q.Limit > 0 && yielded >= q.Limit {
					return
				}
			}

			if pageLast < current || (!first && pageLast == current) {
				yield(nil, &batch.BaseError{Method: method, Index: -1, Err: fmt.Errorf("%w: %s stayed at %d", ErrCursorStalled, idField, current)})
				return
			}
			log.Debug().Int64("cursor", pageLast).Int("items", len(items)).Msg("Page fetched")

			current = pageLast
			first = false
			if current >= lastID {
				return
			}
		}
	}, nil
}

// probe returns the first ID of the list sorted by ID in direction dir.
func (t *Traverser) probe(ctx context.Context, method string, filter map[string]any, dir string) (int64, bool, error) {
	idField := t.config.IDField
	order := client.Ordered{{Key: idField, Value: dir}}

	resp, err := t.transport.Call(ctx, method, listParams(order, cloneFilter(filter), []string{idField}, 0))
	if err != nil {
		return 0, false, err
	}
	b24TraversalRequestsTotal.WithLabelValues(method, "probe").Inc()

	items, ok := pageItems(resp.Result, t.config.ResultPath)
	if !ok {
		return 0, false, &batch.BaseError{Method: method, Index: -1, Err: fmt.Errorf("list result is not an array")}
	}
	if len(items) == 0 {
		t.logger.Debug().Str("method", method).Str("order", dir).Msg("Probe found no items")
		return 0, false, nil
	}

	id := items[0].Get(gjson.Escape(t.config.ItemIDField))
	if !isNumeric(id) {
		return 0, false, &batch.BaseError{Method: method, Index: -1, Err: fmt.Errorf("boundary item has no numeric %s", t.config.ItemIDField)}
	}
	return id.Int(), true, nil
}

func (t *Traverser) validate(method string, q ListQuery) error {
	invalid := func(typ, reason string) error {
		return &batch.InvalidArgumentError{Method: method, Index: -1, Type: typ, Reason: reason}
	}
	if method == "" {
		return invalid("string", "method is required")
	}
	if q.Limit < 0 {
		return invalid("int", "limit must not be negative")
	}
	switch len(q.Order) {
	case 0:
	case 1:
		kv := q.Order[0]
		dir, _ := kv.Value.(string)
		if kv.Key != t.config.IDField || !strings.EqualFold(dir, "ASC") {
			return invalid(fmt.Sprintf("%T", q.Order), fmt.Sprintf("order must be %s ascending", t.config.IDField))
		}
	default:
		return invalid(fmt.Sprintf("%T", q.Order), fmt.Sprintf("order must be %s ascending", t.config.IDField))
	}
	return nil
}

// isNumeric accepts JSON numbers and numeric strings, the portal returns both.
func isNumeric(v gjson.Result) bool {
	switch v.Type {
	case gjson.Number:
		return true
	case gjson.String:
		s := v.String()
		if s == "" {
			return false
		}
		for _, c := range s {
			if c < '0' || c > '9' {
				return false
			}
		}
		return true
	}
	return false
}
