package pagination

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for list traversal.
var (
	b24TraversalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_traversal_requests_total",
		Help: "Total list requests issued by traversals by method and kind",
	}, []string{"method", "kind"})

	b24TraversalItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_traversal_items_total",
		Help: "Total items yielded by traversals by method",
	}, []string{"method"})
)

// Transport performs a single REST call. *client.Client implements it.
type Transport interface {
	Call(ctx context.Context, method string, params map[string]any) (*client.Response, error)
}

// Executor runs one command collection as a single batch request.
type Executor interface {
	Execute(ctx context.Context, cc *batch.CommandCollection) ([]batch.Result, error)
}

// ListQuery selects the items to traverse.
type ListQuery struct {
	// Order is the sort order. The cursor traversal only accepts an
	// empty order or ascending ID.
	Order client.Ordered
	// Filter is passed through to the list method.
	Filter map[string]any
	// Select lists the fields to return; empty means the method's default set.
	Select []string
	// Limit stops the traversal after this many items; 0 means no limit.
	Limit int
}

// listParams builds the parameters of one list request.
func listParams(order client.Ordered, filter map[string]any, fields []string, start int) map[string]any {
	params := map[string]any{
		"filter": filter,
		"start":  start,
	}
	if len(order) > 0 {
		params["order"] = order
	}
	if len(fields) > 0 {
		params["select"] = lo.Uniq(fields)
	}
	return params
}

func cloneFilter(filter map[string]any) map[string]any {
	if filter == nil {
		return make(map[string]any)
	}
	return maps.Clone(filter)
}

// pageItems returns the items of a list result, located at path inside it.
// ok is false when the result is not an array.
func pageItems(result json.RawMessage, path string) ([]gjson.Result, bool) {
	node := gjson.ParseBytes(result)
	if path != "" {
		node = node.Get(path)
	}
	if !node.IsArray() {
		// an empty list is sometimes rendered as an empty object
		if node.IsObject() && len(node.Map()) == 0 {
			return nil, true
		}
		return nil, false
	}
	return node.Array(), true
}
