package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Call is one request received by the fake transport.
type Call struct {
	Method string
	// Params is the form-decoded request, as the portal would see it.
	Params map[string]any
	// Commands lists the methods of a batch request in wire order.
	Commands []string
}

// FakeTransport is an in-memory portal implementing the transport the engine
// consumes. Entities are created on first use, keyed by method prefix
// ("crm.deal" for crm.deal.list). Methods under tasks.task.* answer in the
// task API shape: taskId parameter, {"task": {...}} add result, {"tasks": [...]}
// list result.
type FakeTransport struct {
	mu     sync.Mutex
	stores map[string]*Store
	calls  []Call

	// ReverseBatch makes batch responses list sub-results in reverse order.
	ReverseBatch bool

	// DropKeys omits the sub-results of these batch keys entirely.
	DropKeys []string

	// Err, when set, is consulted before each call; a non-nil error is
	// returned as the transport failure.
	Err func(method string) error
}

// NewFakeTransport creates an empty portal.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{stores: make(map[string]*Store)}
}

// Store returns the store of entity, creating it if needed.
func (f *FakeTransport) Store(entity string) *Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store(entity)
}

func (f *FakeTransport) store(entity string) *Store {
	s, ok := f.stores[entity]
	if !ok {
		s = NewStore()
		f.stores[entity] = s
	}
	return s
}

// Calls returns the received calls in order.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns the number of received calls.
func (f *FakeTransport) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ResetCalls forgets the recorded calls.
func (f *FakeTransport) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Call implements the transport contract of the engine.
func (f *FakeTransport) Call(ctx context.Context, method string, params map[string]any) (*client.Response, error) {
	raw, err := client.EncodeQuery(params)
	if err != nil {
		return nil, err
	}
	return f.CallRaw(ctx, method, raw)
}

// CallRaw serves a call whose parameters are an encoded form body.
func (f *FakeTransport) CallRaw(ctx context.Context, method, raw string) (*client.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params, err := client.DecodeQuery(raw)
	if err != nil {
		return nil, err
	}

	call := Call{Method: method, Params: params}
	var commands []batchCommand
	if method == "batch" {
		commands, err = parseBatchCommands(raw)
		if err != nil {
			return nil, err
		}
		call.Commands = lo.Map(commands, func(c batchCommand, _ int) string { return c.method })
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.Err != nil {
		if err := f.Err(method); err != nil {
			return nil, err
		}
	}

	if method == "batch" {
		return f.batch(commands)
	}

	sub, apiErr := f.dispatch(method, params)
	if apiErr != nil {
		return nil, apiErr
	}
	return &client.Response{Result: sub.result, Total: sub.total, Next: sub.next}, nil
}

type subResult struct {
	result json.RawMessage
	total  *int
	next   *int
}

type batchCommand struct {
	key    string
	method string
	params map[string]any
}

// parseBatchCommands reads cmd[<key>] entries in wire order.
func parseBatchCommands(raw string) ([]batchCommand, error) {
	var commands []batchCommand
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(key, "cmd[") || !strings.HasSuffix(key, "]") {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, err
		}
		method, query, _ := strings.Cut(value, "?")
		params, err := client.DecodeQuery(query)
		if err != nil {
			return nil, err
		}
		commands = append(commands, batchCommand{
			key:    key[len("cmd[") : len(key)-1],
			method: method,
			params: params,
		})
	}
	return commands, nil
}

// section is an ordered keyed JSON object; rendered as an array when the keys
// are 0..n-1 in order, the way the portal serialises sequential keys.
type section struct {
	keys   []string
	values []json.RawMessage
}

func (s *section) add(key string, value json.RawMessage) {
	s.keys = append(s.keys, key)
	s.values = append(s.values, value)
}

func (s *section) render(buf *bytes.Buffer) {
	sequential := true
	for i, k := range s.keys {
		if k != strconv.Itoa(i) {
			sequential = false
			break
		}
	}
	if sequential {
		buf.WriteByte('[')
		for i, v := range s.values {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(v)
		}
		buf.WriteByte(']')
		return
	}
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(k)
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(s.values[i])
	}
	buf.WriteByte('}')
}

func (f *FakeTransport) batch(commands []batchCommand) (*client.Response, error) {
	if len(commands) > 50 {
		return nil, &client.APIError{Code: "ERROR_BATCH_LENGTH_EXCEEDED", Description: "Max batch length exceeded"}
	}

	order := slices.Clone(commands)
	if f.ReverseBatch {
		slices.Reverse(order)
	}

	var results, errs, totals, nexts, times section
	for _, c := range order {
		if lo.Contains(f.DropKeys, c.key) {
			continue
		}
		sub, apiErr := f.dispatch(c.method, c.params)
		if apiErr != nil {
			payload, _ := json.Marshal(apiErr)
			errs.add(c.key, payload)
			continue
		}
		results.add(c.key, sub.result)
		if sub.total != nil {
			totals.add(c.key, json.RawMessage(strconv.Itoa(*sub.total)))
		}
		if sub.next != nil {
			nexts.add(c.key, json.RawMessage(strconv.Itoa(*sub.next)))
		}
		times.add(c.key, json.RawMessage(`{"start":0,"finish":0.01,"duration":0.01,"processing":0.01}`))
	}

	var buf bytes.Buffer
	buf.WriteString(`{"result":`)
	results.render(&buf)
	buf.WriteString(`,"result_error":`)
	errs.render(&buf)
	buf.WriteString(`,"result_total":`)
	totals.render(&buf)
	buf.WriteString(`,"result_next":`)
	nexts.render(&buf)
	buf.WriteString(`,"result_time":`)
	times.render(&buf)
	buf.WriteByte('}')

	return &client.Response{Result: buf.Bytes()}, nil
}

func (f *FakeTransport) dispatch(method string, params map[string]any) (subResult, *client.APIError) {
	cut := strings.LastIndexByte(method, '.')
	if cut <= 0 {
		return subResult{}, methodNotFound(method)
	}
	entity, action := method[:cut], method[cut+1:]
	tasks := entity == "tasks.task"
	s := f.Store(entity)

	switch action {
	case "list":
		page := s.List(ListRequest{
			Filter: asMap(params["filter"]),
			Order:  asMap(params["order"]),
			Select: asList(params["select"]),
			Start:  cast.ToInt(params["start"]),
		})
		var result any = page.Items
		if page.Items == nil {
			result = []Item{}
		}
		if tasks {
			result = map[string]any{"tasks": lo.Map(page.Items, func(item Item, _ int) map[string]any { return taskView(item) })}
		}
		return subResult{result: mustJSON(result), total: page.Total, next: page.Next}, nil

	case "add":
		fields := asMap(lookup(params, "fields", "FIELDS"))
		if len(fields) == 0 {
			return subResult{}, &client.APIError{Code: "ERROR_CORE", Description: "No fields to add"}
		}
		id := s.Add(fields)
		if tasks {
			item, _ := s.Get(id)
			return subResult{result: mustJSON(map[string]any{"task": taskView(item)})}, nil
		}
		return subResult{result: mustJSON(id)}, nil

	case "update":
		id, ok := idParam(params)
		if !ok {
			return subResult{}, &client.APIError{Code: "ERROR_CORE", Description: "ID is not defined or invalid"}
		}
		if !s.Update(id, asMap(lookup(params, "fields", "FIELDS"))) {
			return subResult{}, notFound(id)
		}
		return subResult{result: json.RawMessage("true")}, nil

	case "delete":
		id, ok := idParam(params)
		if !ok {
			return subResult{}, &client.APIError{Code: "ERROR_CORE", Description: "ID is not defined or invalid"}
		}
		if !s.Delete(id) {
			return subResult{}, notFound(id)
		}
		return subResult{result: json.RawMessage("true")}, nil

	case "get":
		id, ok := idParam(params)
		if !ok {
			return subResult{}, &client.APIError{Code: "ERROR_CORE", Description: "ID is not defined or invalid"}
		}
		item, found := s.Get(id)
		if !found {
			return subResult{}, notFound(id)
		}
		return subResult{result: mustJSON(item)}, nil
	}

	return subResult{}, methodNotFound(method)
}

func methodNotFound(method string) *client.APIError {
	return &client.APIError{Code: client.CodeMethodNotFound, Description: fmt.Sprintf("Method %s not found!", method)}
}

func notFound(id int64) *client.APIError {
	return &client.APIError{Code: client.CodeNotFound, Description: fmt.Sprintf("Not found: %d", id)}
}

func idParam(params map[string]any) (int64, bool) {
	raw := lookup(params, "ID", "id", "taskId")
	id, err := cast.ToInt64E(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func lookup(params map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asList flattens a decoded list ({"0": "ID", "1": "TITLE"}) in index order.
func asList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		keys := lo.Keys(t)
		sort.Slice(keys, func(a, b int) bool { return cast.ToInt(keys[a]) < cast.ToInt(keys[b]) })
		return lo.Map(keys, func(k string, _ int) string { return cast.ToString(t[k]) })
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal %T: %v", v, err))
	}
	return data
}

// taskView renders a stored item the way the task API does: the identifier
// travels as a lowercase string "id".
func taskView(item Item) map[string]any {
	task := make(map[string]any, len(item))
	for k, v := range item {
		if k == "ID" {
			task["id"] = strconv.FormatInt(item.ID(), 10)
			continue
		}
		task[k] = v
	}
	return task
}
