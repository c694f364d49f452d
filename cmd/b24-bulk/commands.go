package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/entity"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/logging"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// errUsage reports a malformed command line.
var errUsage = errors.New("usage")

// maxLineSize bounds one stdin record.
const maxLineSize = 4 << 20

// resultLine is printed for every item of add, update and delete.
type resultLine struct {
	Index int    `json:"index"`
	ID    int64  `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// updateLine is one stdin record of the update command.
type updateLine struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
	Params map[string]any `json:"params,omitempty"`
}

// filterFlag collects repeated -filter KEY=VALUE flags.
type filterFlag map[string]any

func (f filterFlag) String() string {
	return fmt.Sprint(map[string]any(f))
}

func (f filterFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("filter %q is not KEY=VALUE", v)
	}
	f[key] = value
	return nil
}

// runner holds what every command needs.
type runner struct {
	transport *client.Client
	exec      *batch.Executor
	logger    zerolog.Logger
	in        io.Reader
	out       io.Writer
}

// run executes the command named by args[0].
func run(ctx context.Context, cfg Config, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	clientCfg := client.DefaultConfig(cfg.WebhookURL)
	clientCfg.Timeout = cfg.Timeout
	clientCfg.MaxRetries = cfg.MaxRetries
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		clientCfg.Redis = rdb
	}

	c, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	e := &runner{
		transport: c,
		exec:      batch.NewExecutor(c, logging.NewLogger("batch")),
		logger:    logging.NewLogger("b24-bulk"),
		in:        in,
		out:       out,
	}

	switch args[0] {
	case "export":
		return e.export(ctx, args[1:])
	case "add":
		return e.add(ctx, args[1:])
	case "update":
		return e.update(ctx, args[1:])
	case "delete":
		return e.delete(ctx, args[1:])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func (e *runner) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	method := fs.String("method", "", "list method, e.g. crm.deal.list")
	filter := filterFlag{}
	fs.Var(filter, "filter", "KEY=VALUE filter, repeatable")
	fields := fs.String("select", "", "comma-separated fields")
	limit := fs.Int("limit", 0, "stop after N items")
	offset := fs.Bool("offset", false, "page by offset with batched requests instead of by ID")
	resultPath := fs.String("result-path", "", "path of the item array inside the result, e.g. tasks")
	itemID := fs.String("item-id", "", "identifier key inside result items when it differs from ID, e.g. id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	q := pagination.ListQuery{
		Filter: filter,
		Limit:  *limit,
	}
	if *fields != "" {
		q.Select = lo.Map(strings.Split(*fields, ","), func(s string, _ int) string { return strings.TrimSpace(s) })
	}

	var seq iter.Seq2[json.RawMessage, error]
	if *offset {
		t, err := pagination.NewOffsetTraverser(e.transport, e.exec, pagination.OffsetConfig{ResultPath: *resultPath}, logging.NewLogger("pagination"))
		if err != nil {
			return err
		}
		if seq, err = t.Traverse(ctx, *method, q); err != nil {
			return err
		}
	} else {
		t, err := pagination.NewTraverser(e.transport, pagination.CursorConfig{ResultPath: *resultPath, ItemIDField: *itemID}, logging.NewLogger("pagination"))
		if err != nil {
			return err
		}
		if seq, err = t.Traverse(ctx, *method, q); err != nil {
			return err
		}
	}

	w := bufio.NewWriter(e.out)
	defer w.Flush()
	count := 0
	for item, err := range seq {
		if err != nil {
			return err
		}
		w.Write(item)
		w.WriteByte('\n')
		count++
	}
	e.logger.Info().Str("method", *method).Int("items", count).Msg("Export finished")
	return w.Flush()
}

func (e *runner) adapter(fs *flag.FlagSet, args []string) (*entity.Adapter, string, error) {
	method := fs.String("method", "", "REST method, e.g. crm.deal.add")
	task := fs.Bool("task", false, "use the tasks.task.* parameter names")
	if err := fs.Parse(args); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg := entity.DefaultConfig()
	if *task {
		cfg = entity.TaskConfig()
	}
	a, err := entity.NewAdapter(e.exec, cfg, logging.NewLogger("entity"))
	return a, *method, err
}

func (e *runner) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	a, method, err := e.adapter(fs, args)
	if err != nil {
		return err
	}

	var items []map[string]any
	if err := readLines(e.in, func(line []byte) error {
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			return err
		}
		items = append(items, fields)
		return nil
	}); err != nil {
		return err
	}

	seq, err := a.AddEntityItems(ctx, method, items, nil)
	if err != nil {
		return err
	}
	return writeResults(e.out, seq, func(r entity.AddedItemResult) resultLine {
		return toLine(r.ItemResult, r.Err() == nil)
	})
}

func (e *runner) update(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	a, method, err := e.adapter(fs, args)
	if err != nil {
		return err
	}

	var items []entity.UpdateItem
	if err := readLines(e.in, func(line []byte) error {
		var u updateLine
		if err := json.Unmarshal(line, &u); err != nil {
			return err
		}
		items = append(items, entity.UpdateItem{ID: u.ID, Fields: u.Fields, Params: u.Params})
		return nil
	}); err != nil {
		return err
	}

	seq, err := a.UpdateEntityItems(ctx, method, items, nil)
	if err != nil {
		return err
	}
	return writeResults(e.out, seq, func(r entity.UpdatedItemResult) resultLine {
		return toLine(r.ItemResult, r.Updated)
	})
}

func (e *runner) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	a, method, err := e.adapter(fs, args)
	if err != nil {
		return err
	}

	var ids []any
	if err := readLines(e.in, func(line []byte) error {
		id, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}); err != nil {
		return err
	}

	seq, err := a.DeleteEntityItems(ctx, method, ids, nil)
	if err != nil {
		return err
	}
	return writeResults(e.out, seq, func(r entity.DeletedItemResult) resultLine {
		return toLine(r.ItemResult, r.Deleted)
	})
}

// readLines calls fn for every non-blank line of r.
func readLines(r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		line := []byte(strings.TrimSpace(scanner.Text()))
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("input line %d: %w", n, err)
		}
	}
	return scanner.Err()
}

func toLine(r entity.ItemResult, ok bool) resultLine {
	out := resultLine{Index: r.Index, ID: r.ID, OK: ok}
	if err := r.Err(); err != nil {
		out.OK = false
		out.Error = err.Error()
	}
	return out
}

func writeResults[T any](out io.Writer, seq iter.Seq2[T, error], convert func(T) resultLine) error {
	enc := json.NewEncoder(out)
	for r, err := range seq {
		if err != nil {
			return err
		}
		if err := enc.Encode(convert(r)); err != nil {
			return err
		}
	}
	return nil
}
