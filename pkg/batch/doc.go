// Package batch groups REST calls into a single physical "batch" request and
// hands back one Result per registered command.
//
// A CommandCollection buffers at most MaxBatchSize commands. The Executor
// sends the collection as
//
//	batch {halt: 0, cmd: {<key>: "<method>?<query>", ...}}
//
// and re-associates the keyed sub-results with their commands. Results come
// back in registration order whatever order or shape (object or array) the
// portal used. A failing sub-command is data, not an error: it shows up as a
// Result whose Err() is the portal's *client.APIError.
//
// Usage:
//
//	cc := batch.NewCommandCollection(batch.MaxBatchSize)
//	_ = cc.Add(batch.NewCommand("0", "crm.deal.get", map[string]any{"ID": 1}))
//	results, err := batch.NewExecutor(c, logger).Execute(ctx, cc)
package batch
