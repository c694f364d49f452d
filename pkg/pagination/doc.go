// Package pagination streams every item of a REST list method.
//
// Traverser walks the list by identifier instead of by offset. Two probes find
// the smallest and largest matching ID, then pages are requested with
// start=-1 (no row count) and a moving ">ID" filter:
//
//	filter[>=ID]=<first>&filter[<=ID]=<last>&order[ID]=ASC&start=-1
//	filter[>ID]=<cursor>&filter[<=ID]=<last>&order[ID]=ASC&start=-1
//	...
//
// Pages never count rows. The <=ID bound limits the scan to the rows that
// existed when it started.
//
// OffsetTraverser is the alternative for small and medium lists: one counted
// request learns the total, the remaining pages are requested up to 50 at a
// time through a batch request.
//
// Both return lazy sequences; stopping the iteration stops the requests.
//
//	tr, _ := pagination.NewTraverser(c, pagination.CursorConfig{}, logger)
//	items, err := tr.Traverse(ctx, "crm.deal.list", pagination.ListQuery{
//		Filter: map[string]any{"STAGE_ID": "WON"},
//		Select: []string{"ID", "TITLE"},
//	})
//	for item, err := range items {
//		...
//	}
package pagination
