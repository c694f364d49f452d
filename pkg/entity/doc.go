// Package entity provides bulk add, update and delete over any REST entity
// that follows the <entity>.add / .update / .delete convention.
//
// Every call validates all items before a single command is built, then
// returns a lazy sequence. Items are sent MaxBatchSize at a time through the
// batch executor; the next batch is only requested once the caller has
// consumed the previous one, and breaking out of the loop stops all further
// requests.
//
//	adapter, _ := entity.NewAdapter(batch.NewExecutor(c, logger), entity.DefaultConfig(), logger)
//	results, err := adapter.AddEntityItems(ctx, "crm.deal.add", deals, nil)
//	if err != nil {
//		return err // invalid input, nothing was sent
//	}
//	for r, err := range results {
//		if err != nil {
//			return err // transport failure, iteration is over
//		}
//		if r.Err() != nil {
//			// this item failed, the others are unaffected
//		}
//	}
package entity
