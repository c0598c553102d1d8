// Package pagination walks the MIT registry listing.
//
// The registry reports its size through a count query (rows=0) and then
// serves the listing in fixed pages addressed by a start offset. A run
// has three request kinds:
//
//   - count: one query under a bounded retry policy (mit.attempts); when
//     every attempt fails the run cannot continue (ErrCountUnavailable)
//   - page: start = 0, page_size, 2*page_size, ... below the count, each
//     retried until it succeeds
//   - detail: one request per listed item at {base}/{mit_id}, retried
//     until it succeeds
//
// Requests are issued strictly one at a time and in order.
//
// Example usage:
//
//	driver := pagination.NewDriver(fetcher, pagination.DefaultConfig(baseURL))
//	total, err := driver.Count(ctx)
//	err = driver.Walk(ctx, total, func(page pagination.Page) error {
//		for _, raw := range page.Items {
//			// decode, then driver.Detail(ctx, id)
//		}
//		return nil
//	})
package pagination
