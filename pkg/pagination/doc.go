// Package pagination drives cursor-paginated endpoints and fans out
// per-item sub-requests in fixed-size batches.
//
// Crawl walks one parent resource page by page. Pages are strictly
// sequential; the cursor returned by each page is fed back unchanged into
// the next request. The loop stops when a page reports has-more = false,
// when Options.Continue returns false, when a page reports more pages but
// hands back the cursor it was sent (ErrCursorStalled), after
// Options.MaxPages pages, or on the first page failure. A
// failure never discards the items gathered so far: the result carries
// both the partial items and the error.
//
//	res := pagination.Crawl(ctx, fetchComments, pagination.Options{
//		Pause:    300 * time.Millisecond,
//		Continue: func() bool { return !job.Cancelled() },
//	})
//
// BatchFetcher groups N parent items into batches (default 8). Items of one
// batch run concurrently; batches run one after another with a pause in
// between. One item failing records 0 for its key and leaves its siblings
// alone.
//
//	bf := pagination.NewBatchFetcher[tiktok.Comment](pagination.DefaultBatchConfig())
//	res := bf.FetchAll(ctx, comments, commentID, countReplies, pagination.BatchOptions{})
package pagination
