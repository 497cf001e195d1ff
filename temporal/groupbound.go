package temporal

// maxGroupInstances bounds how many concurrent GroupBy keys each temporal
// matcher tracks (§4.8). A high-cardinality GroupBy (e.g. per-customer-id)
// would otherwise grow its instance map without limit; matchers evict the
// oldest-armed group the same way event.Store and trace.Collector evict
// their oldest entries, via ringbuf.Buffer.
const maxGroupInstances = 10000
