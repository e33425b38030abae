// Package reaper removes empty window keys from the store.
//
// Keys normally expire through the TTL set by every recorded entry. The
// reaper bounds store memory when TTLs are missing or misconfigured: a sweep
// scans the namespace, purges entries that have left their window and
// deletes keys left empty. Each per-key step is atomic in the store, so a
// sweep is safe under live traffic. A key that receives a new entry right
// after it was deleted simply reappears.
//
// Scheduler runs sweeps on a cron schedule such as "@every 1m".
package reaper
