// Package pagequery implements the fetch/cache coordination layer behind
// paginated tables and infinite-scroll selectors.
//
// Components:
//   - Registry: process-wide lifecycle (NewRegistry / Dispose) and the
//     InvalidationBus every cache and coordinator is attached to.
//   - PageCache[T]: LRU of immutable entries with stale-while-revalidate,
//     TTL staleness and an optional spill tier (provider.Provider + codec.Codec).
//   - Fetch / Load: request de-duplication per key and generation-token commits.
//     A response is committed only if its generation is still the key's current one.
//   - TableQuery[T]: discrete pages, replaced on every parameter change.
//   - ScrollQuery[T]: cursor pages appended in order, driven by visibility.
//
// Keys:
//
//	<ns>:<hash>           - table entry or scroll list
//	<ns>:<hash>:<cursor>  - one page of a scroll list
//
// Invalidation is prefix based and segment aware: "users" matches
// "users:1f0c..." but not "usersettings:...".
//
// Typical wiring:
//
//	reg := pagequery.NewRegistry(pagequery.Options{Logger: zaplog.Logger{L: z}})
//	defer reg.Dispose(ctx)
//	users, _ := pagequery.NewPageCache[User](reg, pagequery.CacheOptions[User]{})
//	table, _ := pagequery.NewTableQuery(users, fetchUsers, pagequery.TableOptions{Namespace: "users"})
//	table.SetSearch("ali")
//	view := table.View()
package pagequery
