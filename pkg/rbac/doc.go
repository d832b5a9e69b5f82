// Package rbac is a role-based access-control decision engine backed by a
// relational database and a read-through cache.
//
// # Model
//
// Roles form a forest stored as a nested set: every role carries an interval
// [lft, rgt] that strictly contains the intervals of its descendants.
// Permissions form a second nested-set forest of pages and objects; element
// permissions are children of an object permission. Users hold roles
// through assignments, and a role is allowed to perform an operation (view,
// update, ...) on a permission through an operation grant.
//
// # Components
//
//	Tree[T]    nested-set storage for one table (roles or permissions)
//	Directory  cached reads and structural writes of the role tree
//	Binding    user to role assignments
//	Resolver   page, object and element checks, visible page tree
//	Registry   permission tree, operations and grants
//	Engine     wires all of the above over one database and cache
//
// # Checks
//
//	ok, err := engine.Resolver.HasPagePermission(ctx, userID, "/reports", []string{"view"})
//	ok, err = engine.Resolver.HasObjectPermission(ctx, userID, "/reports", []string{"export"}, []string{"insert"})
//	pages, err := engine.Resolver.GetPagePermissions(ctx, userID)
//
// A denial is false with a nil error. Errors are reserved for storage
// failures and malformed arguments.
//
// # Caching
//
// Reads go through cache.Fetch. Every write drops a fixed set of generation
// keys before and after it touches the database; role lists and check results
// live under the tokens stored at those keys, so they are dropped too.
// Generation tokens expire after Options.GenerationTTL, which bounds how long
// an invalidation lost to a cache outage goes unnoticed.
//
// Cached checks query the primary database. Options.Reader only answers the
// checks when no cache is configured.
//
// # Concurrency
//
// Tree mutations are serialized per table by a process mutex and a
// transaction holding a table lock where the dialect needs one. Reads run
// concurrently.
package rbac
