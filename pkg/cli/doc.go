// Package cli implements arborctl, the operator command line for the arbor
// RBAC store.
//
// Every command that touches the store accepts -dialect, -db-url and -schema,
// defaulting to ARBOR_DB_DIALECT, ARBOR_DB_URL and ARBOR_SCHEMA_FILE.
//
// # Commands
//
// migrate: create or upgrade the tables
//
//	arborctl migrate -db-url postgres://localhost/app
//	arborctl migrate -list -dialect sqlite3
//
// tree: dump the role or permission tree, indented by depth
//
//	arborctl tree -table permissions
//
// check: evaluate a page, object or element check
//
//	arborctl check -user 100 -resource user/create -level object \
//		-permissions userCreateForm -operations view,insert
//
// assign and roles: manage and inspect user role assignments
//
//	arborctl assign -user 100 -role 2
//	arborctl assign -user 100 -revoke -all
//	arborctl roles -user 100 -pages
//
// verify: check the nested-set invariants of both trees
//
// cache-flush: invalidate the shared redis cache after out-of-band writes
//
//	arborctl cache-flush -redis-url redis://localhost:6379/0
package cli
