// Package httputil holds the JSON request and response helpers shared by the
// RBAC HTTP handlers.
//
// Every error response has the same envelope:
//
//	{"error": "role 9 not found", "code": "not_found"}
//
// Handlers decode bodies and path ids through helpers that write the 400
// themselves and report whether to continue:
//
//	var req moveRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.PathIDOrError(w, r, "id")
//
// RecoveryMiddleware and JSONBodyMiddleware are installed by arbord around
// the /rbac routes.
package httputil
