package gateway

import (
	"net/http"
	"strings"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// applyHeaderOps runs a route's header operations over a header map.
// Names are canonicalized so ops match regardless of the caller's casing.
func applyHeaderOps(headers map[string]string, ops []models.HeaderOp) map[string]string {
	if len(ops) == 0 {
		return headers
	}
	if headers == nil {
		headers = make(map[string]string, len(ops))
	}
	for _, op := range ops {
		name := http.CanonicalHeaderKey(op.Name)
		switch op.Action {
		case models.HeaderActionRemove:
			delete(headers, name)
		case models.HeaderActionAdd:
			if existing, ok := headers[name]; ok && existing != "" {
				headers[name] = existing + ", " + op.Value
			} else {
				headers[name] = op.Value
			}
		default: // set
			headers[name] = op.Value
		}
	}
	return headers
}

// transformRequest applies the route's request-side transform policy to the
// action before it reaches the adapter.
func transformRequest(action *Action, policy models.TransformPolicy) {
	action.Headers = applyHeaderOps(action.Headers, policy.RequestHeaders)
	if policy.StripPrefix != "" && strings.HasPrefix(action.Path, policy.StripPrefix) {
		stripped := strings.TrimPrefix(action.Path, policy.StripPrefix)
		if !strings.HasPrefix(stripped, "/") {
			stripped = "/" + stripped
		}
		action.Path = stripped
	}
}

// transformResponse applies the route's response-side transform policy on
// the way back to the caller.
func transformResponse(resp *AdapterResponse, policy models.TransformPolicy) {
	resp.Headers = applyHeaderOps(resp.Headers, policy.ResponseHeaders)
}
