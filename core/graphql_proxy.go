package core

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxGraphQLRequest = 12 * 1024 * 1024

// storedOperationRequest is what the gateway sends upstream: the stored
// document for the named operation and the caller's variables untouched.
type storedOperationRequest struct {
	OperationName string          `json:"operationName"`
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

// handleGraphQL forwards an admin UI operation to the backend once the
// operation is known and the caller's role may run it. Only the operation
// name and variables are taken from the client.
func (g *Gateway) handleGraphQL(c *gin.Context) {
	auth := g.auth(c)
	snap := auth.Snapshot()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGraphQLRequest+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "failed to read body")
		return
	}
	if len(body) > maxGraphQLRequest {
		respondError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request too large")
		return
	}
	var req struct {
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	name := strings.TrimSpace(req.OperationName)
	if name == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "operationName is required")
		return
	}
	vars := req.Variables
	if trimmed := strings.TrimSpace(string(vars)); trimmed == "null" || trimmed == "" {
		vars = nil
	} else if trimmed[0] != '{' {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "variables must be an object")
		return
	}

	op, ok := g.perms.Operation(name)
	if !ok {
		respondError(c, http.StatusForbidden, "UNKNOWN_OPERATION", "operation not allowed: "+name)
		return
	}
	if !g.perms.CanRun(snap.Role(), op) {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "no permission for "+name)
		return
	}

	token, ok := auth.Token()
	if !ok {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		return
	}
	upstream, err := json.Marshal(storedOperationRequest{OperationName: op.Name, Query: op.Document, Variables: vars})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to encode operation")
		return
	}
	status, out, err := g.backend.Forward(c.Request.Context(), token, upstream)
	if err != nil {
		log.Printf("graphql forward op=%s: %v", name, err)
		respondError(c, http.StatusBadGateway, "BACKEND_ERROR", "backend unavailable")
		return
	}
	if status == http.StatusUnauthorized {
		// The backend no longer accepts the token.
		auth.Logout()
		if !g.commit(c) {
			return
		}
	}
	c.Data(status, "application/json", out)
}
