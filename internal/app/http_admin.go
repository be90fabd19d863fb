package app

import (
	"net/http"
	"strconv"
	"strings"

	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/search"
)

// handleAdmin serves /api/admin/... Role checks happen in the service and engine.
func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, caller identity.Caller, parts []string) {
	ctx := r.Context()

	switch {
	case len(parts) == 1 && parts[0] == "stats" && r.Method == http.MethodGet:
		stats, err := s.service.Stats(ctx, caller)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case len(parts) == 1 && parts[0] == "users" && r.Method == http.MethodGet:
		query, ok := userQuery(w, r)
		if !ok {
			return
		}
		users, err := s.service.ListUsers(ctx, caller, query)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})

	case len(parts) == 3 && parts[0] == "users" && parts[2] == "toggle" && r.Method == http.MethodPatch:
		user, err := s.service.ToggleUser(ctx, caller, parts[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "User status updated",
			"userId":   user.ID,
			"isActive": user.IsActive,
		})

	case len(parts) == 1 && parts[0] == "sos" && r.Method == http.MethodGet:
		requests, err := s.service.AllRequests(ctx, caller)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})

	case len(parts) == 2 && parts[0] == "requests" && parts[1] == "cleanup" && r.Method == http.MethodPost:
		count, err := s.service.Cleanup(ctx, caller)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Cleanup successful", "expiredCount": count})

	case len(parts) == 3 && parts[0] == "requests" && parts[2] == "cancel" && r.Method == http.MethodPost:
		request, err := s.service.CancelRequest(ctx, caller, parts[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "SOS cancelled", "request": request})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func userQuery(w http.ResponseWriter, r *http.Request) (search.Query, bool) {
	values := r.URL.Query()
	query := search.Query{
		Text: strings.TrimSpace(values.Get("q")),
		Role: strings.TrimSpace(values.Get("role")),
	}
	for _, param := range []struct {
		name   string
		target *int
	}{{"limit", &query.Limit}, {"offset", &query.Offset}} {
		raw := strings.TrimSpace(values.Get(param.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", param.name+" must be a non-negative integer", nil)
			return search.Query{}, false
		}
		*param.target = parsed
	}
	return query, true
}
