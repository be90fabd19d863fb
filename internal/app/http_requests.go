package app

import (
	"net/http"

	"bloodlink/api/internal/identity"
)

// handleRequests serves /api/requests/...
func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, caller identity.Caller, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodPost {
		var body CreateRequestBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.CreateRequest(ctx, caller, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"request": request})
		return
	}

	if len(parts) == 1 && parts[0] == "hospital" && r.Method == http.MethodGet {
		requests, err := s.service.HospitalRequests(ctx, caller)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
		return
	}

	if len(parts) == 2 && parts[0] == "history" && parts[1] == "donor" && r.Method == http.MethodGet {
		requests, err := s.service.DonorHistory(ctx, caller)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "accept":
		if err := s.service.AcceptRequest(ctx, caller, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "SOS accepted successfully"})
	case len(parts) == 3 && parts[1] == "approve":
		request, err := s.service.ApproveDonor(ctx, caller, parts[0], parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Donor approved, request completed", "request": request})
	case len(parts) == 3 && parts[1] == "reject":
		if err := s.service.RejectDonor(ctx, caller, parts[0], parts[2]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Donor rejected successfully"})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
