package app

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/realtime"
)

func TestSOSLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	hospital := h.addUser("usr_h", "City Hospital", "hospital", "")
	otherHospital := h.addUser("usr_h2", "County Hospital", "hospital", "")
	dana := h.addUser("usr_d", "Dana", "donor", "O-")
	eli := h.addUser("usr_d2", "Eli", "donor", "O-")

	created := expectStatus(t, h.do(http.MethodPost, "/api/requests", hospital, map[string]any{"bloodType": "o-", "units": 2, "isCritical": true}), http.StatusCreated, "")
	request := created["request"].(map[string]any)
	id := request["id"].(string)
	if request["status"] != "open" || request["bloodType"] != "O-" || request["hospitalName"] != "City Hospital" {
		t.Fatalf("unexpected created request %+v", request)
	}

	feed := expectStatus(t, h.do(http.MethodGet, "/api/donors/requests", dana, nil), http.StatusOK, "")
	if items := feed["requests"].([]any); len(items) != 1 {
		t.Fatalf("expected one open request in donor feed, got %d", len(items))
	}

	expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/accept", dana, nil), http.StatusOK, "")
	payload := expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/accept", dana, nil), http.StatusConflict, "ALREADY_ACCEPTED")
	if payload["error"] != "Already accepted this SOS" {
		t.Fatalf("unexpected message %v", payload["error"])
	}

	list := expectStatus(t, h.do(http.MethodGet, "/api/requests/hospital", hospital, nil), http.StatusOK, "")
	donors := list["requests"].([]any)[0].(map[string]any)["acceptedDonors"].([]any)
	if len(donors) != 1 || donors[0].(map[string]any)["donorName"] != "Dana" || donors[0].(map[string]any)["status"] != "pending" {
		t.Fatalf("unexpected accepted donors %+v", donors)
	}

	expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/approve/usr_d", otherHospital, nil), http.StatusForbidden, "FORBIDDEN")
	expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/approve/ghost", hospital, nil), http.StatusNotFound, "DONOR_ENTRY_NOT_FOUND")

	approved := expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/approve/usr_d", hospital, nil), http.StatusOK, "")
	if approved["message"] != "Donor approved, request completed" || approved["request"].(map[string]any)["status"] != "completed" {
		t.Fatalf("unexpected approve payload %+v", approved)
	}

	payload = expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/accept", eli, nil), http.StatusConflict, "REQUEST_CLOSED")
	if payload["error"] != "SOS already closed" {
		t.Fatalf("unexpected message %v", payload["error"])
	}

	rejected := expectStatus(t, h.do(http.MethodPost, "/api/requests/"+id+"/reject/ghost", hospital, nil), http.StatusOK, "")
	if rejected["message"] != "Donor rejected successfully" {
		t.Fatalf("unexpected reject payload %+v", rejected)
	}

	history := expectStatus(t, h.do(http.MethodGet, "/api/requests/history/donor", dana, nil), http.StatusOK, "")
	items := history["requests"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one history item, got %d", len(items))
	}
	item := items[0].(map[string]any)
	if item["status"] != "approved" || item["requestStatus"] != "completed" || item["id"] != id {
		t.Fatalf("unexpected history item %+v", item)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	h := newHarness(t)
	hospital := h.addUser("usr_h", "City Hospital", "hospital", "")
	donor := h.addUser("usr_d", "Dana", "donor", "A+")

	expectStatus(t, h.do(http.MethodPost, "/api/requests", hospital, map[string]any{"bloodType": "Z", "units": 1}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectStatus(t, h.do(http.MethodPost, "/api/requests", hospital, map[string]any{"bloodType": "A+", "units": 0}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectStatus(t, h.do(http.MethodPost, "/api/requests", hospital, `{"bloodType":`), http.StatusBadRequest, "INVALID_BODY")
	expectStatus(t, h.do(http.MethodPost, "/api/requests", donor, map[string]any{"bloodType": "A+", "units": 1}), http.StatusForbidden, "FORBIDDEN")
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	h := newHarness(t)
	donor := h.addUser("usr_d", "Dana", "donor", "A+")
	hospital := h.addUser("usr_h", "City Hospital", "hospital", "")

	payload := expectStatus(t, h.do(http.MethodPost, "/api/requests/sos_missing/accept", donor, nil), http.StatusNotFound, "REQUEST_NOT_FOUND")
	if payload["error"] != "SOS not found" {
		t.Fatalf("unexpected message %v", payload["error"])
	}
	expectStatus(t, h.do(http.MethodPost, "/api/requests/sos_missing/approve/usr_d", hospital, nil), http.StatusNotFound, "REQUEST_NOT_FOUND")
	expectStatus(t, h.do(http.MethodGet, "/api/requests/sos_missing", hospital, nil), http.StatusNotFound, "NOT_FOUND")
}

func TestDonorFeedRequiresBloodType(t *testing.T) {
	h := newHarness(t)
	donor := h.addUser("usr_d", "Dana", "donor", "")
	payload := expectStatus(t, h.do(http.MethodGet, "/api/donors/requests", donor, nil), http.StatusBadRequest, "INVALID_INPUT")
	if payload["error"] != "Donor profile incomplete" {
		t.Fatalf("unexpected message %v", payload["error"])
	}
}

func TestCreateRequestAlertsMatchingDonors(t *testing.T) {
	h := newHarness(t)
	hospital := h.addUser("usr_h", "City Hospital", "hospital", "")

	matching := realtime.NewClient("c1", identity.Caller{ID: "usr_d", Role: "donor"}, 4)
	other := realtime.NewClient("c2", identity.Caller{ID: "usr_d2", Role: "donor"}, 4)
	h.hub.Registry().Join(matching, realtime.DonorsByBloodType("B-"))
	h.hub.Registry().Join(other, realtime.DonorsByBloodType("B+"))

	expectStatus(t, h.do(http.MethodPost, "/api/requests", hospital, map[string]any{"bloodType": "B-", "units": 3}), http.StatusCreated, "")

	select {
	case raw := <-matching.Send():
		var frame struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if frame.Event != "SOS_ALERT" || frame.Data["bloodType"] != "B-" || frame.Data["units"] != float64(3) {
			t.Fatalf("unexpected frame %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("expected SOS_ALERT for matching donor")
	}
	select {
	case raw := <-other.Send():
		t.Fatalf("expected no frame for other blood type, got %s", raw)
	default:
	}
}
