package appointment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carecoord/internal/platform/auth"
)

func newTestServer(t *testing.T) (*fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(f.svc).RegisterRoutes(api)
	return f, e
}

func do(e *echo.Echo, method, path string, actor auth.Actor, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(auth.DevActorIDHeader, actor.ID.String())
	req.Header.Set(auth.DevActorRoleHeader, string(actor.Role))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func TestHandler_CreateAndConfirm(t *testing.T) {
	f, e := newTestServer(t)

	date := baseTime.Add(48 * time.Hour).Format(time.RFC3339)
	rec := do(e, http.MethodPost, "/api/v1/appointments", f.patient,
		`{"doctor_id":"`+f.doctor.ID.String()+`","date":"`+date+`","reason":"sore throat"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusPending || v.PatientID != f.patient.ID {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.CreatedBy != nil || v.VersionID != nil {
		t.Error("patients do not see audit fields")
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments/"+v.ID.String()+"/confirm", f.doctor, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", v.Status)
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments/"+v.ID.String()+"/confirm", f.patient, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "ALREADY_CONFIRMED" {
		t.Errorf("expected ALREADY_CONFIRMED, got %s", code)
	}
}

func TestHandler_ValidationErrors(t *testing.T) {
	f, e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/v1/appointments", f.patient,
		`{"doctor_id":"`+f.doctor.ID.String()+`","date":"`+baseTime.Add(-time.Hour).Format(time.RFC3339)+`","reason":"late"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a past date, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/appointments/not-a-uuid", f.patient, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad id, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments", f.patient, `{"doctor_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", rec.Code)
	}
}

func TestHandler_RoleGates(t *testing.T) {
	f, e := newTestServer(t)
	a := f.bookConfirmed(t, 48*time.Hour)
	labTech := auth.Actor{ID: f.admin.ID, Role: auth.RoleLabTech}

	rec := do(e, http.MethodGet, "/api/v1/appointments", labTech, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("lab tech list: expected 403, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/complete", f.patient, `{"outcome":"self discharge"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient complete: expected 403, got %d", rec.Code)
	}

	// Admin passes the route gate but completion is doctor-only.
	rec = do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/complete", f.admin, `{"outcome":"closing"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("admin complete: expected 403, got %d", rec.Code)
	}
}

func TestHandler_NotesAndComplete(t *testing.T) {
	f, e := newTestServer(t)
	a := f.bookConfirmed(t, 48*time.Hour)
	base := "/api/v1/appointments/" + a.ID.String()

	rec := do(e, http.MethodPost, base+"/complete", f.doctor, `{}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without an outcome, got %d", rec.Code)
	}

	rec = do(e, http.MethodPatch, base+"/notes", f.doctor, `{"outcome":"mild infection","create_diagnosis":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("notes: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, base+"/complete", f.doctor, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.opener.calls) != 1 {
		t.Errorf("expected a diagnosis to be opened, got %d", len(f.opener.calls))
	}

	rec = do(e, http.MethodGet, base, f.patient, "")
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Outcome == nil || *v.Outcome != "mild infection" {
		t.Error("patients see the outcome once completed")
	}
	if v.CreateDiagnosis != nil {
		t.Error("patients do not see the diagnosis flag")
	}
}

func TestHandler_UpdateAndCancel(t *testing.T) {
	f, e := newTestServer(t)
	a := f.bookConfirmed(t, 48*time.Hour)
	base := "/api/v1/appointments/" + a.ID.String()

	rec := do(e, http.MethodPatch, base, f.doctor, `{"reason":"bring scans"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without update_reason, got %d", rec.Code)
	}
	rec = do(e, http.MethodPatch, base, f.doctor, `{"reason":"bring scans","update_reason":"radiology"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v View
	json.Unmarshal(rec.Body.Bytes(), &v)
	if !v.AwaitingConfirmation {
		t.Error("expected the edit lock to be visible")
	}

	rec = do(e, http.MethodPatch, base, f.doctor, `{"reason":"again","update_reason":"again"}`)
	if code := errorCode(t, rec); rec.Code != http.StatusConflict || code != "EDIT_LOCKED" {
		t.Errorf("expected 409 EDIT_LOCKED, got %d %s", rec.Code, code)
	}

	rec = do(e, http.MethodPost, base+"/cancel", f.patient, `{"cancellation_reason":"moving city"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", v.Status)
	}
}

func TestHandler_ListPaginates(t *testing.T) {
	f, e := newTestServer(t)
	f.book(t, 48*time.Hour)
	f.book(t, 72*time.Hour)
	f.book(t, 96*time.Hour)

	rec := do(e, http.MethodGet, "/api/v1/appointments?limit=2", f.doctor, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data  []View `json:"data"`
		Total int    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
}
