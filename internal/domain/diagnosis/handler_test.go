package diagnosis

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

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
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.DevActorIDHeader, actor.ID.String())
	req.Header.Set(auth.DevActorRoleHeader, string(actor.Role))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_DiagnosisFlow(t *testing.T) {
	f, e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/v1/diagnoses", f.doctor,
		`{"patient_id":"`+f.patient.ID.String()+`","symptoms":"fatigue","lab_tests":["CBC"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if len(v.LabResults) != 1 {
		t.Fatalf("expected one lab order, got %d", len(v.LabResults))
	}
	lab := "/api/v1/lab-results/" + v.LabResults[0].ID.String()
	diag := "/api/v1/diagnoses/" + v.ID.String()

	rec = do(e, http.MethodPost, diag+"/complete", f.doctor, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while labs are pending, got %d", rec.Code)
	}

	rec = do(e, http.MethodPatch, lab, f.doctor, `{"result":"normal"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctor recording a result: expected 403, got %d", rec.Code)
	}
	rec = do(e, http.MethodPatch, lab, f.labTech, `{"result":"normal"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("record result: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, lab+"/complete", f.labTech, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete lab: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, diag+"/complete", f.doctor, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, diag, f.patient, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var pv View
	if err := json.Unmarshal(rec.Body.Bytes(), &pv); err != nil {
		t.Fatal(err)
	}
	if pv.Status != StatusCompleted || pv.RequiresLabTests != nil || pv.VersionID != nil {
		t.Errorf("unexpected patient view: %+v", pv)
	}
	if len(pv.LabResults) != 1 || pv.LabResults[0].Status != LabCompleted {
		t.Errorf("patient should see the completed lab result, got %+v", pv.LabResults)
	}
}

func TestHandler_Prescriptions(t *testing.T) {
	f, e := newTestServer(t)
	d := f.open(t)

	rec := do(e, http.MethodPatch, "/api/v1/diagnoses/"+d.ID.String(), f.doctor,
		`{"prescriptions":[{"drug_code":"AMOX","dose_per_admin":"500mg","frequency_per_day":"3","duration_days":"7"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	rx := "/api/v1/prescriptions/" + v.Prescriptions[0].ID.String()

	rec = do(e, http.MethodPost, rx+"/dispense", f.labTech, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("lab tech dispensing: expected 403, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, rx+"/dispense", f.pharmacist, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dispense: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, rx+"/dispense", f.pharmacist, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second dispense: expected 409, got %d", rec.Code)
	}
}

func TestHandler_BadInput(t *testing.T) {
	f, e := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/v1/diagnoses/nope", f.doctor, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad id, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/diagnoses", f.doctor, `{"patient_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/diagnoses", f.patient, `{"patient_id":"`+f.patient.ID.String()+`"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient creating: expected 403, got %d", rec.Code)
	}
}
