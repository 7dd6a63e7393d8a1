package importer

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/events"
)

func TestUpload(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("files", "leads.csv")
	part.Write([]byte("Name,Phone\nAna,555 0100\n,\nBen,\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/import", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "doc-1", Role: auth.RoleDoctor}))
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	hub := events.NewHub(zerolog.Nop())
	w := &recordingInserter{}
	h := NewHandler(New(w, "US", zerolog.Nop()), events.NewNotifier(hub, zerolog.Nop()))

	if err := h.Upload(c); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	var results []Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].Success != 1 || results[0].Errors != 1 {
		t.Fatalf("unexpected results %+v", results)
	}
	if w.rows[0]["doctor_id"] != "doc-1" {
		t.Errorf("expected doctor assignment, got %v", w.rows[0]["doctor_id"])
	}
}

func TestUpload_NoFiles(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("other", "x")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/import", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	c := echo.New().NewContext(req, httptest.NewRecorder())

	h := NewHandler(New(&recordingInserter{}, "US", zerolog.Nop()), nil)
	err := h.Upload(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
