package importer

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/store"
)

const formField = "files"

type Handler struct {
	im       *Importer
	notifier *events.Notifier
}

func NewHandler(im *Importer, notifier *events.Notifier) *Handler {
	return &Handler{im: im, notifier: notifier}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/import", h.Upload, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
}

// Upload imports every file of the multipart field "files". Patients
// imported by a doctor are assigned to that doctor.
func (h *Handler) Upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}
	files := form.File[formField]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}

	ctx := c.Request().Context()
	var defaults store.Row
	if id := auth.IdentityFromContext(ctx); id != nil && !id.IsAdmin() {
		defaults = store.Row{"doctor_id": id.UserID}
	}

	results := make([]Result, 0, len(files))
	success, failed := 0, 0
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			results = append(results, Result{File: fh.Filename, Err: err.Error()})
			continue
		}
		res := h.im.Import(ctx, fh.Filename, f, defaults)
		f.Close()
		success += res.Success
		failed += res.Errors
		results = append(results, res)
	}

	msg := fmt.Sprintf("Imported %d patients", success)
	if failed > 0 {
		msg += fmt.Sprintf(", %d rows failed", failed)
		h.notifier.Warn(ctx, msg)
	} else {
		h.notifier.Success(ctx, msg)
	}
	return c.JSON(http.StatusOK, results)
}
