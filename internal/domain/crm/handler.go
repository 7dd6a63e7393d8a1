package crm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/clinic/crm/internal/platform/auth"
	"github.com/clinic/crm/internal/platform/dataaccess"
	"github.com/clinic/crm/internal/platform/events"
	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/pkg/pagination"
)

// reserved query parameters of GET /tables/:table; everything else filters.
var reservedParams = map[string]bool{
	"select": true,
	"order":  true,
	"desc":   true,
	"limit":  true,
	"page":   true,
}

// adminTables may only be written by admins.
var adminTables = map[store.Table]bool{
	store.Clinics:  true,
	store.Profiles: true,
	store.Settings: true,
}

type Handler struct {
	src         dataaccess.Fetcher
	mut         *dataaccess.Mutator
	notifier    *events.Notifier
	phoneRegion string
	logger      zerolog.Logger
}

func NewHandler(src dataaccess.Fetcher, mut *dataaccess.Mutator, notifier *events.Notifier, phoneRegion string, logger zerolog.Logger) *Handler {
	return &Handler{
		src:         src,
		mut:         mut,
		notifier:    notifier,
		phoneRegion: phoneRegion,
		logger:      logger.With().Str("component", "crm").Logger(),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	g.GET("/tables/:table", h.List)
	g.POST("/tables/:table", h.Create)
	g.PATCH("/tables/:table/:id", h.Update)
	g.DELETE("/tables/:table/:id", h.Delete)
	g.GET("/follow-ups/merged", h.MergedFollowUps)
	g.GET("/analytics/conversion", h.Conversion)
}

// ListResponse is a page of rows tagged with where they came from.
type ListResponse struct {
	pagination.Response
	Origin  dataaccess.Origin `json:"origin"`
	Warning string            `json:"warning,omitempty"`
}

func (h *Handler) List(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	id := auth.IdentityFromContext(c.Request().Context())
	if id == nil || id.UserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	p := pagination.FromContext(c)
	opts := dataaccess.QueryOptions{
		Filters: queryFilters(c),
		Limit:   p.Limit,
		Page:    p.Page,
	}
	if sel := c.QueryParam("select"); sel != "" && sel != "*" {
		opts.Columns = splitList(sel)
	}
	if col := c.QueryParam("order"); col != "" {
		desc, _ := strconv.ParseBool(c.QueryParam("desc"))
		opts.Order = store.Order{Column: col, Desc: desc}
	}
	ok, err := h.scope(c, id, t, opts.Filters)
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusOK, ListResponse{
			Response: *pagination.NewResponse([]store.Row{}, 0, p),
			Origin:   dataaccess.OriginNone,
		})
	}

	st := h.query(c, t, opts)
	resp := ListResponse{
		Response: *pagination.NewResponse(st.Rows, st.Count, p),
		Origin:   st.Origin,
	}
	if st.Err != nil {
		if st.Err.Kind != store.KindPermission || st.Origin != dataaccess.OriginCache {
			return httpError(st.Err)
		}
		resp.Warning = st.Err.Message
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Create(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	id := auth.IdentityFromContext(c.Request().Context())
	if err := canWrite(id, t); err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	body = bytes.TrimSpace(body)
	ctx := c.Request().Context()

	if len(body) > 0 && body[0] == '[' {
		var rows []store.Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON array")
		}
		for _, r := range rows {
			if err := h.prepare(c, id, t, r); err != nil {
				return err
			}
		}
		created, err := h.mut.BatchInsert(ctx, t, rows)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusCreated, created)
	}

	var row store.Row
	if err := json.Unmarshal(body, &row); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON object")
	}
	if err := h.prepare(c, id, t, row); err != nil {
		return err
	}
	created, err := h.mut.Insert(ctx, t, row)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Update(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	id := auth.IdentityFromContext(c.Request().Context())
	if err := canWrite(id, t); err != nil {
		return err
	}
	var patch store.Row
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON object")
	}
	if err := h.owns(c, id, t, c.Param("id")); err != nil {
		return err
	}
	if t == store.Patients {
		if v, ok := patch["phone"].(string); ok {
			patch["phone"] = NormalizePhone(v, h.phoneRegion)
		}
		if !id.IsAdmin() {
			delete(patch, "doctor_id")
		}
	}
	if v, moved := patch["patient_id"]; moved && t == store.FollowUps && !id.IsAdmin() {
		if err := h.ownsFollowUpPatient(c, id, v); err != nil {
			return err
		}
	}
	row, err := h.mut.Update(c.Request().Context(), t, c.Param("id"), patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, row)
}

func (h *Handler) Delete(c echo.Context) error {
	t, err := tableParam(c)
	if err != nil {
		return err
	}
	id := auth.IdentityFromContext(c.Request().Context())
	if err := canWrite(id, t); err != nil {
		return err
	}
	if err := h.owns(c, id, t, c.Param("id")); err != nil {
		return err
	}
	if err := h.mut.Remove(c.Request().Context(), t, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MergedFollowUps(c echo.Context) error {
	patients, followUps, err := h.loadPipeline(c)
	if err != nil {
		return err
	}
	clinics, err := h.loadAll(c, store.Clinics, nil)
	if err != nil {
		return err
	}
	cl, err := FromRows[Clinic](clinics)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to decode clinics")
	}
	return c.JSON(http.StatusOK, MergeFollowUps(followUps, patients, cl))
}

func (h *Handler) Conversion(c echo.Context) error {
	patients, followUps, err := h.loadPipeline(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ComputeConversion(patients, followUps))
}

// loadPipeline reads the caller's patients and the follow-ups that belong
// to them.
func (h *Handler) loadPipeline(c echo.Context) ([]Patient, []FollowUp, error) {
	id := auth.IdentityFromContext(c.Request().Context())
	if id == nil || id.UserID == "" {
		return nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	filters := map[string]any{}
	if !id.IsAdmin() {
		filters["doctor_id"] = id.UserID
	}
	prows, err := h.loadAll(c, store.Patients, filters)
	if err != nil {
		return nil, nil, err
	}
	patients, err := FromRows[Patient](prows)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to decode patients")
	}

	var ffilters map[string]any
	if !id.IsAdmin() {
		ids := make([]string, 0, len(patients))
		for _, p := range patients {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			return patients, []FollowUp{}, nil
		}
		ffilters = map[string]any{"patient_id": ids}
	}
	frows, err := h.loadAll(c, store.FollowUps, ffilters)
	if err != nil {
		return nil, nil, err
	}
	followUps, err := FromRows[FollowUp](frows)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to decode follow-ups")
	}
	return patients, followUps, nil
}

func (h *Handler) loadAll(c echo.Context, t store.Table, filters map[string]any) ([]store.Row, error) {
	st := h.query(c, t, dataaccess.QueryOptions{Filters: filters})
	if st.Err != nil && st.Origin != dataaccess.OriginCache {
		return nil, httpError(st.Err)
	}
	return st.Rows, nil
}

func (h *Handler) query(c echo.Context, t store.Table, opts dataaccess.QueryOptions) dataaccess.State {
	q := dataaccess.NewQuery(h.src, t, opts, h.notifier, h.logger)
	defer q.Close()
	return q.Fetch(c.Request().Context())
}

// owns rejects writes by a doctor to a patient assigned to someone else,
// or to a follow-up of such a patient.
func (h *Handler) owns(c echo.Context, id *auth.Identity, t store.Table, rowID string) error {
	if id.IsAdmin() {
		return nil
	}
	switch t {
	case store.Patients:
		return h.ownsPatient(c, id, rowID)
	case store.FollowUps:
		st := h.query(c, t, dataaccess.QueryOptions{
			Columns: []string{"id", "patient_id"},
			Filters: map[string]any{"id": rowID},
			Limit:   1,
		})
		if st.Err != nil {
			return httpError(st.Err)
		}
		if len(st.Rows) == 0 {
			return echo.NewHTTPError(http.StatusNotFound, "follow-up not found")
		}
		return h.ownsFollowUpPatient(c, id, st.Rows[0]["patient_id"])
	}
	return nil
}

func (h *Handler) ownsPatient(c echo.Context, id *auth.Identity, patientID string) error {
	st := h.query(c, store.Patients, dataaccess.QueryOptions{
		Columns: []string{"id", "doctor_id"},
		Filters: map[string]any{"id": patientID},
		Limit:   1,
	})
	if st.Err != nil {
		return httpError(st.Err)
	}
	if len(st.Rows) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if owner, _ := st.Rows[0]["doctor_id"].(string); owner != id.UserID {
		return echo.NewHTTPError(http.StatusForbidden, "patient is assigned to another doctor")
	}
	return nil
}

// ownsFollowUpPatient checks the patient_id a doctor's follow-up refers to.
// Follow-ups detached from any patient are admin-only.
func (h *Handler) ownsFollowUpPatient(c echo.Context, id *auth.Identity, v any) error {
	pid, _ := v.(string)
	if pid == "" {
		return echo.NewHTTPError(http.StatusForbidden, "follow-up must reference one of your patients")
	}
	return h.ownsPatient(c, id, pid)
}

func (h *Handler) prepare(c echo.Context, id *auth.Identity, t store.Table, row store.Row) error {
	if row == nil {
		return nil
	}
	switch t {
	case store.Patients:
		if v, ok := row["phone"].(string); ok {
			row["phone"] = NormalizePhone(v, h.phoneRegion)
		}
		if !id.IsAdmin() {
			row["doctor_id"] = id.UserID
		}
	case store.FollowUps:
		if !id.IsAdmin() {
			return h.ownsFollowUpPatient(c, id, row["patient_id"])
		}
	}
	return nil
}

// scope limits non-admin reads to the caller's patients and their
// follow-ups. It reports false when nothing can match.
func (h *Handler) scope(c echo.Context, id *auth.Identity, t store.Table, filters map[string]any) (bool, error) {
	if id.IsAdmin() {
		return true, nil
	}
	switch t {
	case store.Patients:
		filters["doctor_id"] = id.UserID
	case store.FollowUps:
		rows, err := h.loadAll(c, store.Patients, map[string]any{"doctor_id": id.UserID})
		if err != nil {
			return false, err
		}
		owned := make([]string, 0, len(rows))
		for _, r := range rows {
			if pid, _ := r["id"].(string); pid != "" {
				owned = append(owned, pid)
			}
		}
		ids := restrictIDs(owned, filters["patient_id"])
		if len(ids) == 0 {
			return false, nil
		}
		filters["patient_id"] = ids
	}
	return true, nil
}

// restrictIDs narrows owned to the requested id or ids, if any.
func restrictIDs(owned []string, requested any) []string {
	var want []string
	switch v := requested.(type) {
	case string:
		if v == "" {
			return owned
		}
		want = []string{v}
	case []string:
		want = v
	default:
		return owned
	}
	return lo.Intersect(owned, want)
}

func canWrite(id *auth.Identity, t store.Table) error {
	if id == nil || id.UserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	if adminTables[t] && !id.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "admin role required to modify "+string(t))
	}
	return nil
}

func tableParam(c echo.Context) (store.Table, error) {
	t, err := store.ParseTable(c.Param("table"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return t, nil
}

func queryFilters(c echo.Context) map[string]any {
	filters := map[string]any{}
	for key, vals := range c.QueryParams() {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}
		if len(vals) == 1 {
			filters[key] = vals[0]
			continue
		}
		filters[key] = vals
	}
	return filters
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// httpError maps data-access failures onto HTTP statuses.
func httpError(err error) error {
	msg, kind := err.Error(), store.KindOf(err)
	var de *dataaccess.Error
	if errors.As(err, &de) {
		msg, kind = de.Message, de.Kind
	}
	switch kind {
	case store.KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	case store.KindPermission:
		return echo.NewHTTPError(http.StatusForbidden, msg)
	case store.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, msg)
	case store.KindConnectivity:
		return echo.NewHTTPError(http.StatusServiceUnavailable, msg)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, msg)
	}
}
