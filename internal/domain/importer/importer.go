// Package importer loads patients from spreadsheet exports.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinic/crm/internal/domain/crm"
	"github.com/clinic/crm/internal/platform/store"
	"github.com/clinic/crm/internal/platform/telemetry"
)

// headerVariants maps patient columns to the spreadsheet headers accepted
// for them, compared after normalizeHeader.
var headerVariants = map[string][]string{
	"name":               {"patient name", "name", "full name"},
	"phone":              {"phone", "phone number", "mobile", "contact number"},
	"email":              {"email", "email address"},
	"age":                {"age"},
	"gender":             {"gender", "sex"},
	"treatment_category": {"treatment category", "category"},
	"treatment_type":     {"treatment type", "treatment", "procedure"},
	"price":              {"price", "cost", "amount"},
	"status":             {"status"},
	"cold_reason":        {"cold reason"},
	"notes":              {"notes", "comments"},
	"follow_up_time":     {"preferred time"},
	"follow_up_channel":  {"preferred channel"},
}

// Inserter writes a single row; *dataaccess.Mutator implements it.
type Inserter interface {
	Insert(ctx context.Context, t store.Table, row store.Row) (store.Row, error)
}

type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Result is the outcome of importing one file. Err is set when the file
// itself could not be read.
type Result struct {
	File      string     `json:"file"`
	Success   int        `json:"success"`
	Errors    int        `json:"errors"`
	RowErrors []RowError `json:"row_errors,omitempty"`
	Err       string     `json:"error,omitempty"`
}

type Importer struct {
	writer      Inserter
	phoneRegion string
	logger      zerolog.Logger
}

func New(writer Inserter, phoneRegion string, logger zerolog.Logger) *Importer {
	return &Importer{
		writer:      writer,
		phoneRegion: phoneRegion,
		logger:      logger.With().Str("component", "importer").Logger(),
	}
}

// ImportFiles imports each path in turn. A file that cannot be opened or
// parsed is reported in its Result and does not stop the others.
func (im *Importer) ImportFiles(ctx context.Context, paths []string, defaults store.Row) []Result {
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			results = append(results, Result{File: filepath.Base(p), Err: err.Error()})
			continue
		}
		results = append(results, im.Import(ctx, filepath.Base(p), f, defaults))
		f.Close()
	}
	return results
}

// Import reads one file and inserts its rows one at a time. Rows without a
// name or phone count as errors and are not inserted. defaults fill columns
// the sheet leaves empty.
func (im *Importer) Import(ctx context.Context, name string, r io.Reader, defaults store.Row) Result {
	res := Result{File: name}
	records, err := ReadRecords(name, r)
	if err != nil {
		res.Err = err.Error()
		im.logger.Warn().Err(err).Str("file", name).Msg("unreadable import file")
		return res
	}
	if len(records) == 0 {
		res.Err = "file is empty"
		return res
	}

	cols := mapHeader(records[0])
	for i, rec := range records[1:] {
		if ctx.Err() != nil {
			res.Err = ctx.Err().Error()
			break
		}
		line := i + 2
		if blank(rec) {
			continue
		}
		row, err := im.toRow(rec, cols)
		if err == nil {
			for k, v := range defaults {
				if _, ok := row[k]; !ok {
					row[k] = v
				}
			}
			_, err = im.writer.Insert(ctx, store.Patients, row)
		}
		if err != nil {
			res.Errors++
			res.RowErrors = append(res.RowErrors, RowError{Row: line, Message: err.Error()})
			telemetry.ImportRowsTotal.WithLabelValues("error").Inc()
			continue
		}
		res.Success++
		telemetry.ImportRowsTotal.WithLabelValues("success").Inc()
	}

	im.logger.Info().
		Str("file", name).
		Int("success", res.Success).
		Int("errors", res.Errors).
		Msg("import finished")
	return res
}

func (im *Importer) toRow(rec []string, cols map[string]int) (store.Row, error) {
	get := func(field string) string {
		i, ok := cols[field]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	name, phone := get("name"), get("phone")
	switch {
	case name == "" && phone == "":
		return nil, fmt.Errorf("missing name and phone")
	case name == "":
		return nil, crm.ErrNameRequired
	case phone == "":
		return nil, crm.ErrPhoneRequired
	}

	row := store.Row{
		"name":  name,
		"phone": crm.NormalizePhone(phone, im.phoneRegion),
	}
	for _, field := range []string{"email", "gender", "treatment_category", "treatment_type", "notes", "follow_up_time", "follow_up_channel"} {
		if v := get(field); v != "" {
			row[field] = v
		}
	}
	for _, field := range []string{"age", "price"} {
		raw := get(field)
		n, ok, err := parseNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
		}
		if ok {
			row[field] = n
		}
	}

	status := parseStatus(get("status"))
	row["status"] = string(status)
	if status == crm.StatusCold {
		reason := parseColdReason(get("cold_reason"))
		if reason == "" {
			reason = crm.ColdNoResponse
		}
		row["cold_reason"] = string(reason)
	}
	return row, nil
}

// mapHeader returns the column index of each recognised field. The first
// matching header wins.
func mapHeader(header []string) map[string]int {
	cols := make(map[string]int)
	for i, h := range header {
		h = normalizeHeader(h)
		for field, variants := range headerVariants {
			if _, seen := cols[field]; seen {
				continue
			}
			for _, v := range variants {
				if h == v {
					cols[field] = i
				}
			}
		}
	}
	return cols
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

var (
	errNotANumber = errors.New("not a number")
	errOutOfRange = errors.New("out of range")
)

// parseNumber reads non-negative integers such as "42", "$1,200" or
// "350.00" that fit an INTEGER column. An empty cell is absent, not an
// error.
func parseNumber(s string) (int64, bool, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return 0, false, errOutOfRange
		}
		return 0, false, errNotANumber
	}
	if f < 0 || f > math.MaxInt32 {
		return 0, false, errOutOfRange
	}
	return int64(f), true, nil
}

// parseStatus matches case-insensitively; anything unknown is Pending.
func parseStatus(s string) crm.Status {
	for _, st := range crm.Statuses {
		if strings.EqualFold(s, string(st)) {
			return st
		}
	}
	return crm.StatusPending
}

func parseColdReason(s string) crm.ColdReason {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
	for _, r := range crm.ColdReasons {
		if s == string(r) {
			return r
		}
	}
	return ""
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
