package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spok95/attendance-engine/internal/apperr"
	"github.com/Spok95/attendance-engine/internal/models"
)

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid id", apperr.Field("id", "must be a positive integer"))
	}
	return id, nil
}

// optDate — пустой параметр даёт nil.
func optDate(q url.Values, key string) (*time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	d, err := models.ParseDate(v)
	if err != nil {
		return nil, apperr.Validation("invalid query", apperr.Field(key, "must be a date YYYY-MM-DD"))
	}
	return &d, nil
}

func reqDate(q url.Values, key string) (time.Time, error) {
	d, err := optDate(q, key)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, apperr.Validation("invalid query", apperr.Field(key, "required"))
	}
	return *d, nil
}

func optInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid query", apperr.Field(key, "must be a non-negative integer"))
	}
	return n, nil
}

// classQuery — группа из courseType/year/stream/section. Ни одного параметра —
// nil. Частично заданная группа — ошибка.
func classQuery(q url.Values) (*models.ClassIdentity, error) {
	ct := strings.TrimSpace(q.Get("courseType"))
	year := strings.TrimSpace(q.Get("year"))
	stream := strings.TrimSpace(q.Get("stream"))
	section := strings.TrimSpace(q.Get("section"))
	if year == "" && stream == "" && section == "" {
		return nil, nil
	}

	var fields []apperr.FieldError
	if ct == "" {
		fields = append(fields, apperr.Field("courseType", "required"))
	}
	y, err := strconv.Atoi(year)
	if err != nil || y <= 0 {
		fields = append(fields, apperr.Field("year", "must be a positive integer"))
	}
	if section == "" {
		fields = append(fields, apperr.Field("section", "required"))
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid class", fields...)
	}
	c := models.ClassIdentity{CourseType: ct, Year: y, Stream: stream, Section: section}.Normalize()
	return &c, nil
}

func unitQuery(q url.Values, key string) (*models.Unit, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	u, err := models.ParseUnit(v)
	if err != nil {
		return nil, apperr.Validation("invalid query", apperr.Field(key, "must be a period number or a prayer"))
	}
	return &u, nil
}
