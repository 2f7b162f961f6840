package api

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
	pageAll    = "all"
)

type recordsQuery struct {
	Page   string `validate:"omitempty,registry_page"`
	GM     bool
	Format string `validate:"oneof=json csv"`
	Log    bool
}

// all reports whether the whole registry was requested.
func (q recordsQuery) all() bool {
	return strings.EqualFold(q.Page, pageAll)
}

// pageIndex returns the requested page, defaulting to 0.
func (q recordsQuery) pageIndex() int {
	if q.Page == "" {
		return 0
	}
	n, _ := strconv.Atoi(q.Page)
	return n
}

func (q recordsQuery) variant() crawler.Variant {
	return crawler.VariantFor(q.GM)
}

type cachedQuery struct {
	GM     bool
	Format string `validate:"oneof=json csv"`
	Limit  int    `validate:"min=1,max=1000"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("registry_page", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.EqualFold(s, pageAll) {
			return true
		}
		n, err := strconv.Atoi(s)
		return err == nil && n >= 0
	})
	return v
}

func (s *Server) parseRecordsQuery(values url.Values) (recordsQuery, error) {
	q := recordsQuery{
		Page:   strings.TrimSpace(values.Get("page")),
		Format: formatOf(values),
	}
	var err error
	if q.GM, err = parseFlag(values, "gm"); err != nil {
		return recordsQuery{}, err
	}
	if q.Log, err = parseFlag(values, "log"); err != nil {
		return recordsQuery{}, err
	}
	if err := s.validate.Struct(q); err != nil {
		return recordsQuery{}, describe(err)
	}
	return q, nil
}

func (s *Server) parseCachedQuery(values url.Values) (cachedQuery, error) {
	q := cachedQuery{Format: formatOf(values), Limit: s.cfg.DefaultCachedLimit}
	var err error
	if q.GM, err = parseFlag(values, "gm"); err != nil {
		return cachedQuery{}, err
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			return cachedQuery{}, fmt.Errorf("limit must be an integer")
		}
	}
	if err := s.validate.Struct(q); err != nil {
		return cachedQuery{}, describe(err)
	}
	return q, nil
}

func formatOf(values url.Values) string {
	f := strings.ToLower(strings.TrimSpace(values.Get("format")))
	if f == "" {
		return formatJSON
	}
	return f
}

// parseFlag treats a bare key (?gm) as true.
func parseFlag(values url.Values, key string) (bool, error) {
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	v := strings.TrimSpace(raw[0])
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "registry_page":
		return fmt.Errorf("page must be a non-negative integer or %q", pageAll)
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", strings.ToLower(fe.Field()), fe.Param())
	default:
		return fmt.Errorf("%s failed %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param())
	}
}
