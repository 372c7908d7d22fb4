package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/aussiebroadwan/authcore/pkg/validx"
)

// maxBodyBytes caps request bodies; every body here is a handful of fields.
const maxBodyBytes = 64 << 10

var kindStatus = map[service.Kind]int{
	service.KindValidation:         http.StatusBadRequest,
	service.KindInvalidCredentials: http.StatusUnauthorized,
	service.KindEmailNotVerified:   http.StatusForbidden,
	service.KindEmailTaken:         http.StatusConflict,
	service.KindInvalidToken:       http.StatusBadRequest,
	service.KindInvalidMFACode:     http.StatusBadRequest,
	service.KindRateLimited:        http.StatusTooManyRequests,
	service.KindSessionInvalid:     http.StatusUnauthorized,
	service.KindUnauthorized:       http.StatusUnauthorized,
	service.KindForbidden:          http.StatusForbidden,
	service.KindUnavailable:        http.StatusServiceUnavailable,
}

// statusOverride changes the status for specific kinds on one endpoint.
type statusOverride map[service.Kind]int

// toAPIError converts a service error to its wire form.
func toAPIError(err error, override statusOverride) *authsdk.APIError {
	se := service.AsError(err)

	status, ok := override[se.Kind]
	if !ok {
		status, ok = kindStatus[se.Kind]
	}
	if !ok {
		status = http.StatusInternalServerError
	}

	out := &authsdk.APIError{
		StatusCode:  status,
		Code:        string(se.Kind),
		Description: se.Message,
		Fields:      se.Fields,
	}
	if !se.ResetAt.IsZero() {
		resetAt := se.ResetAt.UTC()
		out.ResetAt = &resetAt
	}
	return out
}

// writeServiceError writes err and logs internal causes. Nothing beyond the
// public message reaches the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, override statusOverride) {
	writeServiceErrorAt(w, r, err, override, time.Now())
}

// writeServiceErrorAt is writeServiceError with the time used for
// Retry-After on rate-limit errors.
func writeServiceErrorAt(w http.ResponseWriter, r *http.Request, err error, override statusOverride, now time.Time) {
	apiErr := toAPIError(err, override)

	log := slogx.FromContext(r.Context())
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.Error("request failed", "kind", apiErr.Code, "err", err)
	} else {
		log.Debug("request rejected", "kind", apiErr.Code, "err", err)
	}

	if apiErr.ResetAt != nil {
		secs := int(math.Ceil(apiErr.ResetAt.Sub(now).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	apiErr.WriteError(w)
}

// decodeJSON reads a JSON body into dst. It writes the error response itself
// and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		slogx.FromContext(r.Context()).Debug("invalid request body", "err", err)
		authsdk.ErrInvalidRequest.WriteError(w)
		return false
	}
	return true
}

// decodeAndValidate is decodeJSON followed by the validate tags on dst.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}

	if fields := validx.Struct(dst); len(fields) > 0 {
		(&authsdk.APIError{
			StatusCode:  http.StatusBadRequest,
			Code:        string(service.KindValidation),
			Description: "Validation failed",
			Fields:      fields,
		}).WriteError(w)
		return false
	}
	return true
}

// requestMeta describes the caller for audit entries.
func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		IP:        httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// principal returns the caller set by the authn middleware.
func principal(w http.ResponseWriter, r *http.Request) (httpx.Principal, bool) {
	p, ok := httpx.PrincipalFrom(r.Context())
	if !ok || p.UserID == "" {
		authsdk.ErrUnauthorized.WriteError(w)
		return httpx.Principal{}, false
	}
	return p, true
}
