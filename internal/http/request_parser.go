package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"subtrack/internal/core"
)

const (
	defaultHorizonDays = 30
	maxHorizonDays     = 366
	defaultUpcoming    = 5
	maxUpcoming        = 100
)

// errBadRequest marks bodies that are not decodable at all, as opposed to
// values that decode but fail validation.
var errBadRequest = errors.New("malformed request")

// Window is the upcoming-renewals window requested by the caller.
type Window struct {
	Horizon int
	Limit   int
}

// ParseWindow reads horizon and limit from the query, falling back to 30 days
// and 5 items.
func ParseWindow(query url.Values) (Window, error) {
	w := Window{Horizon: defaultHorizonDays, Limit: defaultUpcoming}

	if v := strings.TrimSpace(query.Get("horizon")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxHorizonDays {
			return Window{}, core.NewValidationError("horizon", fmt.Sprintf("must be a number of days between 0 and %d", maxHorizonDays))
		}
		w.Horizon = n
	}
	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxUpcoming {
			return Window{}, core.NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", maxUpcoming))
		}
		w.Limit = n
	}

	return w, nil
}

// ParseRefresh reports whether the caller asked to re-read the store.
func ParseRefresh(query url.Values) (bool, error) {
	v := strings.TrimSpace(query.Get("refresh"))
	if v == "" {
		return false, nil
	}
	refresh, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.NewValidationError("refresh", "must be true or false")
	}
	return refresh, nil
}

// decodeJSON reads a single JSON object from the request body into dst.
// Validation errors raised while decoding (amounts, dates) are returned as
// is; anything else is reported as errBadRequest.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if core.IsValidation(err) {
			return err
		}
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, maxErr.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}
	return nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
