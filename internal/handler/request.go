package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/middleware"
	"truckcount-api/pkg/apierror"
	"truckcount-api/pkg/response"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body. Numbers stay json.Number so counts are not
// rounded through float64. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apierror.BadRequest("invalid JSON")
	}
	return nil
}

// writeError sends err and logs it when it maps to a server-side failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.From(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed",
			"component", "http",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"status", apiErr.StatusCode,
			"error", err,
		)
	}
	response.Error(w, apiErr)
}
