package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// errForbidden is returned to callers without the manager role.
var errForbidden = errors.New("category manager role required")

// statusFor maps engine errors to HTTP status codes.
//
//	404: indicator, record or category not found
//	422: quarter/month/data point reference row missing
//	409: duplicate code
//	400: invalid value, period, granularity, date, or failed validation
//	500: everything else
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, kpi.ErrPeriodNotFound):
		return http.StatusUnprocessableEntity
	case kpi.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, kpi.ErrDuplicateCode):
		return http.StatusConflict
	case errors.As(err, &verrs), kpi.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeEngineError writes err with the status statusFor picks. Server
// errors hide their details behind message.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.requestLogger(r).Error(message, zap.Error(err))
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}
