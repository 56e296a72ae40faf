// Package httputil carries the shared HTTP plumbing: the JSON handler
// wrapper and per-caller rate limiting.
package httputil

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// JSONResponse is a response body plus the status to send it with.
type JSONResponse struct {
	Code int
	JSON interface{}
}

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func MessageResponse(code int, msg string) JSONResponse {
	return JSONResponse{Code: code, JSON: ErrorBody{Error: msg}}
}

func ErrorResponse(code int, err error) JSONResponse {
	return MessageResponse(code, err.Error())
}

var requestDurations = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "marginalia",
		Subsystem: "moderationapi",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests by handler",
	},
	[]string{"handler", "code"},
)

func init() {
	prometheus.MustRegister(requestDurations)
}

// MakeJSONHandler wraps a request function into an http.Handler that
// assigns a request id, logs, recovers panics to Sentry and writes the
// response as JSON.
func MakeJSONHandler(name string, f func(req *http.Request) JSONResponse) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		logger := logrus.WithFields(logrus.Fields{
			"req.id":     reqID,
			"req.method": req.Method,
			"req.path":   req.URL.Path,
			"handler":    name,
		})

		var res JSONResponse
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("panic", r).Errorf(
						"Request panicked!\n%s", debug.Stack(),
					)
					if hub := sentry.CurrentHub(); hub.Client() != nil {
						hub.Recover(r)
					}
					res = MessageResponse(http.StatusInternalServerError, "internal server error")
				}
			}()
			res = f(req)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(res.Code)
		if err := json.NewEncoder(w).Encode(res.JSON); err != nil {
			logger.WithError(err).Error("Failed to write response")
		}

		requestDurations.With(prometheus.Labels{
			"handler": name,
			"code":    http.StatusText(res.Code),
		}).Observe(time.Since(start).Seconds())

		if res.Code >= 500 {
			logger.WithField("code", res.Code).Error("Request failed")
		} else {
			logger.WithField("code", res.Code).
				WithField("duration", time.Since(start)).
				Debug("Request completed")
		}
	})
}
