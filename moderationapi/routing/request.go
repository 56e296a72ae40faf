package routing

import (
	"io"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/marginalia-wiki/marginalia/internal/httputil"
	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// maxBodyBytes bounds request bodies. Queued page content has to fit,
// so this is generous.
const maxBodyBytes = 8 << 20

// readBody slurps and validates the JSON request body.
func readBody(req *http.Request) (gjson.Result, *httputil.JSONResponse) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		res := httputil.MessageResponse(http.StatusBadRequest, "unreadable request body")
		return gjson.Result{}, &res
	}
	if !gjson.ValidBytes(body) {
		res := httputil.MessageResponse(http.StatusBadRequest, "request body is not valid JSON")
		return gjson.Result{}, &res
	}
	return gjson.ParseBytes(body), nil
}

// pathID extracts the numeric {id} route variable.
func pathID(req *http.Request) (int64, *httputil.JSONResponse) {
	id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil || id <= 0 {
		res := httputil.MessageResponse(http.StatusBadRequest, "invalid id in path")
		return 0, &res
	}
	return id, nil
}

func reviewerFromBody(body gjson.Result) api.Reviewer {
	return api.Reviewer{
		User: types.UserRef{
			ID:   body.Get("reviewer.id").Int(),
			Name: body.Get("reviewer.name").String(),
		},
		CanSkipModeration: body.Get("reviewer.can_skip_moderation").Bool(),
	}
}

func userFromBody(body gjson.Result, path string) types.UserRef {
	return types.UserRef{
		ID:   body.Get(path + ".id").Int(),
		Name: body.Get(path + ".name").String(),
	}
}

func tagsFromBody(body gjson.Result, path string) []string {
	var tags []string
	for _, t := range body.Get(path).Array() {
		tags = append(tags, t.String())
	}
	return tags
}

// errorResponse maps the typed business errors onto HTTP statuses.
// Anything unexpected goes to Sentry and comes back as a 500.
func errorResponse(req *http.Request, err error) httputil.JSONResponse {
	switch {
	case err == nil:
		return httputil.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
	case err == types.ErrNotFound:
		return httputil.ErrorResponse(http.StatusNotFound, err)
	case err == types.ErrPermissionDenied:
		return httputil.ErrorResponse(http.StatusForbidden, err)
	case types.IsInvalidState(err):
		return httputil.ErrorResponse(http.StatusConflict, err)
	default:
		logrus.WithContext(req.Context()).WithError(err).Error("Moderation request failed")
		if hub := sentry.CurrentHub(); hub.Client() != nil {
			hub.CaptureException(err)
		}
		return httputil.MessageResponse(http.StatusInternalServerError, "internal server error")
	}
}
