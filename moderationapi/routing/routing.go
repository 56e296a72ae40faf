// Package routing exposes the moderation core over HTTP for the rest
// of the platform. The surface is internal: the wiki frontend has
// already authenticated its users and passes their identity along.
package routing

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marginalia-wiki/marginalia/internal/caching"
	"github.com/marginalia-wiki/marginalia/internal/httputil"
	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/builder"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage"
	"github.com/marginalia-wiki/marginalia/setup/config"
)

// Setup registers all moderation routes on the given router.
func Setup(
	router *mux.Router,
	cfg *config.ModerationAPI,
	moderation api.ModerationAPI,
	queueBuilder *builder.Builder,
	db storage.Database,
	caches *caching.Caches,
) {
	rateLimits := httputil.NewRateLimits(&cfg.RateLimiting)

	v1 := router.PathPrefix("/_marginalia/moderation/v1").Subrouter()

	v1.Handle("/queue",
		httputil.MakeJSONHandler("queue_submit", func(req *http.Request) httputil.JSONResponse {
			if r := rateLimits.Limit(req); r != nil {
				return *r
			}
			return SubmitChange(req, queueBuilder)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/queue",
		httputil.MakeJSONHandler("queue_list", func(req *http.Request) httputil.JSONResponse {
			return ListQueue(req, db)
		}),
	).Methods(http.MethodGet, http.MethodOptions)

	v1.Handle("/queue/latest",
		httputil.MakeJSONHandler("queue_latest", func(req *http.Request) httputil.JSONResponse {
			return LatestPending(req, db, caches)
		}),
	).Methods(http.MethodGet, http.MethodOptions)

	v1.Handle("/changes/{id}/approve",
		httputil.MakeJSONHandler("change_approve", func(req *http.Request) httputil.JSONResponse {
			return ApproveChange(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/changes/{id}/reject",
		httputil.MakeJSONHandler("change_reject", func(req *http.Request) httputil.JSONResponse {
			return RejectChange(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/changes/{id}/merge",
		httputil.MakeJSONHandler("change_merge", func(req *http.Request) httputil.JSONResponse {
			return MergeChange(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/authors/{id}/approveall",
		httputil.MakeJSONHandler("author_approveall", func(req *http.Request) httputil.JSONResponse {
			return ApproveAll(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/authors/{id}/rejectall",
		httputil.MakeJSONHandler("author_rejectall", func(req *http.Request) httputil.JSONResponse {
			return RejectAll(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/authors/{id}/block",
		httputil.MakeJSONHandler("author_block", func(req *http.Request) httputil.JSONResponse {
			return BlockAuthor(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/authors/{id}/unblock",
		httputil.MakeJSONHandler("author_unblock", func(req *http.Request) httputil.JSONResponse {
			return UnblockAuthor(req, moderation)
		}),
	).Methods(http.MethodPost, http.MethodOptions)

	v1.Handle("/log",
		httputil.MakeJSONHandler("audit_log", func(req *http.Request) httputil.JSONResponse {
			return RecentLog(req, db)
		}),
	).Methods(http.MethodGet, http.MethodOptions)
}
