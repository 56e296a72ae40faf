package routing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/marginalia-wiki/marginalia/internal/caching"
	"github.com/marginalia-wiki/marginalia/internal/httputil"
	"github.com/marginalia-wiki/marginalia/ip"
	"github.com/marginalia-wiki/marginalia/moderationapi/builder"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

const defaultListLimit = 200

// SubmitChange intercepts an edit, move or upload into the queue. The
// request's "kind" selects the shape; everything else mirrors what the
// platform's own save form would have submitted.
func SubmitChange(req *http.Request, b *builder.Builder) httputil.JSONResponse {
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}

	author := userFromBody(body, "author")
	target := types.TargetRef{
		Namespace: int(body.Get("target.namespace").Int()),
		Title:     body.Get("target.title").String(),
	}
	if target.Title == "" {
		return httputil.MessageResponse(http.StatusBadRequest, "missing target.title")
	}
	provenance := ip.FromRequest(req, "")

	var change *types.PendingChange
	var err error
	switch kind := body.Get("kind").String(); kind {
	case "move":
		change, err = b.QueueMove(req.Context(), builder.MoveInput{
			Author: author,
			From:   target,
			To: types.TargetRef{
				Namespace: int(body.Get("dest.namespace").Int()),
				Title:     body.Get("dest.title").String(),
			},
			Summary:       body.Get("summary").String(),
			IdentityToken: body.Get("identity_token").String(),
			Provenance:    provenance,
			Tags:          tagsFromBody(body, "tags"),
		})
	case "upload":
		change, err = b.QueueUpload(req.Context(), builder.UploadInput{
			Author:        author,
			Target:        target,
			StashKey:      body.Get("stash_key").String(),
			Content:       body.Get("content").String(),
			Summary:       body.Get("summary").String(),
			IdentityToken: body.Get("identity_token").String(),
			Provenance:    provenance,
			Tags:          tagsFromBody(body, "tags"),
		})
	case "", "edit":
		change, err = b.QueueEdit(req.Context(), builder.EditInput{
			Author:        author,
			Target:        target,
			Content:       body.Get("content").String(),
			OldLength:     body.Get("old_length").Int(),
			Summary:       body.Get("summary").String(),
			BaseRevision:  body.Get("base_revision").Int(),
			Section:       body.Get("section").String(),
			SectionText:   body.Get("section_text").String(),
			MinorEdit:     body.Get("minor").Bool(),
			BotEdit:       body.Get("bot").Bool(),
			NewPage:       body.Get("new_page").Bool(),
			IdentityToken: body.Get("identity_token").String(),
			Provenance:    provenance,
			Tags:          tagsFromBody(body, "tags"),
		})
	default:
		return httputil.MessageResponse(http.StatusBadRequest, "unknown change kind "+strconv.Quote(kind))
	}
	if err != nil {
		return errorResponse(req, err)
	}

	return httputil.JSONResponse{
		Code: http.StatusAccepted,
		JSON: struct {
			ID         int64  `json:"id"`
			PreloadKey string `json:"preload_key"`
		}{ID: change.ID, PreloadKey: change.PreloadKey},
	}
}

// ListQueue returns the review folders: pending by default, the
// rejected archive with ?folder=rejected.
func ListQueue(req *http.Request, db storage.Database) httputil.JSONResponse {
	rejected := req.URL.Query().Get("folder") == "rejected"
	limit := defaultListLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return httputil.MessageResponse(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	changes, err := db.ListChanges(req.Context(), rejected, limit)
	if err != nil {
		return errorResponse(req, err)
	}
	if changes == nil {
		changes = []*types.PendingChange{}
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Changes []*types.PendingChange `json:"changes"`
		}{Changes: changes},
	}
}

// LatestPending reports the timestamp of the newest pending change.
// Review dashboards poll this, so it is served from cache when warm.
func LatestPending(req *http.Request, db storage.Database, caches *caching.Caches) httputil.JSONResponse {
	ts, ok := caches.GetPendingTimestamp()
	if !ok {
		var err error
		ts, err = db.LatestPendingTimestamp(req.Context())
		if err != nil {
			return errorResponse(req, err)
		}
		caches.SetPendingTimestamp(ts)
	}

	var latest *time.Time
	if !ts.IsZero() {
		latest = &ts
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Latest *time.Time `json:"latest,omitempty"`
		}{Latest: latest},
	}
}

// RecentLog returns the newest audit-log entries.
func RecentLog(req *http.Request, db storage.Database) httputil.JSONResponse {
	limit := defaultListLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return httputil.MessageResponse(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}
	entries, err := db.RecentLogEntries(req.Context(), limit)
	if err != nil {
		return errorResponse(req, err)
	}
	if entries == nil {
		entries = []*types.LogEntry{}
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Entries []*types.LogEntry `json:"entries"`
		}{Entries: entries},
	}
}
