package routing

import (
	"net/http"

	"github.com/marginalia-wiki/marginalia/internal/httputil"
	"github.com/marginalia-wiki/marginalia/moderationapi/api"
)

// ApproveChange replays one queued change. The three documented
// outcomes all come back as 200 with a status; only infrastructure
// failures become 5xx.
func ApproveChange(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	id, errRes := pathID(req)
	if errRes != nil {
		return *errRes
	}
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}

	result, err := moderation.Approve(req.Context(), id, reviewerFromBody(body))
	if err != nil {
		return errorResponse(req, err)
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Status     string `json:"status"`
			RevisionID int64  `json:"revision_id,omitempty"`
		}{Status: approveStatusName(result.Status), RevisionID: result.RevisionID},
	}
}

func approveStatusName(status api.ApproveStatus) string {
	switch status {
	case api.ApproveConflict:
		return "conflict"
	case api.ApproveNoChange:
		return "nochange"
	default:
		return "applied"
	}
}

func RejectChange(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	id, errRes := pathID(req)
	if errRes != nil {
		return *errRes
	}
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}

	if err := moderation.Reject(req.Context(), id, reviewerFromBody(body)); err != nil {
		return errorResponse(req, err)
	}
	return httputil.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
}

// MergeChange saves a reviewer's manually resolved text for a
// conflicting change and closes the row.
func MergeChange(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	id, errRes := pathID(req)
	if errRes != nil {
		return *errRes
	}
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}
	content := body.Get("content")
	if !content.Exists() {
		return httputil.MessageResponse(http.StatusBadRequest, "missing content")
	}

	revision, err := moderation.Merge(req.Context(), id, reviewerFromBody(body), content.String())
	if err != nil {
		return errorResponse(req, err)
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			RevisionID int64 `json:"revision_id"`
		}{RevisionID: revision},
	}
}

// ApproveAll approves the author's whole pending set. Per-row failures
// come back as data so the reviewer sees exactly which rows need
// attention.
func ApproveAll(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	id, errRes := pathID(req)
	if errRes != nil {
		return *errRes
	}
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}
	author := userFromBody(body, "author")
	author.ID = id

	result, err := moderation.ApproveAll(req.Context(), author, reviewerFromBody(body))
	if err != nil {
		return errorResponse(req, err)
	}

	failed := make(map[int64]string, len(result.Failed))
	for changeID, rowErr := range result.Failed {
		failed[changeID] = rowErr.Error()
	}
	approved := result.Approved
	if approved == nil {
		approved = []int64{}
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Approved []int64          `json:"approved"`
			Failed   map[int64]string `json:"failed"`
		}{Approved: approved, Failed: failed},
	}
}

func RejectAll(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	id, errRes := pathID(req)
	if errRes != nil {
		return *errRes
	}
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}
	author := userFromBody(body, "author")
	author.ID = id

	count, err := moderation.RejectAll(req.Context(), author, reviewerFromBody(body))
	if err != nil {
		return errorResponse(req, err)
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Rejected int64 `json:"rejected"`
		}{Rejected: count},
	}
}

// BlockAuthor and UnblockAuthor maintain the standing-block list. Both
// are idempotent; "changed" reports whether this call did anything.
func BlockAuthor(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	return setBlock(req, moderation, true)
}

func UnblockAuthor(req *http.Request, moderation api.ModerationAPI) httputil.JSONResponse {
	return setBlock(req, moderation, false)
}

func setBlock(req *http.Request, moderation api.ModerationAPI, block bool) httputil.JSONResponse {
	id, errRes := pathID(req)
	if errRes != nil {
		return *errRes
	}
	body, errRes := readBody(req)
	if errRes != nil {
		return *errRes
	}
	author := userFromBody(body, "author")
	author.ID = id

	var noop bool
	var err error
	if block {
		noop, err = moderation.Block(req.Context(), author, reviewerFromBody(body))
	} else {
		noop, err = moderation.Unblock(req.Context(), author, reviewerFromBody(body))
	}
	if err != nil {
		return errorResponse(req, err)
	}
	return httputil.JSONResponse{
		Code: http.StatusOK,
		JSON: struct {
			Changed bool `json:"changed"`
		}{Changed: !noop},
	}
}
