package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kalambet/chatfn/internal/auth"
	"github.com/kalambet/chatfn/internal/blob"
	"github.com/kalambet/chatfn/internal/errs"
	"github.com/kalambet/chatfn/internal/ingest"
)

type voiceToTextRequest struct {
	VoicePath string `json:"voicePath"`
}

func handleVoiceToText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req voiceToTextRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		src := strings.TrimSpace(req.VoicePath)
		if src == "" {
			writeError(w, r, errs.Validation("voicePath is required"))
			return
		}
		if err := authorizePath(r, src); err != nil {
			writeError(w, r, err)
			return
		}

		transcript, err := deps.Voice.Transcribe(context.WithoutCancel(r.Context()), src)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
	}
}

type vectorizeRequest struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

func handleVectorize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req vectorizeRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Bucket == "" || req.Path == "" {
			writeError(w, r, errs.Validation("Missing bucket or path"))
			return
		}
		if err := authorizePath(r, req.Path); err != nil {
			writeError(w, r, err)
			return
		}

		id, err := ingest.EnqueueVectorize(context.WithoutCancel(r.Context()), deps.Jobs, req.Bucket, req.Path)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
	}
}

// deleteRequest is the payload of a row-deletion webhook: the deleted row
// arrives as old_record.
type deleteRequest struct {
	OldRecord *struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	} `json:"old_record"`
}

func handleDeleteUserStorage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.OldRecord == nil || req.OldRecord.ID == "" {
			writeError(w, r, errs.Validation("Missing user_id in old_record"))
			return
		}
		userID := req.OldRecord.ID
		if !validSegment(userID) {
			writeError(w, r, errs.Validation("Invalid user_id in old_record"))
			return
		}

		ident, _ := auth.FromContext(r.Context())
		if err := auth.Authorize(ident, userID); err != nil {
			writeError(w, r, err)
			return
		}

		// A cleanup that has started runs to completion even if the caller leaves.
		ctx := context.WithoutCancel(r.Context())
		if _, err := deps.Storage.DeleteSubtree(ctx, blob.UserPrefix(userID)); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleDeleteChatStorage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.OldRecord == nil || req.OldRecord.ID == "" || req.OldRecord.UserID == "" {
			writeError(w, r, errs.Validation("Missing user_id or chat_id in old_record"))
			return
		}
		userID, chatID := req.OldRecord.UserID, req.OldRecord.ID
		if !validSegment(userID) || !validSegment(chatID) {
			writeError(w, r, errs.Validation("Invalid user_id or chat_id in old_record"))
			return
		}

		ident, _ := auth.FromContext(r.Context())
		if err := auth.Authorize(ident, userID); err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		if _, err := deps.Storage.DeleteSubtree(ctx, blob.ChatPrefix(userID, chatID)); err != nil {
			writeError(w, r, err)
			return
		}
		if deps.Vectors != nil {
			if _, err := deps.Vectors.DeleteByChat(ctx, chatID); err != nil {
				writeError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// authorizePath allows access to paths under the caller's own prefix.
// Service callers may read any path.
func authorizePath(r *http.Request, p string) error {
	ident, _ := auth.FromContext(r.Context())
	owner, _, _ := strings.Cut(strings.TrimLeft(p, "/"), "/")
	return auth.Authorize(ident, owner)
}

// validSegment reports whether id names exactly one path segment, so the
// prefix built from it can never widen to a parent folder or the bucket root.
func validSegment(id string) bool {
	return strings.Trim(id, "/ ") != "" && !strings.Contains(id, "/") && id != "." && id != ".."
}
