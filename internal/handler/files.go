package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/trilma/internal/blob"
	appI18n "github.com/pavelanni/trilma/internal/i18n"
	"github.com/pavelanni/trilma/internal/model"
)

// handleExamFile streams a stored exam back to its owner. fileID is either
// the storage id or the file name the renderer returned.
func (h *Handler) handleExamFile(w http.ResponseWriter, r *http.Request) {
	owner, _ := model.UserFromContext(r.Context())
	fileID := chi.URLParam(r, "fileID")

	var (
		art *model.ExamArtifact
		err error
	)
	if strings.HasSuffix(fileID, ".pdf") {
		art, err = h.store.FindExamByFileName(r.Context(), owner, fileID)
	} else {
		art, err = h.store.GetExam(r.Context(), owner, fileID)
	}
	if errors.Is(err, model.ErrNotFound) {
		h.writeNotFound(w, r, fileID)
		return
	}
	if err != nil {
		slog.Error("failed to look up exam", "owner", owner, "file_id", fileID, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "ErrInternal", nil)
		return
	}

	data, err := h.blobs.Fetch(r.Context(), blob.Namespace(h.config.Env, owner), art.ID)
	if errors.Is(err, model.ErrNotFound) {
		slog.Error("exam record without stored document", "owner", owner, "id", art.ID)
		h.writeNotFound(w, r, fileID)
		return
	}
	if err != nil {
		slog.Error("failed to fetch exam", "owner", owner, "id", art.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "ErrInternal", nil)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": art.FileName}))
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write exam", "id", art.ID, "error", err)
	}
}

func (h *Handler) writeNotFound(w http.ResponseWriter, r *http.Request, fileID string) {
	writeJSON(w, http.StatusNotFound, envelope{
		Errors:  []string{codeNotFound},
		Message: appI18n.Td(r.Context(), "ErrExamNotFound", map[string]any{"ID": fileID}),
	})
}
