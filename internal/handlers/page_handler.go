package handlers

import (
	"bytes"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"github.com/ternarybob/codewiki/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// PageHandler serves generated wiki pages, raw or rendered.
type PageHandler struct {
	storage  interfaces.JobStorage
	markdown goldmark.Markdown
	logger   arbor.ILogger
}

func NewPageHandler(storage interfaces.JobStorage, logger arbor.ILogger) *PageHandler {
	return &PageHandler{
		storage: storage,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger: logger,
	}
}

// GetPageHandler returns one page row as JSON.
// GET /api/wiki_generation/{id}/pages/{pageID}
func (h *PageHandler) GetPageHandler(w http.ResponseWriter, r *http.Request, jobID, pageID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	page, err := h.storage.GetPage(r.Context(), jobID, pageID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Page not found")
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// GetPageHTMLHandler returns a completed page rendered to HTML.
// GET /api/wiki_generation/{id}/pages/{pageID}/html
func (h *PageHandler) GetPageHTMLHandler(w http.ResponseWriter, r *http.Request, jobID, pageID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	page, err := h.storage.GetPage(r.Context(), jobID, pageID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Page not found")
		return
	}
	if page.Status != models.PageStatusCompleted {
		WriteError(w, http.StatusConflict, "Page is not completed")
		return
	}

	var rendered bytes.Buffer
	if err := h.markdown.Convert([]byte(page.Content), &rendered); err != nil {
		h.logger.Error().Str("job_id", jobID).Str("page_id", pageID).Err(err).Msg("Markdown rendering failed")
		WriteError(w, http.StatusInternalServerError, "Rendering failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(rendered.Bytes())
}
