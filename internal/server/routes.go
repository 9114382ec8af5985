// -----------------------------------------------------------------------
// Last Modified: Thursday, 9th October 2025 8:53:55 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (job lifecycle events)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Wiki generation
	mux.HandleFunc("/api/wiki_generation/start", s.app.WikiHandler.StartHandler)
	mux.HandleFunc("/api/wiki_generation/jobs", s.app.WikiHandler.ListJobsHandler)
	mux.HandleFunc("/api/wiki_generation/status/", s.handleStatusRoutes) // GET /{id} and /{id}/stream
	mux.HandleFunc("/api/wiki_generation/", s.handleJobRoutes)           // transitions, pages, delete

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleStatusRoutes serves /api/wiki_generation/status/{id}[/stream]
func (s *Server) handleStatusRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/wiki_generation/status/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.app.WikiHandler.StatusHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "stream":
		s.app.StreamHandler.StreamProgressHandler(w, r, parts[0])
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleJobRoutes serves the per-job transition and page routes:
//
//	POST   /api/wiki_generation/{id}/pause|resume|cancel|retry
//	DELETE /api/wiki_generation/{id}            (cancel semantics)
//	POST   /api/wiki_generation/{id}/delete
//	GET    /api/wiki_generation/{id}/pages/{pageID}[/html]
//	POST   /api/wiki_generation/{id}/pages/{pageID}/retry
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/wiki_generation/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		if r.Method == http.MethodDelete {
			s.app.WikiHandler.CancelHandler(w, r, jobID)
			return
		}
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "pause":
			s.app.WikiHandler.PauseHandler(w, r, jobID)
		case "resume":
			s.app.WikiHandler.ResumeHandler(w, r, jobID)
		case "cancel":
			s.app.WikiHandler.CancelHandler(w, r, jobID)
		case "retry":
			s.app.WikiHandler.RetryHandler(w, r, jobID)
		case "delete":
			s.app.WikiHandler.DeleteHandler(w, r, jobID)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	if parts[1] == "pages" && len(parts) >= 3 {
		pageID := parts[2]
		switch {
		case len(parts) == 3:
			s.app.PageHandler.GetPageHandler(w, r, jobID, pageID)
		case len(parts) == 4 && parts[3] == "html":
			s.app.PageHandler.GetPageHTMLHandler(w, r, jobID, pageID)
		case len(parts) == 4 && parts[3] == "retry":
			s.app.WikiHandler.RetryPageHandler(w, r, jobID, pageID)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}
