package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kirillkom/casefile/internal/core/domain"
)

type UploadLister interface {
	Items() []domain.UploadQueueItem
}

type SessionState interface {
	Expired() bool
}

// Router serves the local admin endpoints of a running casefile process.
type Router struct {
	metrics http.Handler
	uploads UploadLister
	session SessionState
	logger  *slog.Logger
}

func NewRouter(metrics http.Handler, uploads UploadLister, session SessionState, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		metrics: metrics,
		uploads: uploads,
		session: session,
		logger:  logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /readyz", rt.readyz)
	mux.HandleFunc("GET /v1/uploads", rt.listUploads)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics)
	}
	return requestIDMiddleware(sessionMiddleware(rt.session, accessLogMiddleware(rt.logger, recoverMiddleware(rt.logger, mux))))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz fails once the API rejected the token, so supervisors can restart with a fresh one.
func (rt *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	if rt.session != nil && rt.session.Expired() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "session_expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type uploadView struct {
	ID       string `json:"id"`
	BatchID  string `json:"batchId"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Pages    int    `json:"pages,omitempty"`
}

func (rt *Router) listUploads(w http.ResponseWriter, _ *http.Request) {
	if rt.uploads == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []uploadView{}})
		return
	}
	items := rt.uploads.Items()
	out := make([]uploadView, 0, len(items))
	for _, it := range items {
		out = append(out, uploadView{
			ID:       it.ID,
			BatchID:  it.BatchID,
			Filename: it.Filename,
			Size:     it.Size,
			Progress: it.Progress,
			Status:   string(it.Status),
			Error:    it.Error,
			Pages:    it.PageCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
