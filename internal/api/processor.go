package api

import (
	"crypto/subtle"
	"net/http"
)

// ─── POST /api/processor/run ──────────────────────────────────────────────────

// handleRunProcessor asks the batch processor for an immediate invocation.
// It returns as soon as the request is queued; the work happens in the
// background and its outcome is only visible on the order.
func (s *Server) handleRunProcessor(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ProcessorToken != "" {
		got := r.Header.Get("X-Processor-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.ProcessorToken)) != 1 {
			respondErr(w, http.StatusUnauthorized, "invalid processor token")
			return
		}
	}

	if s.trigger == nil {
		respondErr(w, http.StatusServiceUnavailable, "processor is not running in this deployment")
		return
	}

	if err := s.trigger.Trigger(r.Context()); err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]string{"message": "processor triggered"})
}
