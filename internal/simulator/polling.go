package simulator

import (
	"encoding/json"
	"net/http"
	"time"

	"procodus.dev/facility-monitor/pkg/transport"
)

const maxPollBatch = 32

func (s *Server) pollOpen(w http.ResponseWriter, r *http.Request) {
	if sid := r.URL.Query().Get("sid"); sid != "" {
		s.pollSend(w, r, sid)
		return
	}
	c := s.hub.register(kindPolling)
	writeJSON(w, http.StatusOK, map[string]string{"sid": c.id})
}

func (s *Server) pollClient(w http.ResponseWriter, r *http.Request) (*client, bool) {
	c, ok := s.hub.lookup(r.URL.Query().Get("sid"))
	if !ok || c.kind != kindPolling {
		http.Error(w, "unknown session", http.StatusGone)
		return nil, false
	}
	c.touch()
	return c, true
}

// pollReceive blocks until at least one frame is queued or the poll
// timeout passes, then returns every queued frame.
func (s *Server) pollReceive(w http.ResponseWriter, r *http.Request) {
	c, ok := s.pollClient(w, r)
	if !ok {
		return
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	var batch []transport.Frame
	select {
	case f := <-c.send:
		batch = append(batch, f)
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	case <-c.done:
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-r.Context().Done():
		return
	}

drain:
	for len(batch) < maxPollBatch {
		select {
		case f := <-c.send:
			batch = append(batch, f)
		default:
			break drain
		}
	}
	c.touch()
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) pollSend(w http.ResponseWriter, r *http.Request, sid string) {
	c, ok := s.hub.lookup(sid)
	if !ok || c.kind != kindPolling {
		http.Error(w, "unknown session", http.StatusGone)
		return
	}
	var f transport.Frame
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&f); err != nil {
		http.Error(w, "bad frame", http.StatusBadRequest)
		return
	}
	s.hub.handle(c, f)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pollClose(w http.ResponseWriter, r *http.Request) {
	if c, ok := s.hub.lookup(r.URL.Query().Get("sid")); ok {
		s.hub.unregister(c)
	}
	w.WriteHeader(http.StatusNoContent)
}
