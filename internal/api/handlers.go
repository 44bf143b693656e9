package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/store"
	"github.com/go-chi/chi/v5"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, message.ErrInvalidLane),
		errors.Is(err, message.ErrInvalidStatus),
		errors.Is(err, queue.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, message.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "op", op, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("Request rejected", "op", op, "status", status, "err", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", errBadRequest, raw)
	}
	return id, nil
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	var req AddMessageRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "add_message", err)
		return
	}

	created, err := s.queue.Enqueue(r.Context(), message.New{
		Lane:   req.MessageType,
		Sender: req.SentBy,
		Text:   req.Text,
		Amount: req.BitsAmount,
	})
	if err != nil {
		s.fail(w, r, "add_message", err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{
		Message:   "Message added to queue",
		MessageID: created.ID,
	})
}

func (s *Server) snapshot(ctx context.Context) (StatsResponse, error) {
	st, err := s.queue.Stats(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	return StatsResponse{Stats: st, AutoplayEnabled: s.player.AutoplayEnabled()}, nil
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) playNext(w http.ResponseWriter, r *http.Request) {
	m, err := s.player.PlayNext(r.Context())
	if err != nil {
		s.fail(w, r, "play_next", err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, PlayNextResponse{})
		return
	}
	writeJSON(w, http.StatusOK, PlayNextResponse{
		MessageID:     m.ID,
		SentBy:        m.Sender,
		Text:          m.Text,
		AudioFilePath: audioURL(m.AudioPath),
	})
}

func (s *Server) markPlayed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, "mark_played", err)
		return
	}
	if _, err := s.player.MarkPlayed(r.Context(), id); err != nil {
		s.fail(w, r, "mark_played", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message:   "Message marked as played",
		MessageID: id,
	})
}

func (s *Server) autoplay(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		changed := s.player.SetAutoplay(enabled)
		msg := "Autoplay stopped"
		if enabled {
			msg = "Autoplay started"
		}
		writeJSON(w, http.StatusOK, AutoplayResponse{
			Message:         msg,
			AutoplayEnabled: s.player.AutoplayEnabled(),
			Changed:         changed,
		})
	}
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	lane := s.queue.ActiveLane()
	n, err := s.queue.ClearActiveLane(r.Context())
	if err != nil {
		s.fail(w, r, "clear_active_queue", err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{
		Message:      fmt.Sprintf("Active queue (%s) cleared. %d messages marked as deleted.", lane, n),
		ClearedCount: n,
	})
}

func (s *Server) switchLane(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, "switch_active_queue", err)
		return
	}
	lane, err := message.ParseLane(req.QueueType)
	if err != nil {
		s.fail(w, r, "switch_active_queue", err)
		return
	}

	switched := s.queue.SwitchLane(string(lane))
	msg := fmt.Sprintf("Active queue switched to %s", lane)
	if !switched {
		msg = fmt.Sprintf("Queue '%s' is already active. No change made.", lane)
	}
	writeJSON(w, http.StatusOK, SwitchResponse{
		Message:         msg,
		ActiveQueueType: s.queue.ActiveLane(),
		Switched:        switched,
	})
}

// listMessages serves GET /tts/messages?status=READY,PENDING&lane=bits&limit=20&order=newest.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		s.fail(w, r, "messages", err)
		return
	}
	msgs, err := s.queue.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, "messages", err)
		return
	}

	out := make([]Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, FromMessage(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter

	if raw := q.Get("lane"); raw != "" {
		lane, err := message.ParseLane(raw)
		if err != nil {
			return f, err
		}
		f.Lane = lane
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := message.ParseStatus(part)
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
		}
		f.Limit = n
	}
	switch q.Get("order") {
	case "", "oldest":
	case "newest":
		f.Newest = true
	default:
		return f, fmt.Errorf("%w: order must be oldest or newest", errBadRequest)
	}
	return f, nil
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, "message", err)
		return
	}
	m, err := s.queue.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, "message", err)
		return
	}
	writeJSON(w, http.StatusOK, FromMessage(m))
}

func (s *Server) ttsConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.pinger == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
