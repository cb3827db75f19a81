package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cubechat/internal/util"
	"cubechat/pkg/realtime"
)

// streamPingInterval keeps idle SSE connections from being reaped by
// intermediaries.
const streamPingInterval = 25 * time.Second

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		msgs, err := s.app.RecentMessages(r.Context(), limit, r.URL.Query().Get("cube"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		if !s.allowRate(w, r, s.sendLimiter, "too many messages") {
			return
		}
		user, ok := s.resolveIdentity(w, r)
		if !ok {
			return
		}
		var req struct {
			Content  string `json:"content"`
			ParentID string `json:"parentMessageId"`
			CubeID   string `json:"cubeId"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), user, req.Content, req.ParentID, req.CubeID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

// /api/messages/mine, /api/messages/stream, /api/messages/{id},
// /api/messages/{id}/replies
func (s *Server) handleMessageSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.SplitN(path, "/", 2)
	switch parts[0] {
	case "":
		notFound(w, "not found")
		return
	case "mine":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		user, ok := s.resolveIdentity(w, r)
		if !ok {
			return
		}
		msgs, err := s.app.MessagesForUser(r.Context(), user, r.URL.Query().Get("cube"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
		return
	case "stream":
		s.handleStream(w, r)
		return
	}

	id := parts[0]
	if len(parts) == 2 {
		if parts[1] != "replies" || r.Method != http.MethodGet {
			notFound(w, "not found")
			return
		}
		replies, err := s.app.MessageReplies(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, replies)
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	user, ok := s.resolveIdentity(w, r)
	if !ok {
		return
	}
	if err := s.app.RemoveMessage(r.Context(), user, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleStream serves the realtime feed over server-sent events. Message and
// cube change events arrive as "message" and "cube" event types; a "seen"
// query parameter seeds the dedup filter with ids the client already renders.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime feed unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	msgSub, err := s.feed.SubscribeMessages(ctx, r.URL.Query().Get("cube"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "realtime feed unavailable")
		return
	}
	defer msgSub.Close()
	cubeSub, err := s.feed.SubscribeCubes(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "realtime feed unavailable")
		return
	}
	defer cubeSub.Close()

	var seen []string
	if raw := strings.TrimSpace(r.URL.Query().Get("seen")); raw != "" {
		seen = strings.Split(raw, ",")
	}
	dedupe := realtime.NewDeduper(seen...)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := util.LoggerFromContext(ctx)
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-msgSub.C():
			if !ok {
				return
			}
			if !dedupe.Observe(msg.ID) {
				continue
			}
			if err := writeEvent(w, "message", msg); err != nil {
				logger.Warn("write stream event", "error", err)
				return
			}
			flusher.Flush()
		case cube, ok := <-cubeSub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, "cube", cube); err != nil {
				logger.Warn("write stream event", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
