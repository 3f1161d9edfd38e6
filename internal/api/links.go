package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-agent/internal/events"
	"github.com/nerrad567/gray-logic-agent/internal/protocol"
)

// LinkView is the API form of a link.
type LinkView struct {
	AssetID           string             `json:"asset_id"`
	Attribute         string             `json:"attribute"`
	Configuration     string             `json:"configuration"`
	State             protocol.LinkState `json:"state"`
	ReadOnly          bool               `json:"read_only"`
	PollingIntervalMS int64              `json:"polling_interval_ms,omitempty"`
	ResponseTimeoutMS int64              `json:"response_timeout_ms"`
	Retries           int                `json:"retries"`
	LinkedAt          time.Time          `json:"linked_at"`
}

func newLinkView(l protocol.LinkInfo) LinkView {
	return LinkView{
		AssetID:           l.Ref.AssetID,
		Attribute:         l.Ref.Name,
		Configuration:     l.ConfigID,
		State:             l.State,
		ReadOnly:          l.ReadOnly,
		PollingIntervalMS: l.PollingInterval.Milliseconds(),
		ResponseTimeoutMS: l.ResponseTimeout.Milliseconds(),
		Retries:           l.Retries,
		LinkedAt:          l.LinkedAt,
	}
}

// WriteRequest is the body of POST /links/{asset}/{attribute}/write.
type WriteRequest struct {
	Value any `json:"value"`
}

// handleListLinks returns every link, optionally filtered by ?configuration=.
func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("configuration")

	links := s.runtime.Links()
	views := make([]LinkView, 0, len(links))
	for _, l := range links {
		if filter != "" && l.ConfigID != filter {
			continue
		}
		views = append(views, newLinkView(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"links": views,
		"count": len(views),
	})
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	ref := refFromPath(r)
	link, ok := s.runtime.Link(ref)
	if !ok {
		writeNotFound(w, "attribute "+ref.String()+" is not linked")
		return
	}
	writeJSON(w, http.StatusOK, newLinkView(link))
}

// handleWriteAttribute routes a value to the linked device.
func (s *Server) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	ref := refFromPath(r)

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.runtime.WriteAttribute(r.Context(), ref, req.Value); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"asset_id":  ref.AssetID,
		"attribute": ref.Name,
		"status":    "sent",
	})
}

func (s *Server) handleAttributeHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "history is not enabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	ref := refFromPath(r)

	records, err := s.history.AttributeHistory(r.Context(), ref, limit)
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":  ref.AssetID,
		"attribute": ref.Name,
		"history":   records,
		"count":     len(records),
	})
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, _ *http.Request) {
	configs := s.runtime.Configurations()
	writeJSON(w, http.StatusOK, map[string]any{
		"configurations": configs,
		"count":          len(configs),
	})
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "history is not enabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	records, err := s.history.StatusHistory(r.Context(), id, limit)
	if err != nil {
		s.writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configuration": id,
		"history":       records,
		"count":         len(records),
	})
}

func (s *Server) writeHistoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, events.ErrInvalidQuery) {
		writeBadRequest(w, err.Error())
		return
	}
	s.logger.Error("history query failed", "error", err)
	writeInternalError(w, "failed to read history")
}

func refFromPath(r *http.Request) protocol.AttributeRef {
	return protocol.AttributeRef{
		AssetID: chi.URLParam(r, "asset"),
		Name:    chi.URLParam(r, "attribute"),
	}
}

// parseLimit reads ?limit=. Zero means the store's default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
