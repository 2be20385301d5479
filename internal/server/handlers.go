package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ethanteng/finsight-sub001/internal/advisor"
	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/llm"
	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
	"github.com/ethanteng/finsight-sub001/internal/prompt"
	"github.com/ethanteng/finsight-sub001/internal/requestctx"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

type askRequest struct {
	Question string        `json:"question"`
	History  []prompt.Turn `json:"history,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	caller, _ := requestctx.CallerFrom(r.Context())

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	for _, t := range req.History {
		if t.Role != llm.RoleUser && t.Role != llm.RoleAssistant {
			writeError(w, http.StatusBadRequest, "invalid_request", "history roles must be user or assistant")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
	defer cancel()
	ans, err := s.asker.AskQuestion(ctx, caller.UserID, caller.Tier, req.Question, req.History)
	if err != nil {
		switch {
		case errors.Is(err, advisor.ErrEmptyQuestion):
			writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		case errors.Is(err, llm.ErrModelFailure):
			writeError(w, http.StatusBadGateway, "model_unavailable", "The assistant is unavailable right now; please try again.")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "timeout", "The question took too long to answer.")
		default:
			log.Error().Func(fsotel.LogTraceFields(ctx)).Err(err).Str("user_id", caller.UserID).Msg("ask_error")
			writeError(w, http.StatusInternalServerError, "internal", "Could not answer the question.")
		}
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type sourcesResponse struct {
	Tier        tier.Tier                 `json:"tier"`
	Available   []tier.SourceInfo         `json:"available"`
	Unavailable []tier.Omission           `json:"unavailable"`
	Status      []aggregator.SourceStatus `json:"status,omitempty"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	caller, _ := requestctx.CallerFrom(r.Context())
	resp := sourcesResponse{
		Tier:        caller.Tier,
		Available:   s.registry.Available(caller.Tier),
		Unavailable: s.registry.Unavailable(caller.Tier),
	}
	if s.sources != nil {
		resp.Status = s.sources.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	SourceIDs []string `json:"source_ids,omitempty"`
}

type refreshFailure struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

type refreshResponse struct {
	Failed []refreshFailure          `json:"failed"`
	Status []aggregator.SourceStatus `json:"status"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no sources configured")
		return
	}
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
			return
		}
	}
	errs := s.sources.Refresh(r.Context(), req.SourceIDs...)
	resp := refreshResponse{Failed: make([]refreshFailure, 0, len(errs))}
	for id, err := range errs {
		resp.Failed = append(resp.Failed, refreshFailure{SourceID: id, Error: err.Error()})
	}
	sort.Slice(resp.Failed, func(i, j int) bool { return resp.Failed[i].SourceID < resp.Failed[j].SourceID })
	resp.Status = s.sources.Status()
	writeJSON(w, http.StatusOK, resp)
}
