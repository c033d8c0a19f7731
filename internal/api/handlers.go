package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/history"
	"github.com/sells-group/datemover/internal/points"
	"github.com/sells-group/datemover/internal/resilience"
	"github.com/sells-group/datemover/internal/store"
)

const (
	kindInvalidRequest = "invalid_request"
	kindNotFound       = "not_found"
	kindInternal       = "internal"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type historyRequest struct {
	IssueKeys []string `json:"issue_keys"`
	JQL       string   `json:"jql"`
}

type historyResponse struct {
	Results []history.ItemResult `json:"results"`
	Count   int                  `json:"count"`
}

type fieldInfo struct {
	ID           history.FieldID `json:"id"`
	ConfiguredID string          `json:"configured_id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	TrackHistory bool            `json:"track_history"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.client.Health())
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	res := s.client.TestConnection(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	names, err := s.client.FieldIndex(r.Context())
	if err != nil {
		zap.L().Warn("api: field metadata unavailable", zap.Error(err))
	}

	out := make([]fieldInfo, 0, len(s.fields.CustomFields))
	for _, f := range s.fields.CustomFields {
		id := history.NormalizeFieldID(f.ID)
		name := f.Name
		if name == "" {
			name = names.DisplayName(string(id))
		}
		out = append(out, fieldInfo{
			ID:           id,
			ConfiguredID: f.ID,
			Name:         name,
			Type:         f.Type,
			TrackHistory: f.TrackHistory,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	req, err := decodeHistoryRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: kindInvalidRequest})
		return
	}
	if len(req.IssueKeys) > s.maxKeys {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "too many issue keys (max " + strconv.Itoa(s.maxKeys) + ")",
			Kind:  kindInvalidRequest,
		})
		return
	}

	var results []history.ItemResult
	if req.JQL != "" {
		results, err = s.fetcher.FetchJQL(r.Context(), req.JQL, s.maxKeys)
	} else {
		results, err = s.fetcher.FetchIssues(r.Context(), req.IssueKeys)
	}
	if errors.Is(err, history.ErrTooManyIssues) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: kindInvalidRequest})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Results: results, Count: len(results)})
}

func (s *Server) handleIssueHistory(w http.ResponseWriter, r *http.Request) {
	res := s.fetcher.FetchIssue(r.Context(), chi.URLParam(r, "key"))
	status := http.StatusOK
	if res.Error != nil {
		status = statusForKind(resilience.Kind(res.Error.Kind))
	}
	writeJSON(w, status, res)
}

func (s *Server) handleStoryPoints(w http.ResponseWriter, r *http.Request) {
	req, err := decodeHistoryRequest(r)
	if err == nil && len(req.IssueKeys) == 0 {
		err = errors.New("issue_keys is required")
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: kindInvalidRequest})
		return
	}
	if len(req.IssueKeys) > s.maxKeys {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "too many issue keys (max " + strconv.Itoa(s.maxKeys) + ")",
			Kind:  kindInvalidRequest,
		})
		return
	}

	b, err := s.points.Calculate(r.Context(), req.IssueKeys)
	if errors.Is(err, points.ErrInvalidKey) || errors.Is(err, points.ErrTooManyIssues) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: kindInvalidRequest})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SnapshotFilter{
		IssueKey: strings.TrimSpace(q.Get("issue")),
		FieldID:  string(history.NormalizeFieldID(q.Get("field"))),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer", Kind: kindInvalidRequest})
			return
		}
		filter.Limit = n
	}

	snaps, err := s.store.ListSnapshots(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list snapshots", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not read snapshots", Kind: kindInternal})
		return
	}
	if snaps == nil {
		snaps = []store.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

// decodeHistoryRequest reads keys from ?keys=A,B&jql=... or a JSON body.
func decodeHistoryRequest(r *http.Request) (historyRequest, error) {
	var req historyRequest
	if r.Method == http.MethodPost {
		body := io.LimitReader(r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, errors.New("invalid request body")
		}
	}

	q := r.URL.Query()
	for _, part := range strings.Split(q.Get("keys"), ",") {
		if k := strings.TrimSpace(part); k != "" {
			req.IssueKeys = append(req.IssueKeys, k)
		}
	}
	if req.JQL == "" {
		req.JQL = strings.TrimSpace(q.Get("jql"))
	}

	if req.JQL == "" && len(req.IssueKeys) == 0 {
		return req, errors.New("issue_keys or jql is required")
	}
	return req, nil
}

func writeError(w http.ResponseWriter, err error) {
	kind := resilience.Classify(err)
	if kind == resilience.KindCanceled {
		zap.L().Info("api: request abandoned by caller", zap.Error(err))
	}
	writeJSON(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
}

func statusForKind(kind resilience.Kind) int {
	switch kind {
	case resilience.KindPermanent:
		return http.StatusBadRequest
	case resilience.KindNotFound:
		return http.StatusNotFound
	case resilience.KindCircuitOpen, resilience.KindCanceled:
		return http.StatusServiceUnavailable
	case resilience.KindTransient, resilience.KindMalformed, resilience.KindNonStructured, resilience.KindAuthentication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
