package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pintheon/pinner/config"
	"github.com/pintheon/pinner/pinner/types"
	"github.com/pintheon/pinner/runtime/version"
)

const defaultActivityLimit = 50

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Debug("Could not encode response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type statusResponse struct {
	Version   string                 `json:"version"`
	Operator  string                 `json:"operator"`
	Network   string                 `json:"network"`
	Mode      string                 `json:"mode"`
	Cursor    uint64                 `json:"cursor"`
	UptimeSec int64                  `json:"uptime_sec"`
	PinCount  int                    `json:"pin_count"`
	QueueSize int                    `json:"queue_size"`
	Earnings  *types.EarningsSummary `json:"earnings"`
}

func (s *Service) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pins, err := s.store.Pins(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	queue, err := s.store.ApprovalQueue(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	earnings, err := s.store.Earnings(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, &statusResponse{
		Version:   version.Version(),
		Operator:  s.cfg.OperatorAddress,
		Network:   s.cfg.Network,
		Mode:      string(s.controller.Mode()),
		Cursor:    cursor,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
		PinCount:  len(pins),
		QueueSize: len(queue),
		Earnings:  earnings,
	})
}

func (s *Service) offersHandler(w http.ResponseWriter, r *http.Request) {
	status := types.OfferStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = types.StatusPending
	}
	offers, err := s.store.OffersByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

func (s *Service) queueHandler(w http.ResponseWriter, r *http.Request) {
	queue, err := s.store.ApprovalQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": queue})
}

type slotIDsRequest struct {
	SlotIDs []uint64 `json:"slot_ids"`
}

type slotOutcome struct {
	SlotID uint64 `json:"slot_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func (s *Service) approveHandler(w http.ResponseWriter, r *http.Request) {
	var req slotIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcomes := make([]slotOutcome, 0, len(req.SlotIDs))
	for _, slotID := range req.SlotIDs {
		out := slotOutcome{SlotID: slotID, OK: true}
		if err := s.controller.ApproveOffer(r.Context(), slotID, s.cfg.SlotExpired); err != nil {
			out.OK = false
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": outcomes})
}

func (s *Service) rejectHandler(w http.ResponseWriter, r *http.Request) {
	var req slotIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcomes := make([]slotOutcome, 0, len(req.SlotIDs))
	for _, slotID := range req.SlotIDs {
		out := slotOutcome{SlotID: slotID, OK: true}
		if err := s.controller.RejectOffer(r.Context(), slotID); err != nil {
			out.OK = false
			out.Error = err.Error()
		}
		outcomes = append(outcomes, out)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": outcomes})
}

func (s *Service) pinsHandler(w http.ResponseWriter, r *http.Request) {
	pins, err := s.store.Pins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pins": pins})
}

func (s *Service) earningsHandler(w http.ResponseWriter, r *http.Request) {
	earnings, err := s.store.Earnings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

func (s *Service) activityHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errBadLimit)
			return
		}
		limit = parsed
	}
	entries, err := s.store.RecentActivity(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": entries})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Service) modeHandler(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.SetMode(r.Context(), config.Mode(req.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

type policyRequest struct {
	MinPrice       int64 `json:"min_price"`
	MaxContentSize int64 `json:"max_content_size"`
}

func (s *Service) policyHandler(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.MinPrice < 0 || req.MaxContentSize < 0 {
		writeError(w, http.StatusBadRequest, errNegativePolicy)
		return
	}
	if err := s.controller.UpdatePolicy(r.Context(), req.MinPrice, req.MaxContentSize); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Service) hunterStateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracked, err := s.store.TrackedPins(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lastCycle, err := s.store.LastCycle(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	flags, err := s.store.FlagHistory(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	recent, err := s.store.RecentVerifications(ctx, defaultActivityLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":              s.hunter != nil,
		"tracked_pins":         tracked,
		"last_cycle":           lastCycle,
		"flag_history":         flags,
		"recent_verifications": recent,
	})
}

func (s *Service) hunterCycleHandler(w http.ResponseWriter, r *http.Request) {
	if s.hunter == nil {
		writeError(w, http.StatusServiceUnavailable, errHunterDisabled)
		return
	}
	report, err := s.hunter.RunCycleNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusConflict, errCycleRunning)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type verifyRequest struct {
	CID    string `json:"cid"`
	Pinner string `json:"pinner"`
}

func (s *Service) hunterVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if s.hunter == nil {
		writeError(w, http.StatusServiceUnavailable, errHunterDisabled)
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.CID == "" || req.Pinner == "" {
		writeError(w, http.StatusBadRequest, errMissingTarget)
		return
	}
	result, err := s.hunter.VerifyNow(r.Context(), req.CID, req.Pinner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type flagRequest struct {
	Pinner string `json:"pinner"`
}

func (s *Service) hunterFlagHandler(w http.ResponseWriter, r *http.Request) {
	if s.hunter == nil {
		writeError(w, http.StatusServiceUnavailable, errHunterDisabled)
		return
	}
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Pinner == "" {
		writeError(w, http.StatusBadRequest, errMissingTarget)
		return
	}
	writeJSON(w, http.StatusOK, s.hunter.FlagNow(r.Context(), req.Pinner))
}
