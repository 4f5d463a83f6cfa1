// Package server exposes the voting engine over HTTP JSON: the admin
// surface, the commit/reveal/finalize operations and the read-only query
// surface. Failure reasons travel to clients verbatim in the error field.
package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"governance-voting/internal/logger"
	"governance-voting/internal/voting"
)

// Server wraps the engine with an http.Handler.
type Server struct {
	engine *voting.Engine
	log    *logger.Logger
	mux    *http.ServeMux
}

func New(engine *voting.Engine, log *logger.Logger) *Server {
	s := &Server{
		engine: engine,
		log:    log,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /rounds", s.handleCreateRound)
	s.mux.HandleFunc("POST /commit", s.handleCommit)
	s.mux.HandleFunc("POST /reveal", s.handleReveal)
	s.mux.HandleFunc("POST /finalize", s.handleFinalize)
	s.mux.HandleFunc("POST /admin/durations", s.handleSetDurations)
	s.mux.HandleFunc("POST /admin/threshold", s.handleSetThreshold)
	s.mux.HandleFunc("GET /rounds/{id}", s.handleRoundInfo)
	s.mux.HandleFunc("GET /rounds/{id}/tally", s.handleTally)
	s.mux.HandleFunc("GET /rounds/{id}/turnout", s.handleTurnout)
	s.mux.HandleFunc("GET /rounds/{id}/voter", s.handleVoterStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps named engine failures to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, voting.ErrUnknownRound):
		return http.StatusNotFound
	case errors.Is(err, voting.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, voting.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, voting.ErrPhaseClosed),
		errors.Is(err, voting.ErrAlreadyCommitted),
		errors.Is(err, voting.ErrAlreadyRevealed),
		errors.Is(err, voting.ErrNoLiveCommitment),
		errors.Is(err, voting.ErrAlreadyFinalized),
		errors.Is(err, voting.ErrNotYetFinalizable):
		return http.StatusConflict
	case errors.Is(err, voting.ErrLengthMismatch),
		errors.Is(err, voting.ErrHashMismatch),
		errors.Is(err, voting.ErrThresholdOutOfRange),
		errors.Is(err, voting.ErrEmptyProposals):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// codeFor turns a named failure into a machine-readable code, e.g.
// "already-revealed".
func codeFor(err error) string {
	for _, known := range []error{
		voting.ErrUnknownRound, voting.ErrPhaseClosed, voting.ErrNotEligible,
		voting.ErrAlreadyCommitted, voting.ErrLengthMismatch, voting.ErrNoLiveCommitment,
		voting.ErrAlreadyRevealed, voting.ErrHashMismatch, voting.ErrNotYetFinalizable,
		voting.ErrAlreadyFinalized, voting.ErrUnauthorized, voting.ErrThresholdOutOfRange,
		voting.ErrEmptyProposals,
	} {
		if errors.Is(err, known) {
			return strings.ReplaceAll(known.Error(), " ", "-")
		}
	}
	return "internal"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Code: codeFor(err)})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, format string, v ...any) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, v...), Code: "bad_request"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Printf("server: error encoding response: %v", err)
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseChoices(names []string) ([]voting.Choice, error) {
	choices := make([]voting.Choice, len(names))
	for i, name := range names {
		switch name {
		case "for":
			choices[i] = voting.ChoiceFor
		case "against":
			choices[i] = voting.ChoiceAgainst
		case "abstain":
			choices[i] = voting.ChoiceAbstain
		case "not_participating":
			choices[i] = voting.ChoiceNotParticipating
		default:
			return nil, fmt.Errorf("unknown choice %q", name)
		}
	}
	return choices, nil
}

func parseProposalIDs(ids []uint64) []voting.ProposalID {
	out := make([]voting.ProposalID, len(ids))
	for i, id := range ids {
		out[i] = voting.ProposalID(id)
	}
	return out
}

func parseMethod(name string) (voting.CountingMethod, error) {
	switch name {
	case "", "weighted":
		return voting.WeightedVoting, nil
	case "borda":
		return voting.BordaCount, nil
	default:
		return 0, fmt.Errorf("unknown counting method %q", name)
	}
}

type createRoundRequest struct {
	Admin            string   `json:"admin"`
	CommitDuration   string   `json:"commit_duration,omitempty"`
	RevealDuration   string   `json:"reveal_duration,omitempty"`
	ProposalIDs      []uint64 `json:"proposal_ids"`
	CountingMethod   string   `json:"counting_method,omitempty"`
	AutoCancellation bool     `json:"auto_cancellation,omitempty"`
}

type createRoundResponse struct {
	RoundID uint64 `json:"round_id"`
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req createRoundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return
	}
	commitDur, err := parseOptionalDuration(req.CommitDuration)
	if err != nil {
		s.writeBadRequest(w, "invalid commit_duration: %v", err)
		return
	}
	revealDur, err := parseOptionalDuration(req.RevealDuration)
	if err != nil {
		s.writeBadRequest(w, "invalid reveal_duration: %v", err)
		return
	}
	method, err := parseMethod(req.CountingMethod)
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}

	roundID, err := s.engine.CreateRound(
		voting.VoterID(req.Admin),
		commitDur,
		revealDur,
		parseProposalIDs(req.ProposalIDs),
		method,
		req.AutoCancellation,
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createRoundResponse{RoundID: roundID})
}

func parseOptionalDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

type commitRequest struct {
	Voter      string `json:"voter"`
	RoundID    uint64 `json:"round_id"`
	Commitment string `json:"commitment"` // hex, 32 bytes
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return
	}
	raw, err := hex.DecodeString(req.Commitment)
	if err != nil || len(raw) != voting.CommitmentSize {
		s.writeBadRequest(w, "commitment must be %d hex-encoded bytes", voting.CommitmentSize)
		return
	}
	var commitment voting.Commitment
	copy(commitment[:], raw)

	if err := s.engine.Commit(voting.VoterID(req.Voter), req.RoundID, commitment); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type revealRequest struct {
	Voter       string   `json:"voter"`
	RoundID     uint64   `json:"round_id"`
	ProposalIDs []uint64 `json:"proposal_ids"`
	Choices     []string `json:"choices"`
	Secret      string   `json:"secret"` // hex, 32 bytes
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return
	}
	choices, err := parseChoices(req.Choices)
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	raw, err := hex.DecodeString(req.Secret)
	if err != nil || len(raw) != voting.SecretSize {
		s.writeBadRequest(w, "secret must be %d hex-encoded bytes", voting.SecretSize)
		return
	}
	var secret voting.Secret
	copy(secret[:], raw)

	err = s.engine.Reveal(voting.VoterID(req.Voter), req.RoundID, parseProposalIDs(req.ProposalIDs), choices, secret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type finalizeRequest struct {
	RoundID uint64 `json:"round_id"`
}

type tallyJSON struct {
	ForWeight             uint64 `json:"for_weight"`
	AgainstWeight         uint64 `json:"against_weight"`
	AbstainCount          uint64 `json:"abstain_count"`
	NotParticipatingCount uint64 `json:"not_participating_count"`
	BordaPoints           uint64 `json:"borda_points"`
}

type finalizeResponse struct {
	RoundID        uint64               `json:"round_id"`
	TurnoutPercent uint64               `json:"turnout_percent"`
	Results        map[string]tallyJSON `json:"results"`
	Cancelled      []uint64             `json:"cancelled,omitempty"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return
	}
	res, err := s.engine.Finalize(req.RoundID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := finalizeResponse{
		RoundID:        res.RoundID,
		TurnoutPercent: res.TurnoutPercent,
		Results:        make(map[string]tallyJSON, len(res.Results)),
	}
	for pid, tally := range res.Results {
		resp.Results[strconv.FormatUint(uint64(pid), 10)] = toTallyJSON(tally)
	}
	for _, pid := range res.Cancelled {
		resp.Cancelled = append(resp.Cancelled, uint64(pid))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func toTallyJSON(t voting.Tally) tallyJSON {
	return tallyJSON{
		ForWeight:             t.ForWeight,
		AgainstWeight:         t.AgainstWeight,
		AbstainCount:          t.AbstainCount,
		NotParticipatingCount: t.NotParticipatingCount,
		BordaPoints:           t.BordaPoints,
	}
}

type setDurationsRequest struct {
	Admin          string `json:"admin"`
	CommitDuration string `json:"commit_duration,omitempty"`
	RevealDuration string `json:"reveal_duration,omitempty"`
}

func (s *Server) handleSetDurations(w http.ResponseWriter, r *http.Request) {
	var req setDurationsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return
	}
	commitDur, err := parseOptionalDuration(req.CommitDuration)
	if err != nil {
		s.writeBadRequest(w, "invalid commit_duration: %v", err)
		return
	}
	revealDur, err := parseOptionalDuration(req.RevealDuration)
	if err != nil {
		s.writeBadRequest(w, "invalid reveal_duration: %v", err)
		return
	}
	if err := s.engine.SetDefaultDurations(voting.VoterID(req.Admin), commitDur, revealDur); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type setThresholdRequest struct {
	Admin   string `json:"admin"`
	Percent uint64 `json:"percent"`
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req setThresholdRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, "invalid request body: %v", err)
		return
	}
	if err := s.engine.SetDefaultCancellationThreshold(voting.VoterID(req.Admin), req.Percent); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) pathRoundID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

type roundInfoResponse struct {
	RoundID               uint64   `json:"round_id"`
	Exists                bool     `json:"exists"`
	StartCommit           string   `json:"start_commit,omitempty"`
	EndCommit             string   `json:"end_commit,omitempty"`
	EndReveal             string   `json:"end_reveal,omitempty"`
	CountingMethod        string   `json:"counting_method"`
	ProposalIDs           []uint64 `json:"proposal_ids,omitempty"`
	SnapshotEligibleCount uint64   `json:"snapshot_eligible_count"`
	CancellationThreshold uint64   `json:"cancellation_threshold"`
	AutoCancellation      bool     `json:"auto_cancellation"`
	Finalized             bool     `json:"finalized"`
	Phase                 string   `json:"phase"`
	TotalCommitted        uint64   `json:"total_committed"`
	TotalRevealed         uint64   `json:"total_revealed"`
}

func (s *Server) handleRoundInfo(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathRoundID(r)
	if err != nil {
		s.writeBadRequest(w, "invalid round id")
		return
	}
	info := s.engine.RoundInfo(id)
	resp := roundInfoResponse{
		RoundID:               info.ID,
		Exists:                info.Exists,
		CountingMethod:        info.Method.String(),
		SnapshotEligibleCount: info.SnapshotEligibleCount,
		CancellationThreshold: info.CancellationThreshold,
		AutoCancellation:      info.AutoCancellation,
		Finalized:             info.Finalized,
		Phase:                 info.Phase.String(),
		TotalCommitted:        info.TotalCommitted,
		TotalRevealed:         info.TotalRevealed,
	}
	if info.Exists {
		resp.StartCommit = info.StartCommit.Format(time.RFC3339)
		resp.EndCommit = info.EndCommit.Format(time.RFC3339)
		resp.EndReveal = info.EndReveal.Format(time.RFC3339)
		for _, pid := range info.ProposalIDs {
			resp.ProposalIDs = append(resp.ProposalIDs, uint64(pid))
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathRoundID(r)
	if err != nil {
		s.writeBadRequest(w, "invalid round id")
		return
	}
	proposal, err := strconv.ParseUint(r.URL.Query().Get("proposal"), 10, 64)
	if err != nil {
		s.writeBadRequest(w, "invalid proposal id")
		return
	}
	tally := s.engine.ProposalTally(id, voting.ProposalID(proposal))
	s.writeJSON(w, http.StatusOK, toTallyJSON(tally))
}

func (s *Server) handleTurnout(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathRoundID(r)
	if err != nil {
		s.writeBadRequest(w, "invalid round id")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"turnout_percent": s.engine.TurnoutPercent(id)})
}

type voterStatusResponse struct {
	HasCommitted bool `json:"has_committed"`
	HasRevealed  bool `json:"has_revealed"`
}

func (s *Server) handleVoterStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathRoundID(r)
	if err != nil {
		s.writeBadRequest(w, "invalid round id")
		return
	}
	voter := r.URL.Query().Get("voter")
	if voter == "" {
		s.writeBadRequest(w, "missing voter parameter")
		return
	}
	s.writeJSON(w, http.StatusOK, voterStatusResponse{
		HasCommitted: s.engine.HasCommitted(id, voting.VoterID(voter)),
		HasRevealed:  s.engine.HasRevealed(id, voting.VoterID(voter)),
	})
}
