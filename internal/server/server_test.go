package server_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"governance-voting/internal/logger"
	"governance-voting/internal/oracle"
	"governance-voting/internal/server"
	"governance-voting/internal/voting"

	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	srv     *httptest.Server
	engine  *voting.Engine
	members *oracle.Static

	mu  sync.Mutex
	now time.Time
}

// advance moves the fixture clock. Handlers run on server goroutines, so
// the clock is mutex-guarded.
func (f *apiFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	members := oracle.NewStatic()
	members.SetMember("alice", 5)
	members.SetMember("bob", 3)
	members.SetMember("carol", 2)

	f := &apiFixture{
		members: members,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = voting.NewEngine("admin", members, members, nil)
	f.engine.SetClock(func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	})

	f.srv = httptest.NewServer(server.New(f.engine, logger.New(false)))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) post(t *testing.T, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeObject(t, resp)
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeObject(t, resp)
}

func decodeObject(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()
	var obj map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&obj))
	return obj
}

func field[T any](t *testing.T, obj map[string]json.RawMessage, key string) T {
	t.Helper()
	var v T
	raw, ok := obj[key]
	require.True(t, ok, "missing field %q", key)
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func testSecret() voting.Secret {
	var s voting.Secret
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestFullRoundOverHTTP(t *testing.T) {
	f := newAPI(t)
	f.members.SetAllocation("alice", 1, 1000)

	resp, obj := f.post(t, "/rounds", map[string]any{
		"admin":             "admin",
		"commit_duration":   "1h",
		"reveal_duration":   "1h",
		"proposal_ids":      []uint64{1, 2},
		"counting_method":   "weighted",
		"auto_cancellation": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roundID := field[uint64](t, obj, "round_id")
	require.Equal(t, uint64(1), roundID)

	secret := testSecret()
	proposals := []voting.ProposalID{1, 2}
	choices := []voting.Choice{voting.ChoiceFor, voting.ChoiceAgainst}
	commitment := voting.ComputeCommitment(proposals, choices, secret, "alice")

	resp, _ = f.post(t, "/commit", map[string]any{
		"voter":      "alice",
		"round_id":   roundID,
		"commitment": hex.EncodeToString(commitment[:]),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, obj = f.get(t, "/rounds/1/voter?voter=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, field[bool](t, obj, "has_committed"))
	require.False(t, field[bool](t, obj, "has_revealed"))

	f.advance(61 * time.Minute)

	resp, _ = f.post(t, "/reveal", map[string]any{
		"voter":        "alice",
		"round_id":     roundID,
		"proposal_ids": []uint64{1, 2},
		"choices":      []string{"for", "against"},
		"secret":       hex.EncodeToString(secret[:]),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, obj = f.get(t, "/rounds/1/tally?proposal=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// Weight 5 doubled by the recorded allocation toward proposal 1.
	require.Equal(t, uint64(10), field[uint64](t, obj, "for_weight"))

	resp, obj = f.get(t, "/rounds/1/turnout")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(33), field[uint64](t, obj, "turnout_percent"))

	f.advance(2 * time.Hour)

	resp, obj = f.post(t, "/finalize", map[string]any{"round_id": roundID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(33), field[uint64](t, obj, "turnout_percent"))
	results := field[map[string]map[string]uint64](t, obj, "results")
	require.Equal(t, uint64(10), results["1"]["for_weight"])
	require.Equal(t, uint64(5), results["2"]["against_weight"])

	resp, obj = f.get(t, "/rounds/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, field[bool](t, obj, "finalized"))
	require.Equal(t, "finalized", field[string](t, obj, "phase"))
}

func TestErrorStatusMapping(t *testing.T) {
	f := newAPI(t)

	// Unauthorized round creation.
	resp, obj := f.post(t, "/rounds", map[string]any{
		"admin":        "mallory",
		"proposal_ids": []uint64{1},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "unauthorized", field[string](t, obj, "code"))

	// Empty proposal set.
	resp, obj = f.post(t, "/rounds", map[string]any{"admin": "admin"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "empty-proposal-set", field[string](t, obj, "code"))

	resp, _ = f.post(t, "/rounds", map[string]any{
		"admin":        "admin",
		"proposal_ids": []uint64{1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	commitment := voting.ComputeCommitment([]voting.ProposalID{1}, []voting.Choice{voting.ChoiceFor}, testSecret(), "alice")

	// Unknown round.
	resp, obj = f.post(t, "/commit", map[string]any{
		"voter": "alice", "round_id": 99,
		"commitment": hex.EncodeToString(commitment[:]),
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "unknown-round", field[string](t, obj, "code"))

	// Ineligible voter.
	resp, obj = f.post(t, "/commit", map[string]any{
		"voter": "stranger", "round_id": 1,
		"commitment": hex.EncodeToString(commitment[:]),
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "not-eligible", field[string](t, obj, "code"))

	// Double commit.
	for i := 0; i < 2; i++ {
		resp, obj = f.post(t, "/commit", map[string]any{
			"voter": "alice", "round_id": 1,
			"commitment": hex.EncodeToString(commitment[:]),
		})
	}
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "already-committed", field[string](t, obj, "code"))

	// Premature finalize.
	resp, obj = f.post(t, "/finalize", map[string]any{"round_id": 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "not-yet-finalizable", field[string](t, obj, "code"))

	f.advance(61 * time.Minute)

	// Hash mismatch: wrong secret.
	wrong := testSecret()
	wrong[0] ^= 0xFF
	resp, obj = f.post(t, "/reveal", map[string]any{
		"voter": "alice", "round_id": 1,
		"proposal_ids": []uint64{1},
		"choices":      []string{"for"},
		"secret":       hex.EncodeToString(wrong[:]),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "hash-mismatch", field[string](t, obj, "code"))
}

func TestBadRequestValidation(t *testing.T) {
	f := newAPI(t)

	resp, obj := f.post(t, "/rounds", map[string]any{
		"admin":           "admin",
		"proposal_ids":    []uint64{1},
		"commit_duration": "soon",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "bad_request", field[string](t, obj, "code"))

	resp, _ = f.post(t, "/rounds", map[string]any{
		"admin":        "admin",
		"proposal_ids": []uint64{1},
		"surprise":     true,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/commit", map[string]any{
		"voter": "alice", "round_id": 1, "commitment": "abcd",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/reveal", map[string]any{
		"voter": "alice", "round_id": 1,
		"proposal_ids": []uint64{1},
		"choices":      []string{"maybe"},
		"secret":       hex.EncodeToString(make([]byte, 32)),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	f := newAPI(t)

	resp, _ := f.post(t, "/admin/durations", map[string]any{
		"admin":           "admin",
		"commit_duration": "2h",
		"reveal_duration": "3h",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, obj := f.post(t, "/admin/threshold", map[string]any{
		"admin":   "mallory",
		"percent": 10,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "unauthorized", field[string](t, obj, "code"))

	resp, obj = f.post(t, "/admin/threshold", map[string]any{
		"admin":   "admin",
		"percent": 150,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "threshold-out-of-range", field[string](t, obj, "code"))

	// The new default durations apply to rounds created without explicit ones.
	resp, _ = f.post(t, "/rounds", map[string]any{
		"admin":        "admin",
		"proposal_ids": []uint64{1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, obj = f.get(t, "/rounds/1")
	start, err := time.Parse(time.RFC3339, field[string](t, obj, "start_commit"))
	require.NoError(t, err)
	endCommit, err := time.Parse(time.RFC3339, field[string](t, obj, "end_commit"))
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, endCommit.Sub(start))
}

func TestUnknownRoundQueriesReturnZeroState(t *testing.T) {
	f := newAPI(t)

	resp, obj := f.get(t, "/rounds/42")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, field[bool](t, obj, "exists"))
	require.Equal(t, uint64(42), field[uint64](t, obj, "round_id"))

	resp, obj = f.get(t, "/rounds/42/turnout")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(0), field[uint64](t, obj, "turnout_percent"))

	resp, obj = f.get(t, "/rounds/42/tally?proposal=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(0), field[uint64](t, obj, "for_weight"))
}
