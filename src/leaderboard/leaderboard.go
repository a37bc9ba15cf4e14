// Package leaderboard implements the batch query of spec.md §4.G: given a
// requester, fetch their mutuals from the graph adapter, batch-read
// effective status from the presence store, and return the sorted
// "who is online among my mutuals" list.
//
// Grounded on the teacher's api.SnapshotHandler/chi routing shape,
// generalized from a single-user snapshot lookup to a batched, sorted
// collection endpoint. golang.org/x/sync/errgroup fans the per-mutual KV
// reads out concurrently instead of querying one at a time, the same way
// the teacher's cmd/main.go overlaps independent startup work.
package leaderboard

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"presence/src/auth"
	"presence/src/logging"
	"presence/src/presencestore"
	"presence/src/utils"
)

const defaultLimit = 50

// MutualsStore answers "who does requester mutually follow" for the batch
// query; it is a thin projection over the graph store, since spec.md
// §4.G needs the full mutuals set rather than a single pair check.
type MutualsStore interface {
	Mutuals(ctx context.Context, userID int64) ([]int64, error)
}

// ProfileNames resolves display names for the response payload. The
// durable profile store is an external collaborator per spec.md §1; this
// interface keeps the handler decoupled from it.
type ProfileNames interface {
	ProfileName(ctx context.Context, userID int64) string
}

type Entry struct {
	UserID      int64  `json:"user_id"`
	ProfileName string `json:"profile_name"`
	Status      string `json:"status"`
	LastSeen    int64  `json:"last_seen"`
}

type response struct {
	Friends []Entry `json:"friends"`
}

// Handler serves GET /presence/leaderboard?limit=N.
type Handler struct {
	Store      *presencestore.Store
	Mutuals    MutualsStore
	Profiles   ProfileNames
	Identifier auth.Identifier

	ShardKeyFor func(userID int64) string
	StateKeyFor func(userID int64) string
	Clock       func() int64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.Identifier.Identify(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.fetch(r.Context(), userID, limit)
	if err != nil {
		logging.Log.WithError(err).WithField("user_id", userID).Warn("leaderboard: query failed")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	utils.WriteJSON(w, http.StatusOK, response{Friends: entries})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return 0, errBadLimit
	}
	return n, nil
}

var errBadLimit = httpError("limit must be an integer in (0, 500]")

type httpError string

func (e httpError) Error() string { return string(e) }

func (h *Handler) fetch(ctx context.Context, requester int64, limit int) ([]Entry, error) {
	now := h.Clock()

	mutuals, err := h.Mutuals.Mutuals(ctx, requester)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(mutuals))
	eg, egctx := errgroup.WithContext(ctx)
	for i, u := range mutuals {
		i, u := i, u
		eg.Go(func() error {
			shardKey := h.ShardKeyFor(u)
			stateKey := h.StateKeyFor(u)
			status, ts, err := h.Store.EffectiveStatus(egctx, shardKey, stateKey, u, now)
			if err != nil {
				return err
			}
			entries[i] = Entry{
				UserID:      u,
				ProfileName: h.Profiles.ProfileName(egctx, u),
				Status:      string(status),
				LastSeen:    ts,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		iOnline := entries[i].Status == string(presencestore.StatusOnline)
		jOnline := entries[j].Status == string(presencestore.StatusOnline)
		if iOnline != jOnline {
			return iOnline
		}
		return entries[i].LastSeen > entries[j].LastSeen
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
