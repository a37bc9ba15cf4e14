package presencestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"presence/src/kv"
	"presence/src/presencestore"
)

const (
	shardKey = "onlineUsers"
	user     = int64(7)
)

func newStore() (*presencestore.Store, *kv.Fake) {
	fake := kv.NewFake()
	s := presencestore.New(fake, presencestore.Params{
		HeartbeatWindow: 30 * time.Second,
		MinInterval:     5 * time.Second,
		ScoredSetPrefix: shardKey,
		StateTTL:        24 * time.Hour,
	})
	return s, fake
}

// TestHeartbeatThenPublishScenario reproduces spec.md scenario 1.
func TestHeartbeatThenPublishScenario(t *testing.T) {
	s, fake := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	effect, err := s.RecordHeartbeat(ctx, shardKey, key, user, 1000)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectTransitioned, effect.Kind)
	require.Equal(t, presencestore.StatusOnline, effect.To)
	require.EqualValues(t, 1000, effect.Ts)

	score, ok, err := fake.ScoredSetScore(ctx, shardKey, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(1030), score)

	fields, err := fake.MapGetAll(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "online", fields["status"])
	require.Equal(t, "1000", fields["updated_ts"])

	// Second heartbeat within the window: refreshed, no transition.
	effect, err = s.RecordHeartbeat(ctx, shardKey, key, user, 1010)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectRefreshed, effect.Kind)
}

// TestAwayThenActiveScenario reproduces spec.md scenario 2.
func TestAwayThenActiveScenario(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	_, err := s.RecordHeartbeat(ctx, shardKey, key, user, 1000)
	require.NoError(t, err)

	effect, err := s.SetSemantic(ctx, shardKey, key, user, presencestore.StatusAway, 1020)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectTransitioned, effect.Kind)
	require.Equal(t, presencestore.StatusAway, effect.To)

	effect, err = s.SetSemantic(ctx, shardKey, key, user, presencestore.StatusOnline, 1025)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectTransitioned, effect.Kind)
	require.Equal(t, presencestore.StatusOnline, effect.To)
}

// TestSilentDisconnectScenario reproduces spec.md scenario 3.
func TestSilentDisconnectScenario(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	_, err := s.RecordHeartbeat(ctx, shardKey, key, user, 1000)
	require.NoError(t, err)

	effect, err := s.ConfirmOffline(ctx, shardKey, key, user, 1031)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectTransitioned, effect.Kind)
	require.Equal(t, presencestore.StatusOffline, effect.To)
}

// TestHeartbeatBeatsReaperScenario reproduces spec.md scenario 4.
func TestHeartbeatBeatsReaperScenario(t *testing.T) {
	s, fake := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	require.NoError(t, fake.ScoredSetUpsert(ctx, shardKey, "7", 1030))

	require.NoError(t, fake.ScoredSetUpsert(ctx, shardKey, "7", 1061))

	effect, err := s.ConfirmOffline(ctx, shardKey, key, user, 1031)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectUnchanged, effect.Kind)

	_, err = fake.MapGetField(ctx, key, "status")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestSetSemanticIgnoredWhenNotOnline(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	effect, err := s.SetSemantic(ctx, shardKey, key, user, presencestore.StatusAway, 1000)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectIgnored, effect.Kind)
}

func TestSetSemanticUnchangedWhenAlreadyTarget(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	_, err := s.RecordHeartbeat(ctx, shardKey, key, user, 1000)
	require.NoError(t, err)

	_, err = s.SetSemantic(ctx, shardKey, key, user, presencestore.StatusOnline, 1001)
	require.NoError(t, err)

	effect, err := s.SetSemantic(ctx, shardKey, key, user, presencestore.StatusOnline, 1002)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectUnchanged, effect.Kind)
}

func TestHeartbeatRateLimited(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	_, err := s.RecordHeartbeat(ctx, shardKey, key, user, 1000)
	require.NoError(t, err)

	effect, err := s.RecordHeartbeat(ctx, shardKey, key, user, 1002)
	require.NoError(t, err)
	require.Equal(t, presencestore.EffectIgnored, effect.Kind)
}

func TestEffectiveStatusOfflineWhenNoRecord(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:9"

	status, _, err := s.EffectiveStatus(ctx, shardKey, key, 9, 1000)
	require.NoError(t, err)
	require.Equal(t, presencestore.StatusOffline, status)
}

// TestDebounceNoRepeatedPublishAcrossManyHeartbeats reproduces I3: k
// consecutive heartbeats within one window never transition more than once.
func TestDebounceNoRepeatedPublishAcrossManyHeartbeats(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	key := "presence:state:7"

	transitions := 0
	now := int64(1000)
	for i := 0; i < 5; i++ {
		effect, err := s.RecordHeartbeat(ctx, shardKey, key, user, now)
		require.NoError(t, err)
		if effect.Kind == presencestore.EffectTransitioned {
			transitions++
		}
		now += 10
	}
	require.Equal(t, 1, transitions)
}
