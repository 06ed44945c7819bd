package index

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratio1/r1fs-drive-go/pkg/chainstore"
	"github.com/ratio1/r1fs-drive-go/pkg/metrics"
	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

const hkey = "ratio1-drive-test"

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 535_000_000, time.UTC)

func clock() time.Time { return fixedNow }

func stored(t *testing.T, s *chainstore.MemoryStore, node string) []model.FileMetadata {
	t.Helper()
	raw, ok := s.Value(hkey, node)
	require.True(t, ok, "no list stored for %s", node)
	var files []model.FileMetadata
	require.NoError(t, json.Unmarshal([]byte(raw), &files))
	return files
}

func TestUpsertStartsEmptyList(t *testing.T) {
	s := chainstore.NewMemoryStore()
	r := New(s, hkey, WithClock(clock))

	require.NoError(t, r.Upsert(context.Background(), Record{CID: "QmA", NodeID: "node-1", Filename: "a.txt", Owner: "alice"}))

	files := stored(t, s, "node-1")
	require.Len(t, files, 1)
	assert.Equal(t, "QmA", files[0].CID)
	assert.Equal(t, "a.txt", files[0].Filename)
	assert.Equal(t, "alice", files[0].Owner)
	assert.False(t, files[0].IsEncryptedWithCustomKey)
	assert.True(t, files[0].DateUploaded.Equal(fixedNow))
}

func TestUpsertEncryptedFlag(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   bool
	}{
		{name: "no secret", secret: "", want: false},
		{name: "custom key", secret: "k1", want: true},
		{name: "blank secret", secret: "   ", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := chainstore.NewMemoryStore()
			require.NoError(t, New(s, hkey).Upsert(context.Background(), Record{CID: "QmA", NodeID: "n", Secret: tt.secret}))
			files := stored(t, s, "n")
			require.Len(t, files, 1)
			assert.Equal(t, tt.want, files[0].IsEncryptedWithCustomKey)
		})
	}
}

func TestUpsertDefaults(t *testing.T) {
	s := chainstore.NewMemoryStore()
	require.NoError(t, New(s, hkey).Upsert(context.Background(), Record{CID: "QmA", NodeID: "n"}))

	files := stored(t, s, "n")
	assert.Equal(t, model.DefaultFilename, files[0].Filename)
	assert.Equal(t, model.DefaultOwner, files[0].Owner)
}

func TestUpsertReplacesSameCID(t *testing.T) {
	s := chainstore.NewMemoryStore()
	r := New(s, hkey, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Record{CID: "QmA", NodeID: "n", Filename: "a"}))
	require.NoError(t, r.Upsert(ctx, Record{CID: "QmB", NodeID: "n", Filename: "b"}))
	require.NoError(t, r.Upsert(ctx, Record{CID: "QmA", NodeID: "n", Filename: "a2", Owner: "bob", Secret: "k"}))

	files := stored(t, s, "n")
	require.Len(t, files, 2)
	assert.Equal(t, "QmA", files[0].CID)
	assert.Equal(t, "a2", files[0].Filename)
	assert.Equal(t, "bob", files[0].Owner)
	assert.True(t, files[0].IsEncryptedWithCustomKey)
	assert.Equal(t, "b", files[1].Filename)
}

func TestUpsertIdempotent(t *testing.T) {
	s := chainstore.NewMemoryStore()
	r := New(s, hkey, WithClock(clock))
	rec := Record{CID: "QmA", NodeID: "n", Filename: "a", Owner: "o", Secret: "k"}

	require.NoError(t, r.Upsert(context.Background(), rec))
	once, _ := s.Value(hkey, "n")
	require.NoError(t, r.Upsert(context.Background(), rec))
	twice, _ := s.Value(hkey, "n")

	assert.JSONEq(t, once, twice)
}

func TestUpsertMigratesLegacyList(t *testing.T) {
	s := chainstore.NewMemoryStore()
	require.NoError(t, s.HSet(context.Background(), hkey, "n", `["Qm1111111111","Qm2222222222"]`))

	require.NoError(t, New(s, hkey, WithClock(clock)).Upsert(context.Background(), Record{CID: "Qm3333333333", NodeID: "n", Filename: "new.bin"}))

	files := stored(t, s, "n")
	require.Len(t, files, 3)
	assert.Equal(t, "file_Qm111111", files[0].Filename)
	assert.Equal(t, model.DefaultOwner, files[0].Owner)
	assert.Equal(t, "file_Qm222222", files[1].Filename)
	assert.Equal(t, "new.bin", files[2].Filename)
}

func TestUpsertUnreadableListFallsBackToEmpty(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{{{`,
		"object":       `{"cid":"QmOld"}`,
		"mixed legacy": `["QmOld", {"cid":"QmOther"}]`,
		"empty string": ``,
	} {
		t.Run(name, func(t *testing.T) {
			s := chainstore.NewMemoryStore()
			require.NoError(t, s.HSet(context.Background(), hkey, "n", raw))

			require.NoError(t, New(s, hkey).Upsert(context.Background(), Record{CID: "QmA", NodeID: "n"}))

			files := stored(t, s, "n")
			require.Len(t, files, 1)
			assert.Equal(t, "QmA", files[0].CID)
		})
	}
}

func TestUpsertKeepsUnknownFields(t *testing.T) {
	s := chainstore.NewMemoryStore()
	old := `[{"cid":"QmOld","filename":"o","date_uploaded":"2024-01-01T00:00:00.000Z","owner":"x","isEncryptedWithCustomKey":false,"tags":["keep"]}]`
	require.NoError(t, s.HSet(context.Background(), hkey, "n", old))

	require.NoError(t, New(s, hkey).Upsert(context.Background(), Record{CID: "QmNew", NodeID: "n"}))

	raw, _ := s.Value(hkey, "n")
	assert.Contains(t, raw, `"tags":["keep"]`)
	assert.Len(t, stored(t, s, "n"), 2)
}

func TestUpsertErrors(t *testing.T) {
	readErr := errors.New("cstore read down")
	writeErr := errors.New("cstore write down")

	s := chainstore.NewMemoryStore()
	r := New(s, hkey)

	assert.ErrorIs(t, r.Upsert(context.Background(), Record{CID: "QmA"}), ErrIncompleteRecord)
	assert.ErrorIs(t, r.Upsert(context.Background(), Record{NodeID: "n"}), ErrIncompleteRecord)

	s.BeforeHGet = func(context.Context, string, string) error { return readErr }
	assert.ErrorIs(t, r.Upsert(context.Background(), Record{CID: "QmA", NodeID: "n"}), readErr)

	s.BeforeHGet = nil
	s.BeforeHSet = func(context.Context, string, string, string) error { return writeErr }
	assert.ErrorIs(t, r.Upsert(context.Background(), Record{CID: "QmA", NodeID: "n"}), writeErr)
	assert.Zero(t, s.Writes())
}

// Two announcements for the same node that both read before either writes
// leave only one of the new records behind.
func TestConcurrentUpsertsLoseAnUpdate(t *testing.T) {
	s := chainstore.NewMemoryStore()
	var reads sync.WaitGroup
	reads.Add(2)
	s.BeforeHGet = func(context.Context, string, string) error {
		reads.Done()
		return nil
	}
	s.BeforeHSet = func(context.Context, string, string, string) error {
		reads.Wait()
		return nil
	}

	r := New(s, hkey)
	r.Announce(context.Background(), Record{CID: "QmA", NodeID: "n"})
	r.Announce(context.Background(), Record{CID: "QmB", NodeID: "n"})
	r.Wait()

	files := stored(t, s, "n")
	require.Len(t, files, 1)
	assert.Contains(t, []string{"QmA", "QmB"}, files[0].CID)
	assert.Equal(t, 2, s.Writes())
}

func TestAnnounceSurvivesCallerCancellation(t *testing.T) {
	s := chainstore.NewMemoryStore()
	release := make(chan struct{})
	s.BeforeHGet = func(context.Context, string, string) error {
		<-release
		return nil
	}
	m := metrics.New()
	r := New(s, hkey, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	r.Announce(ctx, Record{CID: "QmA", NodeID: "n"})
	cancel()
	close(release)
	r.Wait()

	assert.Len(t, stored(t, s, "n"), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexUpdates.WithLabelValues(metrics.IndexOK)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.IndexInflight))
}

func TestAnnounceFailureIsOnlyCounted(t *testing.T) {
	s := chainstore.NewMemoryStore()
	s.BeforeHSet = func(context.Context, string, string, string) error {
		return errors.New("hset failed")
	}
	m := metrics.New()
	r := New(s, hkey, WithMetrics(m))

	r.Announce(context.Background(), Record{CID: "QmA", NodeID: "n"})
	r.Announce(context.Background(), Record{CID: "QmA"})
	r.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexUpdates.WithLabelValues(metrics.IndexError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexUpdates.WithLabelValues(metrics.IndexSkipped)))
}

func TestAnnounceTimeout(t *testing.T) {
	s := chainstore.NewMemoryStore()
	s.BeforeHGet = func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := metrics.New()
	r := New(s, hkey, WithTimeout(20*time.Millisecond), WithMetrics(m))

	r.Announce(context.Background(), Record{CID: "QmA", NodeID: "n"})
	r.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexUpdates.WithLabelValues(metrics.IndexError)))
	assert.Zero(t, s.Writes())
}

func TestList(t *testing.T) {
	s := chainstore.NewMemoryStore()
	ctx := context.Background()
	r := New(s, hkey, WithClock(clock))

	require.NoError(t, r.Upsert(ctx, Record{CID: "QmA", NodeID: "node-a", Filename: "a"}))
	legacy := `["Qm1111111111","Qm2222222222"]`
	require.NoError(t, s.HSet(ctx, hkey, "node-legacy", legacy))
	require.NoError(t, s.HSet(ctx, hkey, "node-broken", `not json`))
	require.NoError(t, s.HSet(ctx, hkey, "node-object", `{"cid":"QmX"}`))
	require.NoError(t, s.HSet(ctx, "other-namespace", "node-z", `[]`))

	idx, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, idx, 4)

	require.Len(t, idx["node-a"], 1)
	assert.Equal(t, "a", idx["node-a"][0].Filename)

	require.Len(t, idx["node-legacy"], 2)
	for i, want := range []string{"file_Qm111111", "file_Qm222222"} {
		md := idx["node-legacy"][i]
		assert.Equal(t, want, md.Filename)
		assert.Equal(t, "Unknown", md.Owner)
		assert.False(t, md.IsEncryptedWithCustomKey)
	}

	assert.NotNil(t, idx["node-broken"])
	assert.Empty(t, idx["node-broken"])
	assert.Empty(t, idx["node-object"])

	// Listing never writes the migration back.
	raw, _ := s.Value(hkey, "node-legacy")
	assert.Equal(t, legacy, raw)
}

func TestListKeepsGoodEntries(t *testing.T) {
	s := chainstore.NewMemoryStore()
	ctx := context.Background()
	r := New(s, hkey, WithClock(clock))

	raw := `[` +
		`{"cid":"QmA","filename":"a","date_uploaded":"2024-01-01T00:00:00.000Z","owner":"bob","isEncryptedWithCustomKey":false},` +
		`{"cid":"QmB","filename":"b","date_uploaded":"not a date","owner":"bob","isEncryptedWithCustomKey":false},` +
		`"QmLegacyTail"` +
		`]`
	require.NoError(t, s.HSet(ctx, hkey, "node-partial", raw))

	idx, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, idx["node-partial"], 1)
	assert.Equal(t, "QmA", idx["node-partial"][0].CID)
	assert.Equal(t, "bob", idx["node-partial"][0].Owner)

	// Listing leaves the stored value alone, bad entries included.
	got, _ := s.Value(hkey, "node-partial")
	assert.Equal(t, raw, got)
}

func TestListStoreError(t *testing.T) {
	s := chainstore.NewMemoryStore()
	boom := errors.New("hgetall failed")
	s.BeforeHGetAll = func(context.Context, string) error { return boom }

	_, err := New(s, hkey).List(context.Background())
	assert.ErrorIs(t, err, boom)
}
