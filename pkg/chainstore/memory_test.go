package chainstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, found, err := s.HGet(ctx, "h", "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.HSet(ctx, "h", "k", "v1"))
	require.NoError(t, s.HSet(ctx, "h", "k", "v2"))
	v, found, err := s.HGet(ctx, "h", "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 2, s.Writes())

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	all["k"] = "mutated"
	v, _, _ = s.HGet(ctx, "h", "k")
	assert.Equal(t, "v2", v, "HGetAll must return a copy")

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", st.String("backend"))
}

func TestMemoryStoreHooks(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	s.BeforeHSet = func(context.Context, string, string, string) error { return boom }
	s.BeforeHGet = func(context.Context, string, string) error { return boom }
	s.BeforeHGetAll = func(context.Context, string) error { return boom }

	assert.ErrorIs(t, s.HSet(context.Background(), "h", "k", "v"), boom)
	_, _, err := s.HGet(context.Background(), "h", "k")
	assert.ErrorIs(t, err, boom)
	_, err = s.HGetAll(context.Background(), "h")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, s.Writes())
}

func TestMemoryStoreContextAndHKey(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.HSet(ctx, "h", "k", "v"), context.Canceled)
	assert.ErrorIs(t, s.HSet(context.Background(), "", "k", "v"), ErrEmptyHKey)
}

func TestValueString(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		found bool
	}{
		{in: `"[]"`, want: "[]", found: true},
		{in: `null`, found: false},
		{in: ``, found: false},
		{in: ` [1,2] `, want: "[1,2]", found: true},
		{in: `42`, want: "42", found: true},
	}
	for _, tt := range tests {
		got, found := valueString([]byte(tt.in))
		assert.Equal(t, tt.found, found, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
