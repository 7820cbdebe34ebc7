package tracker

import (
	"context"
	"path/filepath"
	"testing"

	"trackresync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	a := NewRESTTracker(context.Background(), config.TrackerConfig{ID: 2, Name: "b"})
	b := NewRESTTracker(context.Background(), config.TrackerConfig{ID: 1, Name: "a"})
	r := NewRegistry(a, b)

	got, ok := r.Resolve(2)
	require.True(t, ok)
	assert.Equal(t, "b", got.Name())

	_, ok = r.Resolve(99)
	assert.False(t, ok)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID())
}

func TestBuild(t *testing.T) {
	cfgs := []config.TrackerConfig{
		{ID: 1, Name: "rest", Type: config.TrackerTypeREST, BaseURL: "http://localhost", Token: "t"},
		{
			ID: 2, Name: "sheet", Type: config.TrackerTypeSheets, SpreadsheetID: "x",
			CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
		},
	}

	r, err := Build(context.Background(), cfgs, nil)
	require.NoError(t, err)

	rest, ok := r.Resolve(1)
	require.True(t, ok)
	assert.True(t, rest.IsAuthenticated())

	sheet, ok := r.Resolve(2)
	require.True(t, ok)
	assert.False(t, sheet.IsAuthenticated())
}

func TestBuildUnknownType(t *testing.T) {
	_, err := Build(context.Background(), []config.TrackerConfig{{ID: 1, Type: "ftp"}}, nil)
	assert.Error(t, err)
}
