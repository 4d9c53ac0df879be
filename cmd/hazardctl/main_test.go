package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/store/memstore"
)

func TestRunSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "w-1", "name": "SS Example", "lat": 34.05, "lon": -118.25},
		{"collection": "reefs", "id": "r-1", "lat": 25.0, "lon": -80.0}
	]`), 0o600))

	st := memstore.New(0)
	var out bytes.Buffer
	require.NoError(t, runSeed(context.Background(), st, "wrecks", []string{"-file", path}, &out))
	assert.Equal(t, "seeded 2 sites\n", out.String())

	doc, err := st.Get(context.Background(), "wrecks/w-1")
	require.NoError(t, err)
	assert.Equal(t, "SS Example", doc["name"])
	assert.NotContains(t, doc, "id")

	ids, err := st.List(context.Background(), "reefs")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, ids)
}

func TestRunSeed_Errors(t *testing.T) {
	dir := t.TempDir()
	noID := filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(noID, []byte(`[{"lat": 1, "lon": 2}]`), 0o600))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o600))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing flag", args: nil, wantErr: "-file"},
		{name: "missing file", args: []string{"-file", filepath.Join(dir, "nope.json")}, wantErr: "read seed file"},
		{name: "malformed", args: []string{"-file", bad}, wantErr: "parse seed file"},
		{name: "missing id", args: []string{"-file", noID}, wantErr: "missing id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runSeed(context.Background(), memstore.New(0), "wrecks", tt.args, &out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_NoCommand(t *testing.T) {
	err := run(context.Background(), nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, errUsage)
}
