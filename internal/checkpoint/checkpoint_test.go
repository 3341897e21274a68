package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state", "checkpoint.json"))
	want := Checkpoint{CycleCount: 3, Notes: []string{"a", "b"}}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	got, err := NewFileStore(filepath.Join(t.TempDir(), "none.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, 0, got.CycleCount)
	assert.Equal(t, []string{}, got.Notes)
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":  "{not json",
		"negative": `{"cycle_count": -4, "notes": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "checkpoint.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			got, err := NewFileStore(path).Load()
			require.NoError(t, err)
			assert.Equal(t, Checkpoint{Notes: []string{}}, got)
		})
	}
}

func TestSaveOverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "checkpoint.json"))
	require.NoError(t, s.Save(Checkpoint{CycleCount: 1, Notes: []string{"x"}}))
	require.NoError(t, s.Save(Checkpoint{CycleCount: 2}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, got.CycleCount)
	assert.Empty(t, got.Notes)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cycle_count": 2`)
	assert.Contains(t, string(raw), `"notes": []`)
}

func TestClone(t *testing.T) {
	cp := Checkpoint{CycleCount: 1, Notes: []string{"a"}}
	c := cp.Clone()
	c.Notes[0] = "changed"
	assert.Equal(t, "a", cp.Notes[0])
}
