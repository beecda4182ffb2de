package itemctx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMapProvider(t *testing.T) {
	t.Parallel()

	p := NewMapProvider(2)
	require.NoError(t, p.Set("b", []float64{1, 2}))
	require.NoError(t, p.Set("a", []float64{3, 4}))

	err := p.Set("c", []float64{1})
	assert.ErrorIs(t, err, ErrDimension)

	v, ok := p.Vector("a")
	require.True(t, ok)
	assert.Equal(t, []float64{3, 4}, v)
	_, ok = p.Vector("c")
	assert.False(t, ok)

	assert.Equal(t, 2, p.Dim())
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"a", "b"}, p.Keys())
}

func TestMapProviderCopiesInput(t *testing.T) {
	t.Parallel()

	p := NewMapProvider(1)
	vec := []float64{1}
	require.NoError(t, p.Set("a", vec))
	vec[0] = 99

	v, _ := p.Vector("a")
	assert.Equal(t, 1.0, v[0])
}

func TestZeroProvider(t *testing.T) {
	t.Parallel()

	p := NewZeroProvider(3)
	v, ok := p.Vector("anything")
	assert.True(t, ok)
	assert.Equal(t, []float64{0, 0, 0}, v)
	assert.Equal(t, 3, p.Dim())
}

func TestCoverage(t *testing.T) {
	t.Parallel()

	p := NewMapProvider(1)
	require.NoError(t, p.Set("x", []float64{1}))
	found, missing := Coverage(p, []string{"x", "y", "z"})
	assert.Equal(t, 1, found)
	assert.Equal(t, 2, missing)
}

func genreRow(id string, flags ...int) string {
	cols := []string{id, "Movie (1995)", "01-Jan-1995", "", "http://example.com"}
	for j := 0; j < GenreColumns; j++ {
		v := "0"
		for _, f := range flags {
			if f == j {
				v = "1"
			}
		}
		cols = append(cols, v)
	}
	return strings.Join(cols, "|")
}

func TestNewGenreProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := genreRow("1", 3, 4) + "\n" + genreRow("2", 0) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u.item"), []byte(content), 0o600))

	p, err := NewGenreProvider(dir)
	require.NoError(t, err)
	assert.Equal(t, GenreColumns, p.Dim())
	assert.Equal(t, 2, p.Len())

	v, ok := p.Vector("1")
	require.True(t, ok)
	assert.Equal(t, 1.0, v[3])
	assert.Equal(t, 1.0, v[4])
	assert.Equal(t, 0.0, v[0])
}

func TestNewGenreProviderRejectsShortRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u.item"), []byte("1|title|0|1\n"), 0o600))

	_, err := NewGenreProvider(dir)
	assert.ErrorContains(t, err, "line 1")
}

func TestNewMatrixProvider(t *testing.T) {
	t.Parallel()

	q := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	p, err := NewMatrixProvider([]string{"i0", "i1"}, q)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Dim())

	v, _ := p.Vector("i1")
	assert.Equal(t, []float64{4, 5, 6}, v)

	// The provider owns its copy of the factors.
	q.Set(1, 0, -1)
	v, _ = p.Vector("i1")
	assert.Equal(t, 4.0, v[0])

	_, err = NewMatrixProvider([]string{"only"}, q)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewMapProvider(2)
	require.NoError(t, p.Set("a", []float64{0.5, -1}))
	require.NoError(t, p.Set("b", []float64{2, 3}))

	filename := filepath.Join(t.TempDir(), "ctx.json")
	require.NoError(t, SaveJSON(filename, p))

	loaded, err := LoadJSON(filename)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Dim())
	assert.Equal(t, p.Keys(), loaded.Keys())
	v, _ := loaded.Vector("a")
	assert.Equal(t, []float64{0.5, -1}, v)
}

func TestLoadJSONErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed", content: "{"},
		{name: "missing dimension", content: `{"vectors":{"a":[1]}}`},
		{name: "wrong vector length", content: `{"dim":2,"vectors":{"a":[1]}}`},
	}
	for _, tt := range tests {
		tt := tt
		filename := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
		require.NoError(t, os.WriteFile(filename, []byte(tt.content), 0o600))
		_, err := LoadJSON(filename)
		assert.Error(t, err, tt.name)
	}

	_, err := LoadJSON(filepath.Join(dir, "absent.json"))
	assert.Error(t, err)
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewMapProvider(3)
	require.NoError(t, p.Set("242", []float64{0.25, -1, 3}))
	require.NoError(t, p.Set("302", []float64{0, 0.5, -0.125}))

	filename := filepath.Join(t.TempDir(), "rep.txt")
	require.NoError(t, SaveText(filename, p))

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "2 3\n242 0.250000 -1.000000 3.000000\n302 0.000000 0.500000 -0.125000\n", string(content))

	loaded, err := LoadText(filename)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Dim())
	v, ok := loaded.Vector("302")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0.5, -0.125}, v)
}

func TestLoadTextErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "bad header", content: "2\na 1\n"},
		{name: "zero dimension", content: "1 0\na\n"},
		{name: "short row", content: "1 2\na 1\n"},
		{name: "bad value", content: "1 1\na x\n"},
		{name: "count mismatch", content: "3 1\na 1\nb 2\n"},
	}
	for _, tt := range tests {
		tt := tt
		filename := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".txt")
		require.NoError(t, os.WriteFile(filename, []byte(tt.content), 0o600))
		_, err := LoadText(filename)
		assert.Error(t, err, tt.name)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("CTXREC_REDIS_ADDR")
	if addr == "" {
		t.Skip("CTXREC_REDIS_ADDR not set")
	}

	ctx := context.Background()
	s, err := NewRedisStore(ctx, addr, 0)
	require.NoError(t, err)
	defer s.Close()
	s.Prefix = "ctxrec-test:" + t.Name() + ":"

	p := NewMapProvider(2)
	require.NoError(t, p.Set("a", []float64{1, 2}))
	require.NoError(t, s.Save(ctx, p, 0))

	loaded, err := s.Load(ctx, 2, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	v, ok := loaded.Vector("a")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, v)
}
