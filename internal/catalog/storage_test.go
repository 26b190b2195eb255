package catalog

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsBasename(t *testing.T) {
	cases := []struct {
		id   string
		fold int
		want string
	}{
		{"cyto", 0, "cytotorch_0"},
		{"cyto2", 3, "cyto2torch_3"},
		{"nuclei", 2, "nucleitorch_2"},
		{"", 1, "cytotorch_1"},
		{"cyto3", 2, "cyto3"},
		{"tissuenet_cp3", 0, "tissuenet_cp3"},
		{"custom1", 0, "custom1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WeightsBasename(tc.id, tc.fold), "%q fold %d", tc.id, tc.fold)
	}
}

func TestBuiltinIdentifiers(t *testing.T) {
	s := NewFileStorage(t.TempDir())
	ids := s.BuiltinIdentifiers()
	assert.Equal(t, BuiltinModels, ids)

	ids[0] = "changed"
	assert.Equal(t, "cyto3", s.BuiltinIdentifiers()[0])

	s.Builtins = []string{"cyto", "custom1"}
	assert.Equal(t, []string{"cyto", "custom1"}, s.BuiltinIdentifiers())
}

func TestUserIdentifiers(t *testing.T) {
	root := t.TempDir()
	s := NewFileStorage(root)

	ids, err := s.UserIdentifiers()
	require.NoError(t, err)
	assert.Empty(t, ids)

	list := "custom1\nmy model  \r\n\ncustom1\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, UserModelsFile), []byte(list), 0o600))

	ids, err = s.UserIdentifiers()
	require.NoError(t, err)
	assert.Equal(t, []string{"custom1", "my model", "custom1"}, ids)
}

func TestResolvePathExisting(t *testing.T) {
	root := t.TempDir()
	want := filepath.Join(root, "nucleitorch_1")
	require.NoError(t, os.WriteFile(want, []byte("w"), 0o600))

	s := NewFileStorage(root)
	s.ModelURL = "http://127.0.0.1:1" // never contacted
	got, err := s.ResolvePath("nuclei", 1, true)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolvePathMissingNoCreate(t *testing.T) {
	s := NewFileStorage(t.TempDir())

	_, err := s.ResolvePath("custom1", 0, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePathInvalid(t *testing.T) {
	s := NewFileStorage(t.TempDir())

	_, err := s.ResolvePath("cyto", -1, false)
	assert.ErrorIs(t, err, ErrInvalidFold)

	_, err = s.ResolvePath("../escape", 0, false)
	assert.ErrorIs(t, err, ErrInvalidModelID)
}

func TestResolvePathDownloads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/models/cyto2torch_0" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	root := filepath.Join(t.TempDir(), "models")
	logger, hook := test.NewNullLogger()
	s := NewFileStorage(root)
	s.ModelURL = srv.URL + "/models/"
	s.Client = srv.Client()
	s.Logger = logger

	path, err := s.ResolvePath("cyto2", 0, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "cyto2torch_0"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "cyto2", hook.LastEntry().Data["model"])

	// Second resolution uses the cached file.
	_, err = s.ResolvePath("cyto2", 0, true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolvePathDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	root := t.TempDir()
	s := NewFileStorage(root)
	s.ModelURL = srv.URL
	s.Client = srv.Client()
	s.Logger, _ = test.NewNullLogger()

	_, err := s.ResolvePath("custom1", 0, true)
	require.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "404")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file left behind")
}
