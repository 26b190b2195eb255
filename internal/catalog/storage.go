package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultModelURL is where Cellpose publishes its pretrained weights.
const DefaultModelURL = "https://www.cellpose.org/models"

// UserModelsFile lists custom model names, one per line, inside the models directory.
const UserModelsFile = "gui_models.txt"

// BuiltinModels are the pretrained models of Cellpose 3.
var BuiltinModels = []string{
	"cyto3", "nuclei", "cyto2_cp3", "tissuenet_cp3", "livecell_cp3",
	"yeast_PhC_cp3", "yeast_BF_cp3", "bact_phase_cp3", "bact_fluor_cp3",
	"deepbacs_cp3", "cyto2", "cyto", "transformer_cp3",
	"neurips_cellpose_default", "neurips_cellpose_transformer",
	"neurips_grayscale_cyto2",
}

// foldedNames are the models whose files carry a torch_<fold> suffix.
var foldedNames = map[string]bool{
	ModelCyto:   true,
	ModelCyto2:  true,
	ModelNuclei: true,
}

// FileStorage resolves weights in a Cellpose models directory.
type FileStorage struct {
	Root     string   // Models directory
	ModelURL string   // Download base URL for missing built-in weights
	Builtins []string // Built-in identifiers, BuiltinModels when nil

	Client *http.Client
	Logger logrus.FieldLogger
}

// NewFileStorage creates a storage rooted at root with the default download URL.
func NewFileStorage(root string) *FileStorage {
	return &FileStorage{
		Root:     root,
		ModelURL: DefaultModelURL,
		Client:   http.DefaultClient,
		Logger:   logrus.StandardLogger(),
	}
}

// BuiltinIdentifiers implements ModelStorage.
func (s *FileStorage) BuiltinIdentifiers() []string {
	if s.Builtins == nil {
		return append([]string(nil), BuiltinModels...)
	}
	return append([]string(nil), s.Builtins...)
}

// UserIdentifiers implements ModelStorage. A missing list file means no
// user models.
func (s *FileStorage) UserIdentifiers() ([]string, error) {
	//nolint:gosec // G304: the list lives in the configured models directory.
	f, err := os.Open(filepath.Join(s.Root, UserModelsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open user model list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		// A blank line would resolve to cyto.
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user model list: %w", err)
	}
	return ids, nil
}

// WeightsBasename returns the file name of a model fold: cyto, cyto2 and
// nuclei are stored per fold as "<id>torch_<fold>", every other model as a
// single file named like the model. An empty identifier means cyto.
func WeightsBasename(id string, fold int) string {
	id = canonicalID(id)
	if foldedNames[id] {
		return fmt.Sprintf("%storch_%d", id, fold)
	}
	return id
}

// ResolvePath implements ModelStorage.
func (s *FileStorage) ResolvePath(id string, fold int, createIfMissing bool) (string, error) {
	if fold < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidFold, fold)
	}
	name := WeightsBasename(id, fold)
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	path := filepath.Join(s.Root, name)

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return path, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	case !createIfMissing:
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if err := os.MkdirAll(s.Root, 0o750); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}
	url := strings.TrimRight(s.ModelURL, "/") + "/" + name
	s.logger().WithFields(logrus.Fields{"model": id, "fold": fold, "url": url}).Info("downloading model weights")
	if err := download(s.client(), url, path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileStorage) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

func (s *FileStorage) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
