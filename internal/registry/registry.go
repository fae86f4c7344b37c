package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/llmcouncil/configs"
)

// OpenRouter ids look like "vendor/model-name:variant".
var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*(?:/[A-Za-z0-9._:-]+)*$`)

type Registry struct {
	path    string
	catalog *Catalog
	mu      sync.RWMutex
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("models path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if err := ensureDefault(path); err != nil {
		return nil, err
	}

	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Path() string {
	return r.path
}

// Get returns a copy of the current catalog.
func (r *Registry) Get() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneCatalog(r.catalog)
}

func (r *Registry) Reload() error {
	loaded, err := loadFile(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.catalog = loaded
	r.mu.Unlock()
	return nil
}

func (r *Registry) Save(cat *Catalog) error {
	if cat == nil {
		return errors.New("catalog is required")
	}
	clean := cloneCatalog(cat)
	if err := validate(clean); err != nil {
		return err
	}

	data, err := yaml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace catalog %q: %w", r.path, err)
	}

	r.mu.Lock()
	r.catalog = clean
	r.mu.Unlock()
	return nil
}

func ensureDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat catalog %q: %w", path, err)
	}
	if err := os.WriteFile(path, configs.DefaultModels, 0o644); err != nil {
		return fmt.Errorf("write default %q: %w", path, err)
	}
	return nil
}

func loadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", path, err)
	}
	if err := validate(&cat); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cat, nil
}

// validate normalizes cat in place: ids are trimmed, blanks and duplicates
// dropped, and models referenced as defaults are added to AvailableModels.
func validate(cat *Catalog) error {
	if cat == nil {
		return errors.New("catalog is required")
	}
	var err error
	if cat.CouncilModels, err = cleanIDs("council_models", cat.CouncilModels); err != nil {
		return err
	}
	if len(cat.CouncilModels) == 0 {
		return errors.New("council_models must list at least one model")
	}
	if cat.AvailableModels, err = cleanIDs("available_models", cat.AvailableModels); err != nil {
		return err
	}

	cat.ChairmanModel = strings.TrimSpace(cat.ChairmanModel)
	if cat.ChairmanModel == "" {
		return errors.New("chairman_model is required")
	}
	if err := validateID(cat.ChairmanModel); err != nil {
		return fmt.Errorf("chairman_model: %w", err)
	}

	cat.ClarifierModel = strings.TrimSpace(cat.ClarifierModel)
	if cat.ClarifierModel == "" {
		cat.ClarifierModel = cat.ChairmanModel
	} else if err := validateID(cat.ClarifierModel); err != nil {
		return fmt.Errorf("clarifier_model: %w", err)
	}
	cat.TitleModel = strings.TrimSpace(cat.TitleModel)
	if cat.TitleModel == "" {
		cat.TitleModel = cat.ClarifierModel
	} else if err := validateID(cat.TitleModel); err != nil {
		return fmt.Errorf("title_model: %w", err)
	}

	for _, id := range append(append([]string(nil), cat.CouncilModels...), cat.ChairmanModel) {
		if !cat.HasModel(id) {
			cat.AvailableModels = append(cat.AvailableModels, id)
		}
	}
	return nil
}

func cleanIDs(field string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if err := validateID(id); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func validateID(id string) error {
	if !modelIDPattern.MatchString(id) {
		return fmt.Errorf("invalid model id %q", id)
	}
	return nil
}

func cloneCatalog(cat *Catalog) *Catalog {
	if cat == nil {
		return nil
	}
	out := *cat
	out.AvailableModels = append([]string(nil), cat.AvailableModels...)
	out.CouncilModels = append([]string(nil), cat.CouncilModels...)
	return &out
}
