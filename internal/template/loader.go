package template

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"conductor/internal/config"
	"conductor/pkg/logging"
)

const category = "templates"

// Loaded is a composition template read from a file.
type Loaded struct {
	Path        string
	Composition *Composition
}

// LoadFile reads and validates one template file.
func LoadFile(path string) (*Composition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir loads every YAML template in dir, ordered by file name. Files that
// fail to load are skipped and reported together in a
// config.ConfigurationErrorCollection alongside the templates that loaded.
// A missing directory yields no templates and no error.
func LoadDir(dir string) ([]Loaded, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("Templates", "Template directory %s does not exist", dir)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		loaded []Loaded
		errs   config.ConfigurationErrorCollection
	)
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		c, err := LoadFile(path)
		if err != nil {
			errs.Add(loadError(path, err))
			continue
		}
		loaded = append(loaded, Loaded{Path: path, Composition: c})
	}

	logging.Info("Templates", "Loaded %d composition templates from %s", len(loaded), dir)
	if errs.HasErrors() {
		return loaded, &errs
	}
	return loaded, nil
}

func loadError(path string, err error) config.ConfigurationError {
	ce := config.ConfigurationError{
		FilePath:  path,
		FileName:  filepath.Base(path),
		Category:  category,
		ErrorType: "parse",
		Message:   err.Error(),
	}
	var verrs config.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		ce.ErrorType = "validation"
		ce.Suggestions = []string{"Every template needs a name, a semantic version and at least one typed element"}
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		ce.ErrorType = "io"
	default:
		ce.Suggestions = []string{"Check the YAML syntax and that only known fields are used"}
	}
	return ce
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
