// -----------------------------------------------------------------------
// Directory Catalog - read-only lookup of directory descriptors
// -----------------------------------------------------------------------

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/models"
)

// catalogFile is the on-disk shape of one descriptor TOML file. A file may
// carry one or many directories.
type catalogFile struct {
	Directories []models.DirectoryDescriptor `toml:"directories"`
}

// Catalog holds the validated directory descriptors, loaded once at
// startup and immutable afterwards.
type Catalog struct {
	byID   map[string]models.DirectoryDescriptor
	order  []string
	logger arbor.ILogger
}

// Load reads all .toml descriptor files in dir, validates each directory
// against the schema, and returns the catalog. Malformed or duplicate
// entries fail the load - a bad catalog prevents startup rather than
// surfacing at submission time.
func Load(dir string, logger arbor.ILogger) (*Catalog, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog directory does not exist: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	validate := validator.New()
	c := &Catalog{
		byID:   make(map[string]models.DirectoryDescriptor),
		logger: logger,
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file %s: %w", entry.Name(), err)
		}

		var file catalogFile
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse catalog file %s: %w", entry.Name(), err)
		}

		for _, d := range file.Directories {
			if err := validate.Struct(d); err != nil {
				return nil, fmt.Errorf("invalid directory %q in %s: %w", d.ID, entry.Name(), err)
			}
			if _, exists := c.byID[d.ID]; exists {
				return nil, fmt.Errorf("duplicate directory id %q in %s", d.ID, entry.Name())
			}
			c.byID[d.ID] = d
			c.order = append(c.order, d.ID)
		}

		logger.Debug().
			Str("file", entry.Name()).
			Int("directories", len(file.Directories)).
			Msg("Catalog file loaded")
	}

	if len(c.byID) == 0 {
		return nil, fmt.Errorf("catalog directory %s contains no directories", dir)
	}

	logger.Info().
		Int("directories", len(c.byID)).
		Str("dir", dir).
		Msg("Directory catalog loaded")

	return c, nil
}

// NewFromDescriptors builds a catalog directly from descriptors. Used by
// tests and by callers that already hold validated metadata.
func NewFromDescriptors(descriptors []models.DirectoryDescriptor, logger arbor.ILogger) (*Catalog, error) {
	validate := validator.New()
	c := &Catalog{
		byID:   make(map[string]models.DirectoryDescriptor),
		logger: logger,
	}
	for _, d := range descriptors {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("invalid directory %q: %w", d.ID, err)
		}
		if _, exists := c.byID[d.ID]; exists {
			return nil, fmt.Errorf("duplicate directory id %q", d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

// Get returns the descriptor for a directory id.
func (c *Catalog) Get(directoryID string) (models.DirectoryDescriptor, bool) {
	d, ok := c.byID[directoryID]
	return d, ok
}

// All returns every descriptor in load order.
func (c *Catalog) All() []models.DirectoryDescriptor {
	result := make([]models.DirectoryDescriptor, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.byID[id])
	}
	return result
}

// Len returns the number of directories in the catalog.
func (c *Catalog) Len() int {
	return len(c.byID)
}

// IDs returns all directory ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
