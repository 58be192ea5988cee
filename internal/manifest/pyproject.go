// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// ErrNoProjectTable is returned when pyproject.toml has no [project] table.
var ErrNoProjectTable = errors.New("pyproject.toml has no [project] table")

type pyproject struct {
	Project *struct {
		Name           string   `toml:"name"`
		RequiresPython string   `toml:"requires-python"`
		Dependencies   []string `toml:"dependencies"`
	} `toml:"project"`
}

// ParsePyproject parses the [project].dependencies array of a pyproject.toml.
// Optional dependency groups are not installed and therefore ignored.
func ParsePyproject(path string, data []byte) (*Manifest, error) {
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %w", path, row, col, err)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Project == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoProjectTable)
	}

	m := &Manifest{
		Path:           path,
		Format:         FormatPyproject,
		RequiresPython: doc.Project.RequiresPython,
		raw:            data,
	}
	for _, dep := range doc.Project.Dependencies {
		req, err := ParseRequirement(dep)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := m.add(req); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return m, nil
}
