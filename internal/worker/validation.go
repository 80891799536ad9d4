package worker

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/bobarin/composer/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidation marks a request rejected before anything was persisted.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing record or one the caller does not own.
	ErrNotFound = models.ErrNotFound
)

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (m *Manager) validateStruct(s any) error {
	err := m.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// validateCombinations checks what struct tags cannot: every combination needs a
// video source and a logo path that stays inside the media root.
func (m *Manager) validateCombinations(combos []models.CombinationRequest) error {
	for i, combo := range combos {
		if !combo.HasVideoSource() {
			return fmt.Errorf("%w: combination %d: at least one of hook, body or cat clip is required", ErrValidation, i+1)
		}
		if combo.LogoOverlayPath != nil && *combo.LogoOverlayPath != "" {
			if filepath.IsAbs(*combo.LogoOverlayPath) {
				return fmt.Errorf("%w: combination %d: logo_overlay_path must be relative to the media root", ErrValidation, i+1)
			}
			if _, err := m.resolveMedia(*combo.LogoOverlayPath); err != nil {
				return fmt.Errorf("%w: combination %d: %v", ErrValidation, i+1, err)
			}
		}
	}
	return nil
}

// missingIDs returns the ids in want that are not in found, sorted and deduplicated.
func missingIDs(want, found []int64) []int64 {
	have := make(map[int64]bool, len(found))
	for _, id := range found {
		have[id] = true
	}

	var missing []int64
	seen := make(map[int64]bool)
	for _, id := range want {
		if !have[id] && !seen[id] {
			seen[id] = true
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// resolveMedia maps a stored media path to an absolute path under the media root.
// Relative paths may not climb out of the root.
func (m *Manager) resolveMedia(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}

	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the media root", p)
	}
	return filepath.Join(m.mediaRoot, clean), nil
}
