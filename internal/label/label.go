// Package label maps submitted ECG labels to catalog categories and
// decides whether a submission matches the ground truth.
package label

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

var subcategories = map[string]model.Category{
	"Septal":        model.CategorySTEMI,
	"Anterior":      model.CategorySTEMI,
	"Lateral":       model.CategorySTEMI,
	"Inferior":      model.CategorySTEMI,
	"Hyperacute":    model.CategoryHighRisk,
	"DeWinters":     model.CategoryHighRisk,
	"LossOfBalance": model.CategoryHighRisk,
	"Wellens":       model.CategoryHighRisk,
	"TInversion":    model.CategoryHighRisk,
	"Avrste":        model.CategoryHighRisk,
}

// Normalize turns a submitted label into a (category, subcategory) pair.
// "LOW RISK" has no subcategory; every other accepted label is its own subcategory.
func Normalize(l string) (model.Category, string, error) {
	if l == string(model.CategoryLowRisk) {
		return model.CategoryLowRisk, "", nil
	}
	if cat, ok := subcategories[l]; ok {
		return cat, l, nil
	}
	return "", "", fmt.Errorf("label %q: %w", l, model.ErrUnknownClassification)
}

// Resolve validates an explicit category/subcategory pair as sent by the
// curation form. An empty subcategory is only valid for LOW RISK.
func Resolve(category, subcategory string) (model.Category, string, error) {
	category = strings.TrimSpace(category)
	subcategory = strings.TrimSpace(subcategory)
	if subcategory == "" {
		if category == string(model.CategoryLowRisk) {
			return model.CategoryLowRisk, "", nil
		}
		return "", "", fmt.Errorf("category %q without subcategory: %w", category, model.ErrUnknownClassification)
	}
	cat, sub, err := Normalize(subcategory)
	if err != nil {
		return "", "", err
	}
	if category != "" && category != string(cat) {
		return "", "", fmt.Errorf("subcategory %q does not belong to %q: %w", subcategory, category, model.ErrUnknownClassification)
	}
	return cat, sub, nil
}

// Matches reports whether the submitted category contains the ground-truth
// category, ignoring case and surrounding spaces. A submission such as
// "HIGH RISK/STEMI" therefore matches both HIGH RISK and STEMI.
func Matches(submitted, truth model.Category) bool {
	t := strings.ToLower(strings.TrimSpace(string(truth)))
	if t == "" {
		return false
	}
	return strings.Contains(strings.ToLower(strings.TrimSpace(string(submitted))), t)
}

// Labels returns every accepted label, sorted.
func Labels() []string {
	out := []string{string(model.CategoryLowRisk)}
	for l := range subcategories {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
