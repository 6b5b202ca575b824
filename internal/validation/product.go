package validation

import (
	"errors"
	"strconv"
	"strings"

	"marketplace/internal/models"
)

// MaxProductImages caps the number of images attached to a listing.
const MaxProductImages = 10

// ProductForm is the raw listing form as submitted.
type ProductForm struct {
	Title       string
	Description string
	Price       string
	Category    string
	ImageCount  int
}

// ValidateProductForm checks the required listing fields.
func ValidateProductForm(f ProductForm) error {
	if strings.TrimSpace(f.Title) == "" || strings.TrimSpace(f.Description) == "" ||
		strings.TrimSpace(f.Price) == "" || f.Category == "" {
		return errors.New("Please fill in every field.")
	}
	if !models.IsCategory(f.Category) {
		return errors.New("Unknown category.")
	}
	if f.ImageCount > MaxProductImages {
		return errors.New("You can attach up to 10 images.")
	}
	return nil
}

// ParsePrice strips thousands separators and parses the price.
// Values that do not parse are treated as 0.
func ParsePrice(raw string) int64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if v, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return int64(f)
	}
	return 0
}
