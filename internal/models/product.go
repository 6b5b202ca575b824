package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// CategoryAll selects every category in listings.
const CategoryAll = "all"

// Categories is the fixed, ordered list of product categories.
var Categories = []string{
	"digital",
	"appliances",
	"furniture",
	"kids",
	"food",
	"womens-clothing",
	"mens-clothing",
	"sports",
	"games-hobby",
	"books-tickets-music",
	"plants",
	"pet-supplies",
	"etc",
}

// IsCategory reports whether c is one of Categories.
func IsCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// StringList is a JSON encoded list of strings stored in a single column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.New("unsupported StringList source")
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// Product is a listing. CreatedAt is milliseconds since epoch.
type Product struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Title       string     `gorm:"size:200;not null" json:"title"`
	Description string     `gorm:"type:text;not null" json:"description"`
	Price       int64      `gorm:"not null;default:0" json:"price"`
	Category    string     `gorm:"size:64;index;not null" json:"category"`
	Images      StringList `gorm:"type:text" json:"images"`
	SellerID    string     `gorm:"size:128;index;not null" json:"seller_id"`
	CreatedAt   int64      `gorm:"autoCreateTime:false;index" json:"created_at"`
	Views       int64      `gorm:"not null;default:0" json:"views"`
	Likes       int64      `gorm:"not null;default:0" json:"likes"`
}
