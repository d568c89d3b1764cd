package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// MealType is the kind of meal a record logs.
type MealType string

const (
	MealTypeBreakfast MealType = "breakfast"
	MealTypeLunch     MealType = "lunch"
	MealTypeDinner    MealType = "dinner"
	MealTypeSnack     MealType = "snack"
	MealTypeOther     MealType = "other"
)

// MealTypes lists the allowed meal types in display order.
var MealTypes = []MealType{
	MealTypeBreakfast,
	MealTypeLunch,
	MealTypeDinner,
	MealTypeSnack,
	MealTypeOther,
}

// ParseMealType accepts any casing ("Breakfast", "SNACK") and returns the canonical value.
func ParseMealType(s string) (MealType, error) {
	t := MealType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range MealTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown meal type %q", s)
}

// OwnerID identifies the authenticated user owning a record. Empty means absent.
type OwnerID string

// IsZero reports whether no identity is present.
func (o OwnerID) IsZero() bool {
	return o == ""
}

// MealFields is the user-editable part of a meal record.
type MealFields struct {
	Date     civil.Date
	MealType MealType
	DishName string
	Memo     string
}

// MealRecord is one logged meal as read back from the store.
type MealRecord struct {
	ID        string     `json:"id"`
	OwnerID   OwnerID    `json:"owner_id"`
	Date      civil.Date `json:"date"`
	MealType  MealType   `json:"type"`
	DishName  string     `json:"dish"`
	Memo      string     `json:"memo"`
	CreatedAt time.Time  `json:"created_at"`
}

// Fields returns the editable part of the record.
func (m MealRecord) Fields() MealFields {
	return MealFields{
		Date:     m.Date,
		MealType: m.MealType,
		DishName: m.DishName,
		Memo:     m.Memo,
	}
}

// ParseDate parses the canonical YYYY-MM-DD form used as the query partition.
func ParseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// DateIn returns the calendar date of t in loc. A nil loc means UTC.
func DateIn(t time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(t.In(loc))
}
