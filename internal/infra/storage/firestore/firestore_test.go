package firestore

import (
	"testing"
	"time"

	"github.com/vietddude/mealog/internal/core/domain"
)

func TestEncodeDecode(t *testing.T) {
	date, _ := domain.ParseDate("2024-07-15")
	fields := domain.MealFields{Date: date, MealType: domain.MealTypeLunch, DishName: "Bibimbap", Memo: "spicy"}

	data := encode(fields)
	if data["date"] != "2024-07-15" || data["type"] != "lunch" || data["dish"] != "Bibimbap" {
		t.Fatalf("unexpected encoding %v", data)
	}

	created := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	data["createdAt"] = created
	doc, err := decode("m1", data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if doc.ID != "m1" || doc.Fields != fields {
		t.Errorf("decode = %+v, want fields %+v", doc, fields)
	}
	if doc.CreatedAt == nil || !doc.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", doc.CreatedAt, created)
	}
}

func TestDecode_LegacyDocuments(t *testing.T) {
	tests := []struct {
		name        string
		data        map[string]interface{}
		wantType    domain.MealType
		wantCreated bool
		wantErr     bool
	}{
		{
			name:        "capitalized type",
			data:        map[string]interface{}{"date": "2024-07-15", "type": "Breakfast", "dish": "Toast", "createdAt": time.Now()},
			wantType:    domain.MealTypeBreakfast,
			wantCreated: true,
		},
		{
			name:     "unknown type",
			data:     map[string]interface{}{"date": "2024-07-15", "type": "Brunch", "dish": "Eggs"},
			wantType: domain.MealTypeOther,
		},
		{
			name:     "createdAt not a timestamp",
			data:     map[string]interface{}{"date": "2024-07-15", "type": "snack", "dish": "Apple", "createdAt": "yesterday"},
			wantType: domain.MealTypeSnack,
		},
		{
			name:    "missing date",
			data:    map[string]interface{}{"type": "snack", "dish": "Apple"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := decode("id", tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if doc.Fields.MealType != tt.wantType {
				t.Errorf("MealType = %s, want %s", doc.Fields.MealType, tt.wantType)
			}
			if (doc.CreatedAt != nil) != tt.wantCreated {
				t.Errorf("CreatedAt = %v, wantCreated %v", doc.CreatedAt, tt.wantCreated)
			}
		})
	}
}
