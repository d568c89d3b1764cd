package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/vietddude/mealog/internal/core/domain"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Delete this meal?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Delete this meal? [y/N]") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}

func TestPrintMeals(t *testing.T) {
	date := civil.Date{Year: 2024, Month: time.July, Day: 15}

	var empty bytes.Buffer
	printMeals(&empty, date, nil)
	if got := empty.String(); got != "2024-07-15: 0 meal(s)\n" {
		t.Errorf("unexpected empty output %q", got)
	}

	var out bytes.Buffer
	printMeals(&out, date, []domain.MealRecord{
		{ID: "m1", Date: date, MealType: domain.MealTypeLunch, DishName: "Bibimbap", CreatedAt: time.Now()},
	})
	for _, want := range []string{"1 meal(s)", "ID", "m1", "lunch", "Bibimbap"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
