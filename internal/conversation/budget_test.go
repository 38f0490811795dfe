// internal/conversation/budget_test.go
package conversation

import (
	"errors"
	"strings"
	"testing"
)

func TestNewBudgetFallsBackForUnknownModel(t *testing.T) {
	b, err := NewBudget("some-future-model", 100)
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("expected non-nil budget")
	}
}

func TestBudgetRejectsOversizedPrompt(t *testing.T) {
	b, err := NewBudget("gpt-4", 5)
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("another word here ", 50)
	if err := b.Check(long); !errors.Is(err, ErrPromptTooLarge) {
		t.Fatalf("error = %v, want ErrPromptTooLarge", err)
	}
	if err := b.Check("hi"); err != nil {
		t.Fatalf("short prompt rejected: %v", err)
	}
}

func TestBudgetDisabledWhenZero(t *testing.T) {
	b, err := NewBudget("gpt-4", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Check(strings.Repeat("x ", 10000)); err != nil {
		t.Fatalf("zero budget must not reject: %v", err)
	}
}
