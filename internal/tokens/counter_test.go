package tokens

import (
	"strings"
	"testing"
)

func TestNewCounterUnknownModelFallsBack(t *testing.T) {
	c, err := NewCounter("no-such-model")
	if err != nil {
		t.Fatal(err)
	}
	if n := c.Count("hello world"); n <= 0 {
		t.Errorf("expected positive token count, got %d", n)
	}
}

func TestBudgetCheck(t *testing.T) {
	c, err := NewCounter("")
	if err != nil {
		t.Fatal(err)
	}
	b := NewBudget(c, 10)
	if _, ok := b.Check("Ông sinh năm nào?"); !ok {
		t.Error("expected short question within budget")
	}
	n, ok := b.Check(strings.Repeat("lịch sử ", 50))
	if ok {
		t.Errorf("expected long question over budget, counted %d", n)
	}
}

func TestBudgetDisabled(t *testing.T) {
	var nilBudget *Budget
	if _, ok := nilBudget.Check("anything"); !ok {
		t.Error("expected nil budget to accept")
	}
	if _, ok := NewBudget(nil, 0).Check(strings.Repeat("x", 10000)); !ok {
		t.Error("expected zero limit to accept")
	}
}
