package enumconv_test

import (
	"testing"

	"blaze/internal/enumconv"
)

type fruit int

const (
	apple fruit = iota
	banana
)

func table() *enumconv.Table[fruit] {
	return enumconv.NewTable(
		struct {
			Value fruit
			Name  string
		}{apple, "Apple"},
		struct {
			Value fruit
			Name  string
		}{banana, "Banana"},
	)
}

func TestParseCaseInsensitive(t *testing.T) {
	tb := table()
	v, err := tb.Parse("BANANA")
	if err != nil || v != banana {
		t.Fatalf("expected banana, got %v err=%v", v, err)
	}
}

func TestParseUnknownListsAllowed(t *testing.T) {
	tb := table()
	_, err := tb.Parse("kiwi")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestStringCanonicalCasing(t *testing.T) {
	tb := table()
	if tb.String(apple) != "Apple" {
		t.Fatalf("expected Apple, got %s", tb.String(apple))
	}
}
