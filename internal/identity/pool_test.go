package identity

import (
	"errors"
	"testing"
)

func TestNewRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := New(); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("New() err = %v, want ErrEmptyPool", err)
	}
	if _, err := New(Identity{Name: "a", Token: "  "}); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("New(blank token) err = %v, want ErrEmptyToken", err)
	}
	if _, err := New(Identity{Name: "a", Token: "1"}, Identity{Name: "a", Token: "2"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestNextRoundRobin(t *testing.T) {
	t.Parallel()
	p, err := New(Identity{Token: "ta"}, Identity{Token: "tb"}, Identity{Token: "tc"})
	if err != nil {
		t.Fatal(err)
	}
	cursor := 0
	seen := map[string]int{}
	var first Identity
	for i := 0; i < p.Len(); i++ {
		id := p.Next(&cursor)
		if i == 0 {
			first = id
		}
		seen[id.Name]++
	}
	for _, name := range p.Names() {
		if seen[name] != 1 {
			t.Fatalf("identity %s selected %d times in one cycle", name, seen[name])
		}
	}
	if again := p.Next(&cursor); again != first {
		t.Fatalf("(k+1)-th selection = %v, want %v", again, first)
	}
	if cursor != 1 {
		t.Fatalf("cursor = %d, want 1", cursor)
	}
}

func TestNextNormalizesCursor(t *testing.T) {
	t.Parallel()
	p, _ := New(Identity{Name: "a", Token: "1"}, Identity{Name: "b", Token: "2"})
	cursor := -1
	if id := p.Next(&cursor); id.Name != "b" {
		t.Fatalf("Next(-1) = %s, want b", id.Name)
	}
	cursor = 5
	if id := p.Next(&cursor); id.Name != "b" || cursor != 0 {
		t.Fatalf("Next(5) = %s cursor=%d", id.Name, cursor)
	}
}

func TestStringHidesToken(t *testing.T) {
	t.Parallel()
	id := Identity{Name: "bot1", Token: "123:secret"}
	if id.String() != "bot1" {
		t.Fatalf("String() = %q", id.String())
	}
}
