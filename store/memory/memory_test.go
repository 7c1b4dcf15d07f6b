package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/oidcware/resource-server-go/store"
)

func TestSeededUsers(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	john, err := s.FindBySubject(ctx, "1001")
	if err != nil {
		t.Fatalf("FindBySubject(1001): %v", err)
	}
	if john.Name != "John Smith" || john.Email != "john@example.com" || john.Address.Country != "USA" {
		t.Fatalf("john = %+v", john)
	}

	jane, err := s.FindBySubject(ctx, "1002")
	if err != nil {
		t.Fatalf("FindBySubject(1002): %v", err)
	}
	if jane.Name != "Jane Smith" || jane.Address.Country != "Chile" {
		t.Fatalf("jane = %+v", jane)
	}
}

func TestUnknownSubject(t *testing.T) {
	s := NewSeeded()
	if _, err := s.FindBySubject(context.Background(), "9999"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestFindReturnsCopy(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	a, _ := s.FindBySubject(ctx, "1001")
	a.Name = "mutated"

	b, _ := s.FindBySubject(ctx, "1001")
	if b.Name != "John Smith" {
		t.Fatalf("store leaked a mutable reference: %+v", b)
	}
}

func TestCopiesIncludeMaps(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := &store.UserRecord{
		Subject: "2001",
		Name:    "Taro Yamada",
		Extra:   map[string]any{"department": "engineering"},
		Localized: map[string]map[string]string{
			"name": {"ja": "山田太郎"},
		},
	}
	s.Put(rec)

	// Mutating the record after Put must not reach the store.
	rec.Extra["department"] = "sales"
	rec.Localized["name"]["ja"] = "別人"

	a, _ := s.FindBySubject(ctx, "2001")
	if a.Extra["department"] != "engineering" || a.Localized["name"]["ja"] != "山田太郎" {
		t.Fatalf("Put shared its maps with the caller: %+v", a)
	}

	// Mutating a returned record must not reach later readers.
	a.Extra["department"] = "sales"
	a.Localized["name"]["ja"] = "別人"

	b, _ := s.FindBySubject(ctx, "2001")
	if b.Extra["department"] != "engineering" || b.Localized["name"]["ja"] != "山田太郎" {
		t.Fatalf("FindBySubject shared its maps: %+v", b)
	}
}
