package persona

import "testing"

func TestMemoryStoreAssistant(t *testing.T) {
	store := NewMemoryStore(Seed())

	got := store.Assistant()
	if got.ID != AssistantID {
		t.Fatalf("unexpected assistant: %s", got.ID)
	}

	got.Expertise[0] = "mutated"
	again, _ := store.FindByID(AssistantID)
	if again.Expertise[0] == "mutated" {
		t.Fatal("store leaked its backing slice")
	}
}

func TestMemoryStoreSkipsDuplicates(t *testing.T) {
	store := NewMemoryStore([]Persona{{ID: "a", Name: "first"}, {ID: "a", Name: "second"}})
	if n := len(store.List()); n != 1 {
		t.Fatalf("expected 1 persona, got %d", n)
	}
	if p, _ := store.FindByID("a"); p.Name != "first" {
		t.Fatalf("expected first definition to win, got %s", p.Name)
	}
	if p := store.Assistant(); p.ID != "a" {
		t.Fatalf("expected fallback to first persona, got %q", p.ID)
	}
}
