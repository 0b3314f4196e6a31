package persona

// Store exposes persona retrieval for the assistant handler and the chat chain.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	Assistant() Persona
}

// MemoryStore implements Store over a fixed set loaded at startup.
type MemoryStore struct {
	items []Persona
	index map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
// Later duplicates of an id are ignored.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{index: make(map[string]int, len(items))}
	for _, item := range items {
		if _, dup := s.index[item.ID]; dup {
			continue
		}
		s.index[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

// List returns every persona in load order.
func (s *MemoryStore) List() []Persona {
	out := make([]Persona, len(s.items))
	for i, item := range s.items {
		out[i] = item.clone()
	}
	return out
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	i, ok := s.index[id]
	if !ok {
		return Persona{}, false
	}
	return s.items[i].clone(), true
}

// Assistant returns the persona conversations start with, falling back to
// the first loaded one.
func (s *MemoryStore) Assistant() Persona {
	if p, ok := s.FindByID(AssistantID); ok {
		return p
	}
	if len(s.items) > 0 {
		return s.items[0].clone()
	}
	return Persona{}
}

func (p Persona) clone() Persona {
	p.Expertise = append([]string(nil), p.Expertise...)
	return p
}
