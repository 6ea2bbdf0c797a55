package geolocate

import (
	"fmt"
	"sync"
)

// TermID is the interned form of a term. Models key their counts by TermID
// so that every cell shares one copy of each string.
type TermID uint32

// noTerm is reserved for the empty string.
const noTerm TermID = 0

// Vocabulary interns terms. A grid and every model built from it share one
// Vocabulary so their TermIDs are comparable. Sharded ingestion shares it
// across goroutines, hence the lock.
type Vocabulary struct {
	mu     sync.RWMutex
	lookup []string
	index  map[string]TermID
}

// NewVocabulary creates a Vocabulary with room for capacity terms.
func NewVocabulary(capacity int) *Vocabulary {
	if capacity < 1 {
		capacity = 1
	}
	v := &Vocabulary{
		lookup: make([]string, 1, capacity),
		index:  make(map[string]TermID, capacity),
	}
	v.index[""] = noTerm
	return v
}

// Intern returns the TermID for s, assigning one if needed.
func (v *Vocabulary) Intern(s string) TermID {
	v.mu.RLock()
	if id, ok := v.index[s]; ok {
		v.mu.RUnlock()
		return id
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.index[s]; ok {
		return id
	}
	if uint64(len(v.lookup)) > uint64(^TermID(0)) {
		panic(fmt.Sprintf("vocabulary capacity exceeded: %d terms", len(v.lookup)))
	}
	id := TermID(len(v.lookup))
	v.lookup = append(v.lookup, s)
	v.index[s] = id
	return id
}

// Lookup returns the TermID for s without interning it.
func (v *Vocabulary) Lookup(s string) (TermID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.index[s]
	return id, ok && id != noTerm
}

// Term returns the string for id, or "" if id is unknown.
func (v *Vocabulary) Term(id TermID) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(id) < len(v.lookup) {
		return v.lookup[id]
	}
	return ""
}

// Len returns the number of interned terms, excluding the empty string.
func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.lookup) - 1
}

// Terms returns a snapshot of all interned terms indexed by TermID.
// Element 0 is the empty string.
func (v *Vocabulary) Terms() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.lookup))
	copy(out, v.lookup)
	return out
}

// localTerms resolves terms against a frozen Vocabulary. Terms it does not
// know get ids counted down from the top of the id space, in first-seen
// order; such ids are meaningful only within one model.
type localTerms struct {
	vocab *Vocabulary
	ids   map[string]TermID
	terms map[TermID]string
}

func newLocalTerms(vocab *Vocabulary) *localTerms {
	return &localTerms{vocab: vocab}
}

func (l *localTerms) id(s string) TermID {
	if s == "" {
		return noTerm
	}
	if id, ok := l.vocab.Lookup(s); ok {
		return id
	}
	if id, ok := l.ids[s]; ok {
		return id
	}
	if l.ids == nil {
		l.ids = make(map[string]TermID)
		l.terms = make(map[TermID]string)
	}
	id := ^TermID(0) - TermID(len(l.ids))
	l.ids[s] = id
	l.terms[id] = s
	return id
}
