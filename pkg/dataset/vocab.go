// Package dataset turns interaction logs into item token streams and cuts
// those streams into fixed-size training windows.
package dataset

// Vocabulary maps raw item keys to dense IDs in first-seen order.
type Vocabulary struct {
	hash map[string]int
	keys []string
}

// NewVocabulary creates an empty vocabulary.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		hash: make(map[string]int),
		keys: make([]string, 0),
	}
}

// Add returns the ID of key, assigning the next free ID if it is new.
func (v *Vocabulary) Add(key string) int {
	if id, exists := v.hash[key]; exists {
		return id
	}

	id := len(v.keys)
	v.hash[key] = id
	v.keys = append(v.keys, key)
	return id
}

// Lookup returns the ID of key.
func (v *Vocabulary) Lookup(key string) (int, bool) {
	id, ok := v.hash[key]
	return id, ok
}

// Key returns the raw key of an ID, or "" when out of range.
func (v *Vocabulary) Key(id int) string {
	if id < 0 || id >= len(v.keys) {
		return ""
	}
	return v.keys[id]
}

// Keys returns the raw keys indexed by ID.
func (v *Vocabulary) Keys() []string {
	return v.keys
}

// Size is the number of distinct items.
func (v *Vocabulary) Size() int {
	return len(v.keys)
}

// Encode maps keys to IDs, adding unseen keys.
func (v *Vocabulary) Encode(keys []string) []int {
	ids := make([]int, len(keys))
	for i, k := range keys {
		ids[i] = v.Add(k)
	}
	return ids
}
