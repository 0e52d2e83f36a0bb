package common

import "testing"

// RequireMatchesIterator drains it and compares each entry to the
// expected batch using testing.T helpers. Fails immediately on mismatch.
func RequireMatchesIterator(t *testing.T, iter EntryIterator, expected []*Entry) {
	t.Helper()
	defer iter.Close()

	for i := range expected {
		entry, err := iter.Next()
		if err != nil {
			t.Fatalf("unexpected iterator error: %v", err)
		}
		if entry == nil {
			t.Fatalf("iterator exhausted at index %d", i)
		}
		if !EntriesEqual(entry, expected[i]) {
			t.Fatalf("entry mismatch at %d: got %+v want %+v", i, entry, expected[i])
		}
	}

	entry, err := iter.Next()
	if err != nil {
		t.Fatalf("unexpected iterator error at end: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected iterator to be exhausted, got %+v", entry)
	}
}

// DrainIterator collects every remaining entry and closes the iterator.
func DrainIterator(t *testing.T, iter EntryIterator) []*Entry {
	t.Helper()
	defer iter.Close()

	var out []*Entry
	for {
		entry, err := iter.Next()
		if err != nil {
			t.Fatalf("unexpected iterator error: %v", err)
		}
		if entry == nil {
			return out
		}
		out = append(out, entry.Clone())
	}
}

// EntriesEqual compares two entries by content.
func EntriesEqual(a, b *Entry) bool {
	return a.Type == b.Type && a.Seq == b.Seq && string(a.Key) == string(b.Key) && string(a.Value) == string(b.Value)
}
