package common

// SliceIterator iterates over an in-memory slice of entries.
type SliceIterator struct {
	entries []*Entry
	index   int
}

// NewSliceIterator wraps entries, which must already be in the desired order.
func NewSliceIterator(entries []*Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (it *SliceIterator) Next() (*Entry, error) {
	if it.index >= len(it.entries) {
		return nil, nil
	}
	entry := it.entries[it.index]
	it.index++
	return entry, nil
}

func (it *SliceIterator) Close() error {
	it.index = len(it.entries)
	return nil
}
