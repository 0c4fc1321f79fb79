package scoring

import "github.com/google/uuid"

// MiniBatchContext correlates the payloads of one mini-batch through
// request, result and output
type MiniBatchContext struct {
	ID    string // Unique mini-batch identifier
	Index int    // Position of the mini-batch within the run
	Size  int    // Number of payloads in the mini-batch
}

// NewMiniBatchContext creates a context with a freshly generated ID
func NewMiniBatchContext(index, size int) *MiniBatchContext {
	return &MiniBatchContext{
		ID:    uuid.NewString(),
		Index: index,
		Size:  size,
	}
}

func (m *MiniBatchContext) id() string {
	if m == nil {
		return ""
	}
	return m.ID
}

func (m *MiniBatchContext) index() int {
	if m == nil {
		return -1
	}
	return m.Index
}
