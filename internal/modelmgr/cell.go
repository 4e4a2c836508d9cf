package modelmgr

import "sync/atomic"

// ModelCell holds the current default model. Safe for concurrent use.
type ModelCell struct {
	v atomic.Pointer[string]
}

func NewModelCell(model string) *ModelCell {
	c := &ModelCell{}
	c.Store(model)
	return c
}

func (c *ModelCell) Load() string {
	if p := c.v.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *ModelCell) Store(model string) {
	c.v.Store(&model)
}

// Swap stores model and reports whether it differed from the previous value.
func (c *ModelCell) Swap(model string) bool {
	old := c.v.Swap(&model)
	return old == nil || *old != model
}
