package pipeline

import "fmt"

// Kind distinguishes compute and render pipelines.
type Kind uint8

const (
	KindCompute Kind = iota + 1
	KindRender
)

func (k Kind) String() string {
	switch k {
	case KindCompute:
		return "compute"
	case KindRender:
		return "render"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Handle identifies a compiled pipeline in the Cache that issued it.
//
// The zero Handle is never issued. A handle stays valid, and resolves to the
// same pipeline, for the lifetime of its cache.
type Handle struct {
	cache uint32
	index uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h == Handle{} }

// Index returns the arena slot of h.
func (h Handle) Index() int { return int(h.index) }

func (h Handle) String() string {
	if h.IsZero() {
		return "pipeline.Handle(none)"
	}
	return fmt.Sprintf("pipeline.Handle(%d#%d)", h.cache, h.index)
}
