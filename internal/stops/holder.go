package stops

import "sync/atomic"

// Holder publishes the current Directory. Readers always see a complete
// directory; Reload replaces it in a single pointer swap.
type Holder struct {
	current atomic.Pointer[Directory]
}

// NewHolder returns a Holder publishing d, which may be nil until the first
// successful load.
func NewHolder(d *Directory) *Holder {
	h := &Holder{}
	if d != nil {
		h.current.Store(d)
	}
	return h
}

// Current returns the published directory, or nil before the first load.
func (h *Holder) Current() *Directory {
	return h.current.Load()
}

// Reload builds a new directory with build and publishes it. On error the
// previously published directory stays in place.
func (h *Holder) Reload(build func() (*Directory, error)) (*Directory, error) {
	next, err := build()
	if err != nil {
		return h.current.Load(), err
	}
	h.current.Store(next)
	return next, nil
}
