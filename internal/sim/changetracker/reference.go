package changetracker

// Reference tracks which recorded changes a single observer (for example one
// moving entity) has already consumed, so the same past state is not used to
// excuse more than one move.
//
// During a check, matching entries widen the pending span via UpdateSpan.
// UpdateFinal commits the span; Invalidate marks the last used change group as
// exhausted.
type Reference struct {
	firstSpan *Entry
	lastSpan  *Entry
	lastUsed  *Entry
	valid     bool
}

// Accepts implements ValidityFilter.
func (r *Reference) Accepts(e *Entry) bool {
	return r.lastUsed == nil || e.ID > r.lastUsed.ID || e.ID == r.lastUsed.ID && r.valid
}

// UpdateSpan implements SpanRecorder.
func (r *Reference) UpdateSpan(e *Entry) {
	if r.firstSpan == nil || e.ID < r.firstSpan.ID {
		r.firstSpan = e
	}
	if r.lastSpan == nil || e.ID > r.lastSpan.ID {
		r.lastSpan = e
	}
}

// UpdateFinal commits the pending span: the newest span entry becomes the
// last used one and the span is reset.
func (r *Reference) UpdateFinal() {
	if r.lastSpan != nil {
		if r.lastUsed == nil || r.lastSpan.ID > r.lastUsed.ID {
			r.lastUsed = r.lastSpan
			r.valid = true
		}
	}
	r.firstSpan = nil
	r.lastSpan = nil
}

// Invalidate prevents the last used change group from being accepted again.
func (r *Reference) Invalidate() {
	r.valid = false
}

func (r *Reference) Clear() {
	*r = Reference{}
}

func (r *Reference) HasSpan() bool { return r.lastSpan != nil }

func (r *Reference) FirstSpan() *Entry { return r.firstSpan }
func (r *Reference) LastSpan() *Entry  { return r.lastSpan }
func (r *Reference) LastUsed() *Entry  { return r.lastUsed }
func (r *Reference) Valid() bool       { return r.valid }

// Copy returns an independent reference with the same state, for checking
// several candidates without committing to any of them.
func (r *Reference) Copy() *Reference {
	c := *r
	return &c
}
