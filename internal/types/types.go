package types

// Comment is a single labeled comment as returned by the scraping service.
// Only Label is interpreted; everything else is carried through for display.
type Comment struct {
	AuthorName       string `json:"author_name"`
	Text             string `json:"comment"`
	Label            string `json:"label"`
	AuthorProfileURL string `json:"user_profile_url,omitempty"`
}

// ContentItem is one scraped post or video, keyed by its URL
type ContentItem struct {
	URL          string    `json:"post_url"`
	CommentCount int       `json:"comment_count"`
	Comments     []Comment `json:"comments"`
}

// Clone returns a copy that shares no memory with the receiver.
func (c ContentItem) Clone() ContentItem {
	out := c
	if c.Comments != nil {
		out.Comments = make([]Comment, len(c.Comments))
		copy(out.Comments, c.Comments)
	}
	return out
}

// Phase is the remote task status
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Valid reports whether p is one of the phases the service is known to send.
func (p Phase) Valid() bool {
	switch p {
	case PhasePending, PhaseProcessing, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can follow p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// TaskState tracks one remote job
type TaskState struct {
	TaskID       string   `json:"task_id"`
	Phase        Phase    `json:"status"`
	Progress     []string `json:"progress"`
	ErrorMessage string   `json:"error,omitempty"`
}

// Clone returns a copy with its own progress slice.
func (t TaskState) Clone() TaskState {
	out := t
	if t.Progress != nil {
		out.Progress = make([]string, len(t.Progress))
		copy(out.Progress, t.Progress)
	}
	return out
}
