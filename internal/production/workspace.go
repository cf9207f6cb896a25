package production

import (
	"sync"

	"github.com/marriagesignal/studio/internal/audio"
	"github.com/marriagesignal/studio/internal/timeline"
)

// MemoryWorkspace is a Workspace over a project nobody else holds yet.
type MemoryWorkspace struct {
	id      string
	mu      sync.Mutex
	project *timeline.Project
	audio   *audio.Store
}

func NewMemoryWorkspace(id string, p *timeline.Project) *MemoryWorkspace {
	return &MemoryWorkspace{id: id, project: p, audio: audio.NewStore()}
}

func (w *MemoryWorkspace) ID() string { return w.id }

func (w *MemoryWorkspace) View(fn func(p *timeline.Project)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w.project)
}

func (w *MemoryWorkspace) Update(fn func(p *timeline.Project) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.project)
}

func (w *MemoryWorkspace) PutAudio(dialogueID string, wav []byte) { w.audio.Put(dialogueID, wav) }

func (w *MemoryWorkspace) DeleteAudio(dialogueID string) { w.audio.Delete(dialogueID) }

func (w *MemoryWorkspace) Project() *timeline.Project {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.project
}

func (w *MemoryWorkspace) Audio() *audio.Store { return w.audio }
