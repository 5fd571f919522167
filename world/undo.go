package world

import "errors"

// DefaultUndoLimit bounds the undo history.
const DefaultUndoLimit = 100

var (
	ErrNothingToUndo = errors.New("world: nothing to undo")
	ErrNothingToRedo = errors.New("world: nothing to redo")
)

// UndoStack applies commands to a world and keeps them for undo and redo.
// When the history is full the oldest command is dropped.
type UndoStack struct {
	w      *World
	limit  int
	done   []Command
	undone []Command
	// clean is the history length at the last save, -1 when that state is
	// no longer reachable.
	clean int
}

func NewUndoStack(w *World, limit int) *UndoStack {
	if limit <= 0 {
		limit = DefaultUndoLimit
	}
	return &UndoStack{w: w, limit: limit}
}

func (s *UndoStack) World() *World {
	return s.w
}

// Push applies cmd and records it. A command that fails is not recorded.
func (s *UndoStack) Push(cmd Command) error {
	if err := cmd.Do(s.w); err != nil {
		return err
	}
	if s.clean > len(s.done) {
		s.clean = -1
	}
	s.done = append(s.done, cmd)
	s.undone = nil
	if len(s.done) > s.limit {
		// drop oldest
		s.done = s.done[1:]
		if s.clean >= 0 {
			s.clean--
		}
	}
	return nil
}

func (s *UndoStack) Undo() error {
	n := len(s.done)
	if n == 0 {
		return ErrNothingToUndo
	}
	cmd := s.done[n-1]
	s.done = s.done[:n-1]
	cmd.Undo(s.w)
	s.undone = append(s.undone, cmd)
	return nil
}

func (s *UndoStack) Redo() error {
	n := len(s.undone)
	if n == 0 {
		return ErrNothingToRedo
	}
	cmd := s.undone[n-1]
	if err := cmd.Do(s.w); err != nil {
		return err
	}
	s.undone = s.undone[:n-1]
	s.done = append(s.done, cmd)
	return nil
}

func (s *UndoStack) CanUndo() bool {
	return len(s.done) > 0
}

func (s *UndoStack) CanRedo() bool {
	return len(s.undone) > 0
}

// UndoName names the command Undo would revert.
func (s *UndoStack) UndoName() string {
	if len(s.done) == 0 {
		return ""
	}
	return s.done[len(s.done)-1].Name()
}

func (s *UndoStack) RedoName() string {
	if len(s.undone) == 0 {
		return ""
	}
	return s.undone[len(s.undone)-1].Name()
}

func (s *UndoStack) Len() int {
	return len(s.done)
}

// SetClean marks the current state as saved.
func (s *UndoStack) SetClean() {
	s.clean = len(s.done)
}

// Modified reports whether the world differs from the last saved state.
func (s *UndoStack) Modified() bool {
	return s.clean != len(s.done)
}
