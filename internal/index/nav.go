package index

// Frame is one level of the folder navigation path.
type Frame struct {
	FolderID string
	Label    string
}

// NavigationState is the path from the provider root to the current
// view. The root frame is never popped.
type NavigationState struct {
	frames []Frame
}

// NewNavigationState seeds the stack with the root frame.
func NewNavigationState(rootID, label string) *NavigationState {
	return &NavigationState{
		frames: []Frame{{FolderID: rootID, Label: label}},
	}
}

// Push appends a frame for the entered folder.
func (n *NavigationState) Push(folderID, label string) {
	n.frames = append(n.frames, Frame{FolderID: folderID, Label: label})
}

// Pop returns to the parent frame. Popping the root frame is a no-op.
func (n *NavigationState) Pop() {
	if len(n.frames) > 1 {
		n.frames = n.frames[:len(n.frames)-1]
	}
}

// Current returns the top frame.
func (n *NavigationState) Current() Frame {
	return n.frames[len(n.frames)-1]
}

// Depth is the number of frames including the root.
func (n *NavigationState) Depth() int {
	return len(n.frames)
}

// Path returns a copy of the frames from root to current.
func (n *NavigationState) Path() []Frame {
	out := make([]Frame, len(n.frames))
	copy(out, n.frames)

	return out
}
