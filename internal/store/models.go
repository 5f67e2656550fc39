package store

import "time"

// Item is a node in the inventory forest. The nested-set coordinates
// (ForestID, LeftBound, RightBound, Depth) are owned by the tree engine;
// ParentID is a weak back-reference kept for display and sibling lookups.
type Item struct {
	ID          string
	ParentID    *string
	ForestID    string
	Name        string
	Description string
	QRCode      string
	LeftBound   int64
	RightBound  int64
	Depth       int64
	CreatedAt   time.Time
}

// Width is the number of coordinate slots the item's subtree occupies.
func (i Item) Width() int64 {
	return i.RightBound - i.LeftBound + 1
}

// Contains reports whether other lies strictly inside i's interval.
func (i Item) Contains(other Item) bool {
	return i.ForestID == other.ForestID &&
		i.LeftBound < other.LeftBound && other.RightBound < i.RightBound
}

// HistoryEntry records one reparenting event. References are soft: the
// referenced rows may be deleted later, so all three ids are nullable and
// resolution happens at display time with fallback labels.
type HistoryEntry struct {
	ID          int64
	ItemID      *string
	OldParentID *string
	NewParentID *string
	ChangedAt   time.Time
}

type Note struct {
	ID        string
	ItemID    string
	Content   string
	Author    string
	CreatedAt time.Time
}

type Email struct {
	ID          string
	ItemID      string
	Subject     string
	Body        string
	FromAddress string
	ReceivedAt  time.Time
	Processed   bool
	CreatedAt   time.Time
}

type Attachment struct {
	ID          string
	ItemID      string
	FileName    string
	ContentType string
	Size        int64
	ObjectKey   string
	UploadedAt  time.Time
}
