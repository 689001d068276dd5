package models

// ListKind names one ordered collection of rows.
type ListKind string

const (
	// ListCommunities orders a user's community memberships; the scope is the user id.
	ListCommunities ListKind = "communities"
	// ListCategories orders a community's categories; the scope is the community id.
	ListCategories ListKind = "categories"
	// ListChannels orders a category's channels; the scope is the category id.
	ListChannels ListKind = "channels"
)

// Valid reports whether k is a known list kind.
func (k ListKind) Valid() bool {
	switch k {
	case ListCommunities, ListCategories, ListChannels:
		return true
	}
	return false
}

// ListNode is the linkage part of an ordered row.
type ListNode struct {
	ID     int  `db:"id" json:"id"`
	Scope  int  `db:"scope_id" json:"scope_id"`
	PrevID *int `db:"prev_id" json:"prev_id"`
	NextID *int `db:"next_id" json:"next_id"`
	Depth  int  `db:"depth" json:"-"`
}

// IsHead reports whether the node has no predecessor.
func (n ListNode) IsHead() bool { return n.PrevID == nil }

// IsTail reports whether the node has no successor.
func (n ListNode) IsTail() bool { return n.NextID == nil }

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int {
	return &v
}

// SameID compares two optional ids.
func SameID(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
