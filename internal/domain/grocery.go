package domain

import "time"

// GroceryItem is one line of a grocery list.
type GroceryItem struct {
	Name     string
	Quantity float64
	Unit     string
	Checked  bool
	AddedAt  time.Time
}

// GroceryList is versioned per (user, name). Every mutation increments
// Version by exactly one; writers state the version they read and the
// write fails with a version conflict if it is stale.
type GroceryList struct {
	ID        string
	UserID    string
	Name      string
	Items     []GroceryItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
