package models

// ItemRecord is one normalized item extracted from a feed, ready to be stored.
type ItemRecord struct {
	FeedID string
	ItemID string  // guid, else title; unique within FeedID
	Title  *string // nil when the item has no title
	Raw    string  // raw XML of the item element
}

// StoredRow represents a row in the 'rss' table
type StoredRow struct {
	RowID  int64   `db:"rowid" json:"rowid"`
	FeedID string  `db:"feed_id" json:"feed_id"`
	ItemID string  `db:"rss_id" json:"rss_id"`
	Title  *string `db:"title" json:"title"`
	Raw    string  `db:"raw" json:"raw"`
}

// Status summarizes the contents of the store.
type Status struct {
	Count int64  `json:"count"`
	MinID *int64 `json:"min_id"`
	MaxID *int64 `json:"max_id"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
