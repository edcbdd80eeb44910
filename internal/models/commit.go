package models

import "time"

// Commit records one atomic change to a branch.
type Commit struct {
	ID          string     `json:"id"`
	Branch      string     `json:"branch"`
	Timestamp   int64      `json:"timestamp"`
	Author      string     `json:"author"`
	Comment     string     `json:"comment"`
	CreatedAt   time.Time  `json:"created_at"`
	Added       []ObjectID `json:"added,omitempty"`
	Changed     []ObjectID `json:"changed,omitempty"`
	Removed     []ObjectID `json:"removed,omitempty"`
	MergeSource string     `json:"merge_source,omitempty"`
}

// ShortID returns a shortened commit ID (first 8 characters)
func (c *Commit) ShortID() string {
	if len(c.ID) > 8 {
		return c.ID[:8]
	}
	return c.ID
}

// IsMergeCommit returns true if the commit realized a merge
func (c *Commit) IsMergeCommit() bool {
	return c.MergeSource != ""
}

// Touched returns every id the commit added, changed or removed.
func (c *Commit) Touched() []ObjectID {
	ids := make([]ObjectID, 0, len(c.Added)+len(c.Changed)+len(c.Removed))
	ids = append(ids, c.Added...)
	ids = append(ids, c.Changed...)
	return append(ids, c.Removed...)
}
