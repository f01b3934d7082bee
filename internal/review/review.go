// Package review keeps degraded extractions and their source documents so they
// can be looked at and corrected by hand.
package review

import "time"

// Review is a degraded extraction waiting for a person. Filename is the name
// the document was uploaded with, FilePath its location within Storage and Kind
// the failure kind that caused the downgrade.
type Review struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	FilePath  string    `json:"file_path"`
	MediaType string    `json:"media_type"`
	RawText   string    `json:"raw_text"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
