package types

import "time"

// Orientation is the release a bag entry is thrown with.
type Orientation string

// Recognized orientations.
const (
	Backhand Orientation = "backhand"
	Forehand Orientation = "forehand"
	Both     Orientation = "both"
)

// ParseOrientation validates an orientation name. An empty string yields
// Backhand.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case "":
		return Backhand, nil
	case Backhand, Forehand, Both:
		return Orientation(s), nil
	default:
		return "", ErrInvalidOrientation
	}
}

// Includes reports whether throwing with o covers release r.
func (o Orientation) Includes(r Orientation) bool {
	return o == Both || o == r
}

// BagEntry is one disc in a bag. Entries belong to exactly one bag; adding
// a disc to another bag copies the entry.
type BagEntry struct {
	EntryID     string      `json:"entry_id"`
	DiscID      string      `json:"disc_id"`
	Plastic     string      `json:"plastic,omitempty"`
	WeightG     *float64    `json:"weight_g,omitempty"`
	Orientation Orientation `json:"orientation"`
	AddedAt     time.Time   `json:"added_at"`
}

// Bag is a named, ordered collection of entries.
type Bag struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Entries   []BagEntry `json:"entries"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
