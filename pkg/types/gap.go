package types

// GapCell is one cell of the speed by stability grid.
type GapCell struct {
	Row int `json:"row"`
	Col int `json:"col"`

	SpeedMin     float64 `json:"speed_min"`
	SpeedMax     float64 `json:"speed_max"`
	StabilityMin float64 `json:"stability_min"`
	StabilityMax float64 `json:"stability_max"`

	Occupied         bool     `json:"occupied"`
	OccupyingDiscIDs []string `json:"occupying_disc_ids,omitempty"`

	// NearestOccupiedDistance is set for empty cells when the bag has at
	// least one disc. It is measured from the cell center in cell units.
	NearestOccupiedDistance *float64 `json:"nearest_occupied_distance,omitempty"`
	NearestDiscID           string   `json:"nearest_disc_id,omitempty"`
}

// GapReport is the result of analyzing one bag. Cells are row-major:
// row is the stability band, col is the speed band.
type GapReport struct {
	BagID    string     `json:"bag_id"`
	Version  int64      `json:"bag_version"`
	Grid     GridConfig `json:"grid"`
	Rows     int        `json:"rows"`
	Cols     int        `json:"cols"`
	Cells    []GapCell  `json:"cells"`
	Occupied int        `json:"occupied"`
	Empty    int        `json:"empty"`
}

// Cell returns the cell at row, col.
func (r *GapReport) Cell(row, col int) *GapCell {
	if row < 0 || row >= r.Rows || col < 0 || col >= r.Cols {
		return nil
	}
	return &r.Cells[row*r.Cols+col]
}
