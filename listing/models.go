package listing

import "time"

// Kind selects which of the two listing tables an operation targets.
type Kind string

const (
	KindPart    Kind = "part"
	KindRequest Kind = "request"
)

type Status string

const (
	StatusAvailable Status = "available" // open part
	StatusActive    Status = "active"    // open request
	StatusClosed    Status = "closed"
)

// Valid reports whether k names a known listing table.
func (k Kind) Valid() bool {
	return k == KindPart || k == KindRequest
}

// OpenStatus is the status a fresh listing of this kind starts in.
func (k Kind) OpenStatus() Status {
	if k == KindRequest {
		return StatusActive
	}
	return StatusAvailable
}

// Listing is an offered part or a part request. For requests Condition holds
// the preferred condition and Price the maximum price.
type Listing struct {
	ID          string
	Kind        Kind
	OwnerID     string
	Name        string
	Category    string
	Condition   string
	Price       *float64
	Description string
	Location    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Populated by Browse.
	OwnerName  string
	OwnerTrade string
}

// Ref is the slice of a listing the match engine needs.
type Ref struct {
	ID      string
	Kind    Kind
	OwnerID string
	Name    string
	Status  Status
}

// Open reports whether the listing still accepts new matches.
func (r Ref) Open() bool {
	return r.Status != StatusClosed
}

type CreateParams struct {
	Name        string   `json:"part_name"`
	Category    string   `json:"category"`
	Condition   string   `json:"condition"`
	Price       *float64 `json:"price,omitempty"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
}

type BrowseFilters struct {
	Query    string
	Category string
	Limit    int
}

// PartInput is one row of a bulk part insert.
type PartInput struct {
	Name        string
	Category    string
	Condition   string
	Price       float64
	Description string
	Location    string
}
