package match

import (
	"time"

	"github.com/LewisZett/parts-connect-pro/listing"
)

type Role string

const (
	RoleSupplier  Role = "supplier"
	RoleRequester Role = "requester"
)

func (r Role) Valid() bool {
	return r == RoleSupplier || r == RoleRequester
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusBothAgreed Status = "both_agreed"
)

// DeriveStatus is the only source of a match status.
func DeriveStatus(supplierAgreed, requesterAgreed bool) Status {
	if supplierAgreed && requesterAgreed {
		return StatusBothAgreed
	}
	return StatusPending
}

// Match pairs a supplier and a requester around exactly one part or request.
type Match struct {
	ID              string
	PartID          *string
	RequestID       *string
	SupplierID      string
	RequesterID     string
	InitiatorID     string
	SupplierAgreed  bool
	RequesterAgreed bool
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListingKind reports which listing table the match references.
func (m Match) ListingKind() listing.Kind {
	if m.PartID != nil {
		return listing.KindPart
	}
	return listing.KindRequest
}

func (m Match) ListingID() string {
	if m.PartID != nil {
		return *m.PartID
	}
	if m.RequestID != nil {
		return *m.RequestID
	}
	return ""
}

// RoleOf returns the role userID holds in the match.
func (m Match) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case m.SupplierID:
		return RoleSupplier, true
	case m.RequesterID:
		return RoleRequester, true
	default:
		return "", false
	}
}

// Counterparty returns the other participant, or "" when userID is not one.
func (m Match) Counterparty(userID string) string {
	switch userID {
	case m.SupplierID:
		return m.RequesterID
	case m.RequesterID:
		return m.SupplierID
	default:
		return ""
	}
}

type CreateParams struct {
	ListingKind    listing.Kind
	ListingID      string
	InitiatorID    string
	CounterpartyID string
}

// Party is the public face of a counterparty.
type Party struct {
	ID        string
	FullName  string
	TradeType string
}

// Summary is one row of a user's match list.
type Summary struct {
	Match
	Role         Role
	Counterparty Party
	ItemName     string
	ItemType     listing.Kind
}

// Contact is revealed only once both parties agreed.
type Contact struct {
	UserID   string
	FullName string
	Email    string
	Phone    *string
}
