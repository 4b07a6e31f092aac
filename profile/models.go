package profile

import "time"

// Profile is the public view of an account: no email or phone.
type Profile struct {
	ID        string
	FullName  string
	TradeType string
	Verified  bool
	CreatedAt time.Time
}
