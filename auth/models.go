package auth

import "time"

type TradeType string

const (
	TradePhoneRepair     TradeType = "phone_repair"
	TradeComputerTech    TradeType = "computer_tech"
	TradeCarMechanic     TradeType = "car_mechanic"
	TradeHVAC            TradeType = "hvac"
	TradeApplianceRepair TradeType = "appliance_repair"
	TradeElectronics     TradeType = "electronics"
	TradeGeneral         TradeType = "general"
)

// User is the domain representation of an account holder.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	TradeType    TradeType
	Phone        *string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is the caller identity carried by a verified token.
type Session struct {
	UserID string
	Email  string
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	FullName  string    `json:"full_name"`
	TradeType TradeType `json:"trade_type"`
	Phone     *string   `json:"phone,omitempty"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest carries optional profile edits. Nil fields are left untouched.
type UpdateProfileRequest struct {
	FullName  *string    `json:"full_name,omitempty"`
	TradeType *TradeType `json:"trade_type,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
}

// ValidTradeType reports whether t is a known trade specialty.
func ValidTradeType(t TradeType) bool {
	switch t {
	case TradePhoneRepair, TradeComputerTech, TradeCarMechanic, TradeHVAC,
		TradeApplianceRepair, TradeElectronics, TradeGeneral:
		return true
	default:
		return false
	}
}
