package domain

// Identity is the signed-in user behind a session.
type Identity struct {
	OwnerID   OwnerID `json:"owner_id"`
	Email     string  `json:"email,omitempty"`
	Anonymous bool    `json:"anonymous"`
}

// User is a stored email/password account.
type User struct {
	ID           OwnerID
	Email        string
	PasswordHash string
	Disabled     bool
}
