package models

// User is read from the external user directory.
type User struct {
	ID       string `json:"id" db:"id" example:"42"`
	Username string `json:"username" db:"username" example:"alice"`
	IsAdmin  bool   `json:"is_admin" db:"is_admin"`
}

// Identity is the caller resolved from a credential. The zero value is
// anonymous.
type Identity struct {
	UserID        string
	Username      string
	IsAdmin       bool
	Authenticated bool
}

func Anonymous() Identity {
	return Identity{Username: "anonymous"}
}

func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin, Authenticated: true}
}
