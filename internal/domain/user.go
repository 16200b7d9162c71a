// Package domain contains core domain types for the chat client.
package domain

// Identity is the authenticated local user.
type Identity struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	IsServ   bool   `json:"is_serv"`
}

// Member is a single roster entry of a channel.
type Member struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	IsOp     bool   `json:"is_op"`
	IsServ   bool   `json:"is_serv"`
}

// IsSelf reports whether the given user id refers to this identity.
func (i *Identity) IsSelf(userID string) bool {
	return i != nil && userID != "" && i.ID == userID
}
