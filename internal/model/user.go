package model

type User struct {
	ID           string `db:"id"`
	Username     string `db:"username"`
	Name         string `db:"name"`
	Role         string `db:"role"`
	PasswordHash string `db:"password_hash"`
}

// SessionView is the identity projection carried by an access token.
type SessionView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (u *User) View() SessionView {
	return SessionView{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
		Role:     u.Role,
	}
}
