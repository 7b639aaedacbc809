package schema

// User represents a registered account that owns flows.
type User struct {
	ID           string   `bson:"_id,omitempty" json:"id"`
	Email        string   `bson:"email" json:"email"`
	PasswordHash string   `bson:"password" json:"-"`
	Roles        []string `bson:"roles" json:"roles"`
	APIKey       string   `bson:"api_key" json:"api_key,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
