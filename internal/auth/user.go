package auth

// User is the identity attached to an authenticated request.
type User struct {
	ID    string
	Email string
	Name  string
}
