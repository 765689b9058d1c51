// Package model defines the data structures used throughout the application.
package model

// User is the identity the rest of the app sees once someone is signed in.
//
// Email and DisplayName are pointers because both are genuinely optional:
// third-party sign-in may hide the email, and a display name may never
// have been set. nil means "absent", which encodes as a missing JSON field.
type User struct {
	ID          string  `json:"id"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// EmailAccount is a password credential keyed by normalized email.
//
// PasswordHash holds an encoded Argon2id hash, never the raw password.
type EmailAccount struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"passwordHash"`
	DisplayName  *string `json:"displayName,omitempty"`
}

// ExternalAccount is a third-party (Apple) credential keyed by the
// provider's stable subject identifier.
type ExternalAccount struct {
	ID          string  `json:"id"`
	SubjectID   string  `json:"subjectId"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// Profile is the merged per-user record. Its fields win over credential
// records whenever a User is assembled.
type Profile struct {
	ID          string  `json:"id"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// User converts the profile into the public identity.
func (p Profile) User() User {
	return User{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName}
}
