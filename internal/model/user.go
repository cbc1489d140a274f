package model

import "time"

type (
	User struct {
		ID           string    `json:"id" bson:"_id"`
		Email        string    `json:"email" bson:"email"`
		DisplayName  string    `json:"displayName" bson:"displayName"`
		Bio          string    `json:"bio,omitempty" bson:"bio"`
		PasswordHash []byte    `json:"-" bson:"passwordHash"`
		PublicKey    string    `json:"publicKey" bson:"publicKey"`
		CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	}

	SignupRequest struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password"`
		Bio         string `json:"bio"`
		PublicKey   string `json:"publicKey,omitempty"`
	}

	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	UpdateProfileRequest struct {
		DisplayName string `json:"displayName,omitempty"`
		Bio         string `json:"bio,omitempty"`
	}

	AuthResponse struct {
		Token string `json:"token"`
		User  *User  `json:"user"`
	}

	UserResponse struct {
		User *User `json:"user"`
	}

	UsersResponse struct {
		Users            []User              `json:"users"`
		UnseenMessages   map[string]int      `json:"unseenMessages"`
		UnseenMessageIDs map[string][]string `json:"unseenMessageIds,omitempty"`
	}
)

// CanReceive reports whether messages can be sealed for this user.
func (u *User) CanReceive() bool {
	return u != nil && u.PublicKey != ""
}
