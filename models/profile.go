package models

import "time"

// UserProfile is the users-service view of a person. It lives only on
// shard ShardOf(ID); ID is the auth account id and doubles as the shard key.
type UserProfile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    *string    `json:"fullName,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	AvatarURL   *string    `json:"avatarUrl,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	Bio         *string    `json:"bio,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ProfilePatch holds the mutable profile fields; nil means unchanged
type ProfilePatch struct {
	FullName    *string    `json:"fullName"`
	Phone       *string    `json:"phone"`
	AvatarURL   *string    `json:"avatarUrl"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	Bio         *string    `json:"bio"`
}

// IsEmpty reports whether the patch changes nothing
func (p ProfilePatch) IsEmpty() bool {
	return p.FullName == nil && p.Phone == nil && p.AvatarURL == nil &&
		p.DateOfBirth == nil && p.Bio == nil
}
