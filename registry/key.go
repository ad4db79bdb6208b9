package registry

import "time"

// Key is a registered encryption key.
type Key struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Value         string    `json:"value"`
	Label         string    `json:"label,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Personal      bool      `json:"personal"`
	IsPublic      bool      `json:"is_public"`
	ShareIdentity bool      `json:"share_identity"`
}

// Visibility is the caller-requested discoverability of a key.
type Visibility struct {
	IsPublic      bool
	ShareIdentity bool
}

// Resolution is the outcome of resolving a public key identifier.
// DisplayName is populated only when the owner opted into sharing their
// identity; an anonymous owner and an unknown key are otherwise
// indistinguishable to the resolver.
type Resolution struct {
	OwnerID        string
	DisplayName    string
	IdentityShared bool
}

// DirectoryEntry is a user known to the surrounding application.
type DirectoryEntry struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}
