package identity

// Attribute keys written on every provisioned user
const (
	AttributePhone          = "phone"
	AttributeTermsOfService = "termsOfService"
	AttributeTenantID       = "tenantId"
	AttributeAccountAdminID = "accountAdminId"
)

// CredentialTypePassword is the only credential type we provision
const CredentialTypePassword = "password"

// Credential is a login secret attached to a user on creation
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// User mirrors the provider's user representation
type User struct {
	ID               string              `json:"id,omitempty"`
	Username         string              `json:"username"`
	Email            string              `json:"email,omitempty"`
	FirstName        string              `json:"firstName,omitempty"`
	LastName         string              `json:"lastName,omitempty"`
	Enabled          bool                `json:"enabled"`
	EmailVerified    bool                `json:"emailVerified,omitempty"`
	Attributes       map[string][]string `json:"attributes,omitempty"`
	Credentials      []Credential        `json:"credentials,omitempty"`
	CreatedTimestamp int64               `json:"createdTimestamp,omitempty"`
}

// Attribute returns the first value stored under key
func (u *User) Attribute(key string) string {
	if vals := u.Attributes[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// RealmClient is a registered application client within a realm
type RealmClient struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Name     string `json:"name,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// UserQuery narrows a user search
type UserQuery struct {
	Email string
	// Exact disables the provider's substring matching
	Exact bool
	Max   int
}
