package models

// MediaconvJWT is the claim set accepted on authenticated uploads. The
// subject doubles as the rate-limit token.
type MediaconvJWT struct {
	Issuer    string   `json:"iss"` // optional
	Subject   string   `json:"sub"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
	Job       JobClaim `json:"job"`
}

// JobClaim carries delivery options the token issuer grants to the upload.
// Values here take precedence over form fields.
type JobClaim struct {
	CompletionCallback string            `json:"completionCallback,omitempty"`
	CallbackHeaders    map[string]string `json:"callbackHeaders,omitempty"`

	// Storage backends, each backend has its own key (random string mapped in PebbleDB)
	StorageKeys map[string]string `json:"storageKeys,omitempty"` // e.g., {"s3":"abc123", "sftp":"def456"}

	// Direct host storage
	DirectHost bool   `json:"directHost,omitempty"`
	SubDir     string `json:"subDir,omitempty"`
}

// Delivery converts the claim into job delivery settings.
func (c JobClaim) Delivery() Delivery {
	return Delivery{
		DirectServe:     c.DirectHost,
		SubDir:          c.SubDir,
		StorageKeys:     c.StorageKeys,
		CallbackURL:     c.CompletionCallback,
		CallbackHeaders: c.CallbackHeaders,
	}
}
