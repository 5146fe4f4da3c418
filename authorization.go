package picocash

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// DecodeAuthorization decodes an encoded authorization blob into its
// structured form. The blob is base64 JSON with the credential fields
// nested under an "Authorization" key, alongside signing fields this
// layer deliberately ignores; it performs no signature verification and
// no I/O. Malformed base64, a non-JSON payload, or a payload missing
// required fields each yield a critical error.
func DecodeAuthorization(encoded string) (*Authorization, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to base64-decode authorization")
	}

	var payload struct {
		Authorization *struct {
			ID         *string    `json:"ID"`
			AccessType *string    `json:"AccessType"`
			Expires    *time.Time `json:"Expires"`
		} `json:"Authorization"`
		SigningKeyID string `json:"SigningKeyID"`
		Signature    string `json:"Signature"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, wrapCriticalError(err, "failed to parse authorization payload")
	}

	auth := payload.Authorization
	switch {
	case auth == nil:
		return nil, newCriticalError("authorization payload missing Authorization")
	case auth.ID == nil || *auth.ID == "":
		return nil, newCriticalError("authorization payload missing ID")
	case auth.AccessType == nil || *auth.AccessType == "":
		return nil, newCriticalError("authorization payload missing AccessType")
	case auth.Expires == nil:
		return nil, newCriticalError("authorization payload missing Expires")
	}

	return &Authorization{
		ID:         *auth.ID,
		AccessType: *auth.AccessType,
		Expires:    *auth.Expires,
		Encoded:    encoded,
	}, nil
}
