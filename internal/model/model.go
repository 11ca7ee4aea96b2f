package model

// CredentialPair is the bearer credential issued by the backend. At most one
// pair is current; replacing it invalidates the previous refresh token.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Valid reports whether both tokens are present.
func (p CredentialPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// UserRecord is the cached account of the signed-in user or guest.
type UserRecord struct {
	ID                 string `json:"id,omitempty"`
	Mobile             string `json:"mobile,omitempty"`
	Fullname           string `json:"fullname,omitempty"`
	Email              string `json:"email,omitempty"`
	LanguagePreference string `json:"languagePreference,omitempty"`
	DateOfBirth        string `json:"dateOfBirth,omitempty"`
	Gender             string `json:"gender,omitempty"`
	IsGuest            bool   `json:"isGuest"`
	DeviceID           string `json:"deviceId,omitempty"`
}

// Profile carries the fields collected when a new account completes
// registration.
type Profile struct {
	Fullname           string `json:"fullname"`
	Email              string `json:"email,omitempty"`
	LanguagePreference string `json:"languagePreference,omitempty"`
	DateOfBirth        string `json:"dateOfBirth,omitempty"`
	Gender             string `json:"gender,omitempty"`
}

// ConvertedFrom returns the record a guest becomes after conversion: every
// field the guest already had is kept, empty ones are filled from the server
// copy, and the record is bound to mobile.
func (u UserRecord) ConvertedFrom(server UserRecord, mobile string) UserRecord {
	out := u
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&out.ID, server.ID)
	fill(&out.Fullname, server.Fullname)
	fill(&out.Email, server.Email)
	fill(&out.LanguagePreference, server.LanguagePreference)
	fill(&out.DateOfBirth, server.DateOfBirth)
	fill(&out.Gender, server.Gender)
	fill(&out.DeviceID, server.DeviceID)
	out.Mobile = mobile
	out.IsGuest = false
	return out
}
