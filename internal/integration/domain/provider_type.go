package domain

// ProviderType represents a calendar provider type.
type ProviderType string

const (
	// ProviderGoogle is Google Calendar (OAuth2 + Google Calendar API).
	ProviderGoogle ProviderType = "google"
	// ProviderMicrosoft is Microsoft Outlook/365 (OAuth2 + Microsoft Graph API).
	ProviderMicrosoft ProviderType = "microsoft"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// IsValid returns true if the provider type is recognized.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the provider.
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderGoogle:
		return "Google Calendar"
	case ProviderMicrosoft:
		return "Microsoft Outlook"
	default:
		return string(p)
	}
}

// AllProviderTypes returns all supported provider types.
func AllProviderTypes() []ProviderType {
	return []ProviderType{
		ProviderGoogle,
		ProviderMicrosoft,
	}
}
