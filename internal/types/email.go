package types

// SenderIdentity is the From header of an outgoing notification.
type SenderIdentity struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// SendInput is a fully rendered email handed to an EmailProvider.
type SendInput struct {
	To       string         `json:"to"`
	From     SenderIdentity `json:"from"`
	Subject  string         `json:"subject"`
	BodyText string         `json:"body_text"`
	BodyHTML string         `json:"body_html,omitempty"`
	// Per-call provider credential. Empty means the provider's own key.
	APIKey SecretString `json:"-"`
	// Correlates the provider message with a retry.
	ReferenceID string `json:"reference_id,omitempty"`
}
