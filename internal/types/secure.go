package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential. It prints and marshals as a redacted
// placeholder so provider keys and signing secrets never reach logs or API
// responses. Unmask returns the raw value for the few call sites that sign,
// verify or authenticate with it.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty value is held.
func (s SecretString) IsSet() bool {
	return s != ""
}

// Hint returns a display form exposing at most the last four characters,
// e.g. "whsec_…a1b2". Short values are fully masked.
func (s SecretString) Hint() string {
	raw := string(s)
	if raw == "" {
		return ""
	}
	if len(raw) <= 8 {
		return "…"
	}
	prefix := ""
	for _, p := range []string{"sk_live_", "sk_test_", "rk_live_", "rk_test_", "whsec_", "re_", "SG."} {
		if len(raw) > len(p)+4 && raw[:len(p)] == p {
			prefix = p
			break
		}
	}
	return prefix + "…" + raw[len(raw)-4:]
}
