package vaultauth

import "encoding/json"

// SensitiveBytes is a []byte wrapper that can be zeroed after use.
// SECURITY: Use this type for passphrases, KEKs, and other key material so
// the underlying memory can be cleared when the value is dropped.
type SensitiveBytes []byte

// UnmarshalJSON accepts a plain JSON string so request payloads can decode
// straight into a zeroable buffer.
func (s *SensitiveBytes) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = SensitiveBytes(str)
	return nil
}

// MarshalJSON always redacts. Secret material never serializes outward.
func (s SensitiveBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("[redacted]")
}

// Zero overwrites the underlying bytes with zeros.
// SECURITY: Call this via defer immediately after the secret is no longer
// needed.
func (s SensitiveBytes) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// String redacts so the secret cannot leak through %v formatting or logs.
func (s SensitiveBytes) String() string {
	return "[redacted]"
}

// Clone returns an independent copy of the secret. The copy must be zeroed
// by its owner.
func (s SensitiveBytes) Clone() SensitiveBytes {
	c := make(SensitiveBytes, len(s))
	copy(c, s)
	return c
}

// zeroBytes overwrites a byte slice in memory with zeros.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
