package session

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// fileTokens is the on-disk shape of session.json (spec.md §6).
type fileTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAtMs  int64  `json:"expiresAt"`
	UserID       string `json:"userId"`
	OrgID        string `json:"orgId"`
}

// Load reads session.json; a missing file is not an error (first run).
func Load(path string) (*fileTokens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ft fileTokens
	if err := json.Unmarshal(data, &ft); err != nil {
		return nil, err
	}
	return &ft, nil
}

// Save overwrites session.json in full with owner-only permissions — the
// refresh token may rotate and must be overwritten, not merged
// (spec.md §4.5).
func Save(path string, ft fileTokens) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(ft, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
