package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Identity is the device's runtime identity. Only the display name is
// persisted — a single-key YAML file holding just {username: ...}, kept
// apart from Config so editing settings never touches the name. The
// userId is minted fresh each process start: peers only need it stable
// for as long as this process is on the air.
type Identity struct {
	UserID   string `yaml:"-"`
	Username string `yaml:"username"`
}

// LoadOrCreateIdentity reads the persisted display name from path, or
// generates the "user<4 hex>" fallback and writes it there if the file
// does not yet exist. defaultUsername is used only on that first write.
// The returned UserID is always freshly minted.
func LoadOrCreateIdentity(path, defaultUsername string) (Identity, error) {
	id := Identity{UserID: newUserID()}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &id); err != nil {
			return Identity{}, err
		}
		if id.Username != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return Identity{}, err
	}

	id.Username = defaultUsername
	if id.Username == "" {
		id.Username = "user" + id.UserID[:4]
	}

	out, err := yaml.Marshal(id)
	if err != nil {
		return Identity{}, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Identity{}, err
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func newUserID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
