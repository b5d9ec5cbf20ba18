package s3archive

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials is the per-room credentials file.
type Credentials struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// LoadCredentials reads a credentials file. An empty path yields empty
// credentials, which selects the default AWS chain.
func LoadCredentials(path string) (Credentials, error) {
	var c Credentials
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read credentials: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return c, fmt.Errorf("credentials %s: access_key_id and secret_access_key must be set together", path)
	}
	return c, nil
}
