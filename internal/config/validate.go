package config

import (
	"fmt"
	"strings"
)

// MissingSettingsError lists required settings that were not provided.
// Each entry names the environment variable an operator should set.
type MissingSettingsError struct {
	Variables []string
}

func (e *MissingSettingsError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Variables, ", "))
}

type requirement struct {
	env   string
	value func(*Config) string
}

var storageRequirements = []requirement{
	{"STORAGE_PUBLIC_URL", func(c *Config) string { return c.Storage.PublicURL }},
	{"STORAGE_ENDPOINT", func(c *Config) string { return c.Storage.Endpoint }},
	{"STORAGE_ACCESS_KEY", func(c *Config) string { return c.Storage.AccessKey }},
	{"STORAGE_SECRET_KEY", func(c *Config) string { return c.Storage.SecretKey }},
}

var geminiRequirements = []requirement{
	{"GEMINI_API_KEY", func(c *Config) string { return c.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Gemini.Model }},
}

// ValidateStorage checks the settings needed to reach object storage.
func (c *Config) ValidateStorage() error {
	return c.check(c.storageRequirements())
}

// storageRequirements drops credentials for the in-process memory store.
func (c *Config) storageRequirements() []requirement {
	if c.Storage.Type == "memory" {
		return storageRequirements[:1]
	}
	return storageRequirements
}

// ValidateGemini checks the settings needed to call the image model.
func (c *Config) ValidateGemini() error {
	return c.check(geminiRequirements)
}

// Validate checks every setting the API server needs before it starts.
// Returns a *MissingSettingsError naming all missing variables.
func (c *Config) Validate() error {
	reqs := append(append([]requirement{}, c.storageRequirements()...), geminiRequirements...)
	if err := c.check(reqs); err != nil {
		return err
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return &MissingSettingsError{Variables: []string{"DATABASE_URL"}}
	}
	return nil
}

func (c *Config) check(reqs []requirement) error {
	var missing []string
	for _, r := range reqs {
		if strings.TrimSpace(r.value(c)) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Variables: missing}
	}
	return nil
}
