package profile

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/roam/internal/config"
)

// DefaultName is used when nothing else selects a profile.
const DefaultName = "main"

// EnvVar selects a profile when no flag is given.
const EnvVar = "ROAM_PROFILE"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Names that would collide with files kept next to the profiles.
var reserved = map[string]bool{"logs": true, "config": true}

// Resolve picks the profile name: the flag, then $ROAM_PROFILE, then
// default_profile from config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

// ValidateName rejects names that are not safe as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match %s", name, nameRegexp)
	}
	if reserved[name] {
		return fmt.Errorf("invalid profile name %q: reserved", name)
	}
	return nil
}

// Select resolves and validates the profile in one step.
func Select(flagOverride string) (string, error) {
	name := Resolve(flagOverride)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
