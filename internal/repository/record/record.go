package record

import (
	"fmt"
	"os"
	"os/user"
	"time"
)

// Record describes one successful launch.
type Record struct {
	// Channel is the manifest channel the run used.
	Channel string `yaml:"channel"`
	// ManifestDigest is the SHA-256 of the signed manifest bytes.
	ManifestDigest string `yaml:"manifest_digest"`
	// Artifacts lists the launched artifact names in launch order.
	Artifacts []string `yaml:"artifacts"`
	// Strategy names the launch strategy.
	Strategy string `yaml:"strategy"`
	// LauncherVersion is the version of the launcher that ran.
	LauncherVersion string `yaml:"launcher_version"`
	// LaunchedAt is when the client was started.
	LaunchedAt time.Time `yaml:"launched_at"`
	// Actor identifies the machine and account that ran the launcher.
	Actor *Actor `yaml:"actor,omitempty"`
}

// Actor identifies the host and user of a launch.
type Actor struct {
	// Hostname is the machine name.
	Hostname string `yaml:"hostname"`
	// Username is the account name.
	Username string `yaml:"username"`
}

// DetectActor gathers host and user information for the record.
func DetectActor() (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}
