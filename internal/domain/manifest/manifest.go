package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/client-launcher/internal/service/hasher"
)

// Manifest is the trusted description of a runnable artifact set.
// Values returned by Parse must be treated as immutable.
type Manifest struct {
	// HashAlgorithm applies to every artifact hash in the document.
	HashAlgorithm hasher.Algorithm `yaml:"hashAlgorithm,omitempty"`
	// Artifacts lists required files in launch order.
	Artifacts []Artifact `yaml:"artifacts"`
	// Launch holds the optional launch parameters.
	Launch Launch `yaml:"launch,omitempty"`
}

// Artifact describes one required file.
type Artifact struct {
	// Name is the logical name and the cache filename.
	Name string `yaml:"name"`
	// Path is the download location.
	Path string `yaml:"path"`
	// Size is the declared size in bytes.
	Size int64 `yaml:"size"`
	// Hash is the declared content hash, hex or base64.
	Hash string `yaml:"hash"`
	// Algorithm is copied from the document-level HashAlgorithm.
	Algorithm hasher.Algorithm `yaml:"-"`
}

// Launch holds publisher-provided launch parameters.
type Launch struct {
	// Runtime is the program that loads the artifacts (e.g. "java").
	// Empty means Executable is run directly.
	Runtime string `yaml:"runtime,omitempty"`
	// ClasspathFlag precedes the joined artifact paths when Runtime is set.
	ClasspathFlag string `yaml:"classpathFlag,omitempty"`
	// EntryPoint is passed to Runtime after the runtime arguments.
	EntryPoint string `yaml:"entryPoint,omitempty"`
	// Executable names the artifact to execute when Runtime is empty.
	Executable string `yaml:"executable,omitempty"`
	// Symbol is the exported entry point looked up by the in-process strategy.
	Symbol string `yaml:"symbol,omitempty"`
	// RuntimeArgs are extra runtime flags requested by the publisher.
	RuntimeArgs []string `yaml:"runtimeArgs,omitempty"`
}

var (
	// ErrInvalid is returned for documents that violate the manifest invariants.
	ErrInvalid = errors.New("invalid manifest")
	// ErrInvalidName is returned for artifact names unusable in the flat cache directory.
	ErrInvalidName = errors.New("invalid artifact name")
	// errEmptyDocument is returned when there are no bytes to parse.
	errEmptyDocument = errors.New("empty document")
	// errBadSource is returned when an artifact source location is not an http(s) URL.
	errBadSource = errors.New("invalid source location")
	// errBadDigest is returned when a digest length does not fit the hash algorithm.
	errBadDigest = errors.New("digest length does not match the algorithm")
	// errBadSize is returned for negative declared sizes.
	errBadSize = errors.New("invalid size")
)

// Parse decodes and validates raw manifest bytes.
// It must only be called on bytes whose signature has been verified.
func Parse(raw []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errEmptyDocument)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalid, err)
	}

	if err := m.normalize(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Marshal encodes the manifest into the YAML document that gets signed.
func Marshal(m *Manifest) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errEmptyDocument)
	}

	clone := *m
	clone.Artifacts = append([]Artifact(nil), m.Artifacts...)

	if err := clone.normalize(); err != nil {
		return nil, err
	}

	return yaml.Marshal(&clone)
}

// normalize validates the document and fills derived fields.
func (m *Manifest) normalize() error {
	alg, err := hasher.ParseAlgorithm(string(m.HashAlgorithm))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	m.HashAlgorithm = alg

	seen := make(map[string]struct{}, len(m.Artifacts))

	for i := range m.Artifacts {
		artifact := &m.Artifacts[i]
		artifact.Algorithm = alg

		if err = ValidateName(artifact.Name); err != nil {
			return fmt.Errorf("%w: artifact #%d: %w", ErrInvalid, i, err)
		}

		if _, dup := seen[artifact.Name]; dup {
			return fmt.Errorf("%w: duplicate artifact name %q", ErrInvalid, artifact.Name)
		}

		seen[artifact.Name] = struct{}{}

		if err = validateArtifact(artifact); err != nil {
			return fmt.Errorf("%w: artifact %q: %w", ErrInvalid, artifact.Name, err)
		}
	}

	if m.Launch.Executable != "" {
		if _, ok := seen[m.Launch.Executable]; !ok {
			return fmt.Errorf("%w: launch executable %q is not a listed artifact", ErrInvalid, m.Launch.Executable)
		}
	}

	return nil
}

func validateArtifact(artifact *Artifact) error {
	if artifact.Size < 0 {
		return fmt.Errorf("%d: %w", artifact.Size, errBadSize)
	}

	digest, err := hasher.Decode(artifact.Hash)
	if err != nil {
		return err
	}

	hashFunc, err := artifact.Algorithm.Hash()
	if err != nil {
		return err
	}

	if len(digest) != hashFunc.Size() {
		return fmt.Errorf("%d-byte digest for %s: %w", len(digest), artifact.Algorithm, errBadDigest)
	}

	source, err := url.Parse(artifact.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadSource, err)
	}

	if source.Scheme != "https" && source.Scheme != "http" {
		return fmt.Errorf("%q is not an http(s) URL: %w", artifact.Path, errBadSource)
	}

	if source.Host == "" {
		return fmt.Errorf("%q has no host: %w", artifact.Path, errBadSource)
	}

	return nil
}

// ValidateName checks that name is usable as a file in the flat cache directory.
// Names starting with a dot are reserved for the launcher's temporary files.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%q contains a path separator: %w", name, ErrInvalidName)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%q contains a traversal sequence: %w", name, ErrInvalidName)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%q starts with a dot: %w", name, ErrInvalidName)
	case strings.Contains(name, ":") || filepath.IsAbs(name) || filepath.Base(name) != name:
		return fmt.Errorf("%q is not a plain file name: %w", name, ErrInvalidName)
	default:
		return nil
	}
}

// TotalSize is the sum of the declared sizes of every artifact.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for i := range m.Artifacts {
		total += m.Artifacts[i].Size
	}

	return total
}

// Names returns the set of artifact names.
func (m *Manifest) Names() map[string]struct{} {
	names := make(map[string]struct{}, len(m.Artifacts))
	for i := range m.Artifacts {
		names[m.Artifacts[i].Name] = struct{}{}
	}

	return names
}

// Lookup returns the artifact with the given name.
func (m *Manifest) Lookup(name string) (Artifact, bool) {
	for i := range m.Artifacts {
		if m.Artifacts[i].Name == name {
			return m.Artifacts[i], true
		}
	}

	return Artifact{}, false
}
