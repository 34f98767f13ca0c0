package packager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oshokin/client-launcher/internal/domain/manifest"
	"github.com/oshokin/client-launcher/internal/logger"
	"github.com/oshokin/client-launcher/internal/service/hasher"
	"github.com/oshokin/client-launcher/internal/service/signature"
)

const (
	// DefaultOutput is the manifest filename written when none is given.
	DefaultOutput = "manifest.yaml"
	// SignatureSuffix is appended to the manifest path for the detached signature.
	SignatureSuffix = ".sig"

	// publishedFileMode is used for the manifest and its signature.
	publishedFileMode os.FileMode = 0o644
)

var (
	// errNoArtifacts is returned when the artifact directory has no usable files.
	errNoArtifacts = errors.New("no artifacts found")
	// errOptionsNotSet is returned when required options are missing.
	errOptionsNotSet = errors.New("options are not set")
	// errSelfCheckFailed is returned when the produced signature does not verify with the given anchor.
	errSelfCheckFailed = errors.New("signature does not verify with the trust anchor")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Dir holds the artifacts to publish. Required.
	Dir string
	// BaseURL is the location the artifacts will be served from. Required.
	BaseURL string
	// Algorithm is the manifest hash algorithm; sha256 when empty.
	Algorithm string
	// KeyPath is the PEM private key or armored OpenPGP private key. Required.
	KeyPath string
	// AnchorPath optionally names the trust anchor used to check the new signature.
	AnchorPath string
	// Output is the manifest path; DefaultOutput when empty.
	Output string
	// Launch holds the launch parameters written into the manifest.
	Launch manifest.Launch
}

// Result names the files written by Run.
type Result struct {
	// Manifest is the built manifest.
	Manifest *manifest.Manifest
	// ManifestPath is the written manifest document.
	ManifestPath string
	// SignaturePath is the written detached signature.
	SignaturePath string
}

// Run builds, signs and writes the manifest.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "client-packager")

	if opts == nil || opts.Dir == "" || opts.BaseURL == "" || opts.KeyPath == "" {
		return nil, fmt.Errorf("%w: dir, base url and key are required", errOptionsNotSet)
	}

	output := opts.Output
	if output == "" {
		output = DefaultOutput
	}

	alg, err := hasher.ParseAlgorithm(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Hashing artifacts", "dir", opts.Dir, "algorithm", alg)

	m, err := Build(opts.Dir, opts.BaseURL, alg, skipSet(opts.Dir, output))
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}

	m.Launch = opts.Launch

	raw, err := manifest.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	key, err := os.ReadFile(filepath.Clean(opts.KeyPath))
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	sig, err := Sign(raw, key)
	if err != nil {
		return nil, err
	}

	if opts.AnchorPath != "" {
		if err = selfCheck(opts.AnchorPath, raw, sig); err != nil {
			return nil, err
		}

		logger.Info(ctx, "Signature verified with the trust anchor")
	}

	result := &Result{Manifest: m, ManifestPath: output, SignaturePath: output + SignatureSuffix}

	if err = os.WriteFile(filepath.Clean(result.ManifestPath), raw, publishedFileMode); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(result.SignaturePath), sig, publishedFileMode); err != nil {
		return nil, fmt.Errorf("write signature: %w", err)
	}

	printNextSteps(ctx, opts.BaseURL, result)

	return result, nil
}

// Build hashes the regular files of dir in name order. Hidden files and the
// names in skip are left out.
func Build(dir, baseURL string, alg hasher.Algorithm, skip map[string]struct{}) (*manifest.Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	m := &manifest.Manifest{HashAlgorithm: alg}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}

		if _, skipped := skip[name]; skipped {
			continue
		}

		if err = manifest.ValidateName(name); err != nil {
			return nil, err
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil, infoErr
		}

		sum, hashErr := hasher.File(filepath.Join(dir, name), alg)
		if hashErr != nil {
			return nil, fmt.Errorf("hash %s: %w", name, hashErr)
		}

		location, joinErr := url.JoinPath(baseURL, name)
		if joinErr != nil {
			return nil, fmt.Errorf("artifact url for %s: %w", name, joinErr)
		}

		m.Artifacts = append(m.Artifacts, manifest.Artifact{
			Name:      name,
			Path:      location,
			Size:      info.Size(),
			Hash:      sum,
			Algorithm: alg,
		})
	}

	if len(m.Artifacts) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, errNoArtifacts)
	}

	return m, nil
}

// Sign returns the detached signature over raw made with the private key in keyData.
func Sign(raw, keyData []byte) ([]byte, error) {
	signer, err := signature.LoadSigningKey(keyData)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(raw)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}

	return sig, nil
}

func selfCheck(anchorPath string, raw, sig []byte) error {
	data, err := os.ReadFile(filepath.Clean(anchorPath))
	if err != nil {
		return fmt.Errorf("read trust anchor: %w", err)
	}

	anchor, err := signature.LoadTrustAnchor(data)
	if err != nil {
		return err
	}

	if err = signature.Check(anchor, raw, sig); err != nil {
		return fmt.Errorf("%w: %w", errSelfCheckFailed, err)
	}

	return nil
}

// skipSet keeps the packager's own output out of the manifest when it is
// written into the artifact directory.
func skipSet(dir, output string) map[string]struct{} {
	skip := map[string]struct{}{}

	absDir, dirErr := filepath.Abs(dir)
	absOut, outErr := filepath.Abs(output)

	if dirErr == nil && outErr == nil && filepath.Dir(absOut) == absDir {
		base := filepath.Base(absOut)
		skip[base] = struct{}{}
		skip[base+SignatureSuffix] = struct{}{}
	}

	return skip
}

// printNextSteps logs human-readable guidance for the created files.
func printNextSteps(ctx context.Context, baseURL string, result *Result) {
	names := make([]string, 0, len(result.Manifest.Artifacts))
	for _, artifact := range result.Manifest.Artifacts {
		names = append(names, artifact.Name)
	}

	slices.Sort(names)

	var builder strings.Builder

	builder.WriteString("Upload the following artifacts to ")
	builder.WriteString(baseURL)
	builder.WriteString(":\n")
	builder.WriteString(strings.Join(names, ",\n"))
	builder.WriteString("\n\nPublish ")
	builder.WriteString(result.ManifestPath)
	builder.WriteString(" and ")
	builder.WriteString(result.SignaturePath)
	builder.WriteString(" at the channel's manifest_url and signature_url.")

	logger.Info(ctx, builder.String())
}
