package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/oshokin/client-launcher/internal/logger"
)

// Info describes the host the launcher runs on.
type Info struct {
	// OS is runtime.GOOS.
	OS string
	// Arch is runtime.GOARCH.
	Arch string
	// Platform is the distribution or product name, e.g. "ubuntu".
	Platform string
	// Family is the platform family, e.g. "debian".
	Family string
	// Version is the platform version.
	Version string
	// KernelVersion is the kernel release.
	KernelVersion string
}

// Detect collects host facts. Missing platform details are left empty;
// only cancellation is an error.
func Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	platform, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}

		return info, nil
	}

	info.Platform, info.Family, info.Version = platform, family, version

	if kernel, kernelErr := host.KernelVersionWithContext(ctx); kernelErr == nil {
		info.KernelVersion = kernel
	}

	return info, nil
}

// LogSystemInfo logs host facts at debug level.
func LogSystemInfo(ctx context.Context) {
	info, err := Detect(ctx)
	if err != nil {
		logger.DebugKV(ctx, "Unable to detect platform", "error", err)
		return
	}

	logger.DebugKV(ctx, "System information",
		"os", info.OS,
		"arch", info.Arch,
		"platform", info.Platform,
		"family", info.Family,
		"version", info.Version,
		"kernel", info.KernelVersion,
		"cpus", runtime.NumCPU(),
		"go", runtime.Version(),
	)
}
