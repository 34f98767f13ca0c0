package config

import (
	"errors"
	"fmt"
	"strings"
)

// RenderMode selects the hardware acceleration backend of the client runtime.
type RenderMode string

// Supported rendering modes.
const (
	RenderOff        RenderMode = "off"
	RenderDirectDraw RenderMode = "directdraw"
	RenderDirect3D   RenderMode = "direct3d"
	RenderOpenGL     RenderMode = "opengl"
)

// errUnknownRenderMode is returned for modes outside the supported set.
var errUnknownRenderMode = errors.New("unknown render mode")

// ParseRenderMode normalizes a mode name as given on the command line.
func ParseRenderMode(s string) (RenderMode, error) {
	mode := RenderMode(strings.ToLower(strings.TrimSpace(s)))
	switch mode {
	case RenderOff, RenderDirectDraw, RenderDirect3D, RenderOpenGL:
		return mode, nil
	default:
		return "", fmt.Errorf("%q: %w", s, errUnknownRenderMode)
	}
}

// DefaultRenderMode returns the mode used when none is configured for the given GOOS.
func DefaultRenderMode(goos string) RenderMode {
	switch goos {
	case "windows":
		return RenderDirectDraw
	case "darwin", "linux":
		return RenderOpenGL
	default:
		return RenderOff
	}
}

// Params returns the runtime flags enabling the mode.
func (m RenderMode) Params() []string {
	switch m {
	case RenderDirectDraw:
		return []string{"-Dsun.java2d.noddraw=false", "-Dsun.java2d.opengl=false", "-Dsun.java2d.d3d=false"}
	case RenderDirect3D:
		return []string{"-Dsun.java2d.noddraw=false", "-Dsun.java2d.opengl=false", "-Dsun.java2d.d3d=true"}
	case RenderOpenGL:
		return []string{"-Dsun.java2d.noddraw=true", "-Dsun.java2d.opengl=true"}
	default:
		return []string{"-Dsun.java2d.noddraw=true", "-Dsun.java2d.opengl=false", "-Dsun.java2d.d3d=false"}
	}
}
