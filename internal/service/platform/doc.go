// Package platform reports host facts used for diagnostics and OS defaults.
package platform
