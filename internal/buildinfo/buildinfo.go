// Package buildinfo carries build-time metadata injected through ldflags.
package buildinfo

import "runtime"

// Unknown is reported for metadata the build did not provide.
const Unknown = "unknown"

// Context holds build metadata. It is not user configurable.
type Context struct {
	Version   string // git tag
	BuildDate string
}

// GetVersion returns the build version or Unknown.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return Unknown
	}
	return c.Version
}

// GetBuildDate returns the build date or Unknown.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return Unknown
	}
	return c.BuildDate
}

// String formats the metadata for version output.
func (c *Context) String() string {
	return "orthovision " + c.GetVersion() + " (built " + c.GetBuildDate() + ", " + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
