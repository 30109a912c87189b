// Copyright (c) 2026.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

// Package version builds the instrumentation version strings
// reported to OpenTelemetry by the module's tracers.
package version

import "fmt"

type (
	// Version is a semantic version under construction.
	Version struct {
		major int
		minor int
		patch int
	}
)

// New returns a version with the given major number.
func New(major int) Version {
	return Version{major: major}
}

// Minor sets the minor number.
func (v Version) Minor(minor int) Version {
	v.minor = minor
	return v
}

// Patch sets the patch number.
func (v Version) Patch(patch int) Version {
	v.patch = patch
	return v
}

// Alpha renders the version with an alpha pre-release tag.
func (v Version) Alpha(n int) string {
	return fmt.Sprintf("%d.%d.%d-alpha.%d", v.major, v.minor, v.patch, n)
}

// String renders the version.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}
