// Package packages implements the on-disk cache of registry packages.
//
// Packages are stored as <dir>/<namespace>/<name>/<version>. A directory is
// only considered ready once its completion marker exists; downloads are
// extracted into a sibling temporary directory, renamed into place and then
// marked, all while holding a per-package lock shared by every Cache in the
// process that points at the same directory.
package packages

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conneroisu/typster/internal/validation"
)

// Version is a package's major.minor.patch version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version %q must have the form major.minor.patch", s)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || part == "" || (len(part) > 1 && part[0] == '0') {
			return Version{}, fmt.Errorf("version %q has invalid component %q", s, part)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less orders versions numerically.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Spec identifies a package: @namespace/name:version.
type Spec struct {
	Namespace string
	Name      string
	Version   Version
}

// ParseSpec parses "@namespace/name:version". The leading @ is optional.
func ParseSpec(s string) (Spec, error) {
	rest := strings.TrimPrefix(strings.TrimSpace(s), "@")

	namespace, rest, ok := strings.Cut(rest, "/")
	if !ok {
		return Spec{}, fmt.Errorf("package %q is missing a namespace", s)
	}
	name, version, ok := strings.Cut(rest, ":")
	if !ok {
		return Spec{}, fmt.Errorf("package %q is missing a version", s)
	}

	v, err := ParseVersion(version)
	if err != nil {
		return Spec{}, fmt.Errorf("package %q: %w", s, err)
	}
	spec := Spec{Namespace: namespace, Name: name, Version: v}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate checks that the namespace and name are identifiers and so are
// safe to use as path segments.
func (s Spec) Validate() error {
	if err := validation.ValidateIdentifier("package namespace", s.Namespace); err != nil {
		return err
	}
	return validation.ValidateIdentifier("package name", s.Name)
}

func (s Spec) String() string {
	return "@" + s.Namespace + "/" + s.Name + ":" + s.Version.String()
}

// Key is the process-wide lock key and the slash-separated relative path.
func (s Spec) Key() string {
	return s.Namespace + "/" + s.Name + "/" + s.Version.String()
}

// RelPath is the package directory relative to a cache or package path root.
func (s Spec) RelPath() string {
	return filepath.Join(s.Namespace, s.Name, s.Version.String())
}

// ArchiveName is the registry file name, name-version.tar.gz.
func (s Spec) ArchiveName() string {
	return s.Name + "-" + s.Version.String() + ".tar.gz"
}
