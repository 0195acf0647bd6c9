// Package validation provides security validation functions for preventing
// command injection, path traversal, and root-escape attempts.
package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("contains null byte")
	}

	// Shell metacharacters
	dangerous := []string{";", "&", "|", "$", "`", "<", ">", "\n", "\r"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}

	return nil
}

// ValidateExecutable validates an engine executable path. The base name,
// without a Windows .exe suffix, must be in the allowlist.
func ValidateExecutable(executable string, allowed map[string]bool) error {
	if executable == "" {
		return fmt.Errorf("executable cannot be empty")
	}
	if err := ValidateArgument(executable); err != nil {
		return fmt.Errorf("invalid executable '%s': %w", executable, err)
	}

	base := strings.TrimSuffix(filepath.Base(executable), ".exe")
	if !allowed[base] {
		return fmt.Errorf("executable '%s' is not allowed", base)
	}

	return nil
}

// ValidatePath validates a file path to prevent path traversal attacks
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains null byte")
	}

	for _, part := range strings.FieldsFunc(filepath.ToSlash(p), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", p)
		}
	}

	return nil
}

// WithinRoot joins name onto root and returns the cleaned result, failing
// when the result is outside root. Absolute names are interpreted relative
// to root, the way the engine treats `/`-rooted imports.
func WithinRoot(root, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("path contains null byte")
	}

	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, filepath.FromSlash(strings.TrimLeft(filepath.ToSlash(name), "/")))

	if !IsWithin(cleanRoot, joined) {
		return "", fmt.Errorf("path %q escapes root %q", name, root)
	}
	return joined, nil
}

// IsWithin reports whether target is root or lies below it. Both paths must
// already be clean.
func IsWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ValidateArchiveEntry validates a slash-separated archive member name. It
// rejects absolute names and names that would leave the extraction root.
func ValidateArchiveEntry(name string) error {
	if name == "" {
		return fmt.Errorf("archive entry has empty name")
	}
	if strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return fmt.Errorf("archive entry %q contains invalid characters", name)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return fmt.Errorf("archive entry %q is absolute", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("archive entry %q escapes the package directory", name)
	}
	return nil
}

// ValidateIdentifier validates a package namespace or name: ASCII letters,
// digits, hyphens and underscores, starting with a letter or underscore.
func ValidateIdentifier(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
		default:
			return fmt.Errorf("%s %q is not a valid identifier", kind, s)
		}
	}
	return nil
}

// SanitizeInput removes control characters other than common whitespace
// from text echoed back to users.
func SanitizeInput(input string) string {
	var sanitized strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String()
}
