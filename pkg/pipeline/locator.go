package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrLocator is the sentinel for every locator resolution failure.
var ErrLocator = errors.New("invalid pipeline locator")

// LocatorError describes why a locator could not be resolved to a pipeline.
type LocatorError struct {
	// Locator is the user-supplied string.
	Locator string

	// Reason is a human-readable explanation.
	Reason string

	// Err is the underlying cause (manifest load failure, etc.). May be nil.
	Err error
}

// Error implements the error interface.
func (e *LocatorError) Error() string {
	msg := fmt.Sprintf("invalid pipeline %q: %s", e.Locator, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LocatorError) Unwrap() error {
	return e.Err
}

// Is makes every LocatorError match ErrLocator.
func (e *LocatorError) Is(target error) bool {
	return target == ErrLocator
}

// IsLocatorError returns true if err is a locator resolution failure.
func IsLocatorError(err error) bool {
	return errors.Is(err, ErrLocator)
}

// ManifestExtensions are tried, in order, when resolving a module locator.
var ManifestExtensions = []string{".yaml", ".yml", ".json"}

var modulePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ResolveOptions configures locator resolution.
type ResolveOptions struct {
	// SearchPaths are the directories searched for module locators.
	// Default: the current directory.
	SearchPaths []string
}

// Resolve turns a locator into a resolved pipeline.
//
// Accepted forms:
//
//	path/to/pipeline.yaml:PipelineName
//	module.submodule:PipelineName   (module/submodule.{yaml,yml,json} under a search path)
func Resolve(locator string, opts ResolveOptions) (*Pipeline, error) {
	m, name, err := LoadLocator(locator, opts)
	if err != nil {
		return nil, err
	}

	if _, ok := m.Pipeline(name); !ok {
		if _, isStep := m.Step(name); isStep {
			return nil, &LocatorError{Locator: locator, Reason: fmt.Sprintf("%q is a step, not a pipeline", name)}
		}
		return nil, &LocatorError{
			Locator: locator,
			Reason:  fmt.Sprintf("no pipeline named %q (available: %s)", name, strings.Join(m.PipelineNames(), ", ")),
		}
	}

	p, err := Build(m, name)
	if err != nil {
		return nil, &LocatorError{Locator: locator, Reason: "cannot build pipeline", Err: err}
	}
	return p, nil
}

// LoadLocator splits a locator and loads the manifest it points to.
func LoadLocator(locator string, opts ResolveOptions) (*Manifest, string, error) {
	idx := strings.LastIndex(locator, ":")
	if idx < 0 {
		return nil, "", &LocatorError{
			Locator: locator,
			Reason: "it must be in the format '<module[.submodule]>:<pipeline>' or " +
				"'/path/to/pipeline.yaml:<pipeline>'",
		}
	}
	modpath, name := locator[:idx], locator[idx+1:]
	if modpath == "" || name == "" {
		return nil, "", &LocatorError{Locator: locator, Reason: "both the manifest and the pipeline name are required"}
	}

	path, err := FindManifest(modpath, opts)
	if err != nil {
		return nil, "", &LocatorError{Locator: locator, Reason: "cannot find manifest", Err: err}
	}

	m, err := Load(path)
	if err != nil {
		return nil, "", &LocatorError{Locator: locator, Reason: "cannot load manifest " + path, Err: err}
	}
	return m, name, nil
}

// FindManifest resolves the manifest part of a locator to a file path.
func FindManifest(modpath string, opts ResolveOptions) (string, error) {
	if info, err := os.Stat(modpath); err == nil && !info.IsDir() {
		return modpath, nil
	}

	if !modulePattern.MatchString(modpath) {
		return "", fmt.Errorf("no such manifest file: %s: %w", modpath, ErrManifestNotFound)
	}

	searchPaths := opts.SearchPaths
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	rel := filepath.Join(strings.Split(modpath, ".")...)
	for _, dir := range searchPaths {
		for _, ext := range ManifestExtensions {
			candidate := filepath.Join(dir, rel+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("no manifest file or module named %q (searched: %s): %w", modpath, strings.Join(searchPaths, ", "), ErrManifestNotFound)
}
