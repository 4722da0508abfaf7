package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/conneroisu/siteroll/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Err joins the validation errors, or returns nil.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	errs := make([]error, len(vr.Errors))
	for i := range vr.Errors {
		errs[i] = &vr.Errors[i]
	}
	return errors.Join(errs...)
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateSiteConfigDetails(&config.Site, result)
	validateBundlesConfigDetails(config.Bundles, result)
	validateLogConfigDetails(&config.Log, result)

	if config.Watch.Debounce < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "watch.debounce",
			Value:   config.Watch.Debounce,
			Message: "debounce cannot be negative",
		})
	}

	result.Valid = !result.HasErrors()
	return result
}

func validateSiteConfigDetails(config *SiteConfig, result *ValidationResult) {
	if strings.TrimSpace(config.Input) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "site.input",
			Message:     "input directory cannot be empty",
			Suggestions: []string{"Set site.input to the directory holding your pages, e.g. " + DefaultInputDir},
		})
	}
	if strings.TrimSpace(config.Output) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "site.output",
			Message:     "output directory cannot be empty",
			Suggestions: []string{"Set site.output, e.g. " + DefaultOutputDir},
		})
	}
	if config.Input != "" && filepath.Clean(config.Input) == filepath.Clean(config.Output) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "site.output",
			Value:   config.Output,
			Message: "output directory must differ from the input directory",
		})
	}
	if config.Concurrency < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "site.concurrency",
			Value:   config.Concurrency,
			Message: "concurrency cannot be negative",
		})
	}
	for _, pattern := range config.Ignore {
		if _, err := doublestar.Match(pattern, pattern); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "site.ignore",
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}
}

func validateBundlesConfigDetails(bundles []BundleConfig, result *ValidationResult) {
	if len(bundles) == 0 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "bundles",
			Message:     "no bundles configured, pages cannot declare scripts",
			Suggestions: []string{"Add a bundle with a config file: bundles: [{shortcode: rollup, config: bundle.yml}]"},
		})
	}

	seen := make(map[string]bool)
	for i, b := range bundles {
		field := fmt.Sprintf("bundles[%d]", i)

		if !identifier.MatchString(b.Shortcode) {
			result.Errors = append(result.Errors, ValidationError{
				Field:       field + ".shortcode",
				Value:       b.Shortcode,
				Message:     "shortcode must be a valid template function name",
				Suggestions: []string{"Use letters, digits and underscores, e.g. " + DefaultShortcode},
			})
		}
		if seen[b.Shortcode] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".shortcode",
				Value:   b.Shortcode,
				Message: "shortcode is used by more than one bundle",
			})
		}
		seen[b.Shortcode] = true

		hasFile := b.Config != ""
		hasInline := len(b.Bundle) > 0
		switch {
		case hasFile && hasInline:
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "set either config or bundle, not both",
			})
		case !hasFile && !hasInline:
			result.Errors = append(result.Errors, ValidationError{
				Field:       field,
				Message:     "bundle needs a config file or an inline bundle block",
				Suggestions: []string{"Point config at a .yml, .json or .toml bundle configuration"},
			})
		}

		if b.AbsoluteFrom != "" && !b.AbsolutePaths {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   field + ".absolute_from",
				Value:   b.AbsoluteFrom,
				Message: "absolute_from has no effect without absolute_paths",
			})
		}
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.level",
			Value:       config.Level,
			Message:     err.Error(),
			Suggestions: []string{"Use debug, info, warn or error"},
		})
	}
	switch config.Format {
	case "text", "json":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "log.format",
			Value:   config.Format,
			Message: "log format must be text or json",
		})
	}
}
