package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error.
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the full configuration and returns every problem found
// rather than stopping at the first one.
func Validate(cfg Config) ValidationErrors {
	var errs ValidationErrors

	validateBaseURL(&errs, "bitbucket.baseUrl", cfg.Bitbucket.BaseURL)
	if cfg.Bitbucket.Username == "" {
		errs.Add("bitbucket.username", "is required")
	}
	if cfg.Bitbucket.PasswordEnv == "" {
		errs.Add("bitbucket.passwordEnv", "is required")
	}

	validateBaseURL(&errs, "teamcity.baseUrl", cfg.TeamCity.BaseURL)
	if cfg.TeamCity.TokenEnv == "" {
		errs.Add("teamcity.tokenEnv", "is required")
	}

	if len(cfg.Repos) == 0 {
		errs.Add("repos", "at least one repository must be configured")
	}

	seen := make(map[string]bool)
	for i, repo := range cfg.Repos {
		prefix := fmt.Sprintf("repos[%d]", i)

		if repo.Project == "" {
			errs.Add(prefix+".project", "is required")
		}
		if repo.Repo == "" {
			errs.Add(prefix+".repo", "is required")
		}
		if repo.BuildConfigID == "" {
			errs.Add(prefix+".buildConfigId", "is required")
		}

		if repo.Project != "" && repo.Repo != "" {
			if seen[repo.Name()] {
				errs.Add(prefix, fmt.Sprintf("repository %s configured more than once", repo.Name()), repo.Name())
			}
			seen[repo.Name()] = true
		}

		if repo.PollInterval < 0 {
			errs.Add(prefix+".pollInterval", "must not be negative", repo.PollInterval)
		}
		if repo.MinRetriggerInterval < 0 {
			errs.Add(prefix+".minRetriggerInterval", "must not be negative", repo.MinRetriggerInterval)
		}
		if repo.MaxBackoff > 0 && repo.MaxBackoff < repo.PollInterval {
			errs.Add(prefix+".maxBackoff", "must not be smaller than pollInterval", repo.MaxBackoff)
		}
		if repo.TriggerConcurrency < 0 {
			errs.Add(prefix+".triggerConcurrency", "must not be negative", repo.TriggerConcurrency)
		}
		if repo.RetirementPolls < 0 {
			errs.Add(prefix+".retirementPolls", "must not be negative", repo.RetirementPolls)
		}

		for j, pattern := range repo.Branches {
			if _, err := path.Match(pattern, "probe"); err != nil {
				errs.Add(fmt.Sprintf("%s.branches[%d]", prefix, j), "invalid glob pattern", pattern)
			}
		}
	}

	return errs
}

func validateBaseURL(errs *ValidationErrors, field, value string) {
	if value == "" {
		errs.Add(field, "is required")
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, "must be an absolute http(s) URL", value)
	}
}
