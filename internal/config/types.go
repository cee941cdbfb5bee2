package config

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for prwatch.
type Config struct {
	Bitbucket BitbucketConfig    `yaml:"bitbucket"`
	TeamCity  TeamCityConfig     `yaml:"teamcity"`
	Repos     []RepositoryConfig `yaml:"repos"`
}

// BitbucketConfig holds the connection settings for the Bitbucket Server
// instance all watched repositories live on.
type BitbucketConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable holding the password or
	// access token. Credentials never appear in the config file itself.
	PasswordEnv string `yaml:"passwordEnv"`
}

// TeamCityConfig holds the connection settings for the TeamCity server.
type TeamCityConfig struct {
	BaseURL string `yaml:"baseUrl"`
	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `yaml:"tokenEnv"`
}

// RepositoryConfig describes one watched repository and the policy applied
// to its pull requests.
type RepositoryConfig struct {
	// Project is the Bitbucket project key.
	Project string `yaml:"project"`
	// Repo is the Bitbucket repository slug.
	Repo string `yaml:"repo"`
	// BuildConfigID is the TeamCity build configuration to trigger.
	BuildConfigID string `yaml:"buildConfigId"`

	PollInterval time.Duration `yaml:"pollInterval,omitempty"`

	// Branches is a list of glob patterns matched against a pull request's
	// source branch. Empty means all branches.
	Branches []string `yaml:"branches,omitempty"`

	// RebuildOnFailure re-triggers a failed build for an unchanged head
	// commit once MinRetriggerInterval has elapsed.
	RebuildOnFailure     bool          `yaml:"rebuildOnFailure,omitempty"`
	MinRetriggerInterval time.Duration `yaml:"minRetriggerInterval,omitempty"`

	// MaxBackoff caps the exponential backoff applied after transient
	// provider failures.
	MaxBackoff time.Duration `yaml:"maxBackoff,omitempty"`

	// TriggerConcurrency bounds how many builds may be triggered in
	// parallel within a single reconciliation pass.
	TriggerConcurrency int `yaml:"triggerConcurrency,omitempty"`

	// RetirementPolls is how many consecutive polls a pull request must be
	// absent before its state is discarded. Zero means the built-in default
	// of two.
	RetirementPolls int `yaml:"retirementPolls,omitempty"`

	// PostBuildStatus posts build progress back to the pull request as a
	// comment and as a Bitbucket commit build status.
	PostBuildStatus bool `yaml:"postBuildStatus,omitempty"`
}

// rawRepository mirrors RepositoryConfig with durations as strings, which is
// how they appear in the file ("30s", "5m"). yaml.v3 has no native
// time.Duration support.
type rawRepository struct {
	Project              string   `yaml:"project"`
	Repo                 string   `yaml:"repo"`
	BuildConfigID        string   `yaml:"buildConfigId"`
	PollInterval         string   `yaml:"pollInterval"`
	Branches             []string `yaml:"branches"`
	RebuildOnFailure     bool     `yaml:"rebuildOnFailure"`
	MinRetriggerInterval string   `yaml:"minRetriggerInterval"`
	MaxBackoff           string   `yaml:"maxBackoff"`
	TriggerConcurrency   int      `yaml:"triggerConcurrency"`
	RetirementPolls      int      `yaml:"retirementPolls"`
	PostBuildStatus      bool     `yaml:"postBuildStatus"`
}

// UnmarshalYAML implements yaml.Unmarshaler, parsing the duration fields.
func (r *RepositoryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw rawRepository
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*r = RepositoryConfig{
		Project:            raw.Project,
		Repo:               raw.Repo,
		BuildConfigID:      raw.BuildConfigID,
		Branches:           raw.Branches,
		RebuildOnFailure:   raw.RebuildOnFailure,
		TriggerConcurrency: raw.TriggerConcurrency,
		RetirementPolls:    raw.RetirementPolls,
		PostBuildStatus:    raw.PostBuildStatus,
	}

	var err error
	if r.PollInterval, err = parseDuration("pollInterval", raw.PollInterval); err != nil {
		return err
	}
	if r.MinRetriggerInterval, err = parseDuration("minRetriggerInterval", raw.MinRetriggerInterval); err != nil {
		return err
	}
	if r.MaxBackoff, err = parseDuration("maxBackoff", raw.MaxBackoff); err != nil {
		return err
	}
	return nil
}

// parseDuration parses an optional duration string; empty means unset.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// Name returns the repository identity in project/repo form. It is the key
// used for watcher registration and event attribution.
func (r RepositoryConfig) Name() string {
	return r.Project + "/" + r.Repo
}

// Equal reports whether two repository configurations are identical,
// including policy settings. Used to decide whether a reload must restart a
// watcher.
func (r RepositoryConfig) Equal(other RepositoryConfig) bool {
	return reflect.DeepEqual(r, other)
}
