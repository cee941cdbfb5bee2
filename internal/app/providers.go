package app

import (
	"fmt"
	"os"

	"prwatch/internal/ci/teamcity"
	"prwatch/internal/config"
	"prwatch/internal/scm/bitbucket"
)

// BuildProviders constructs the Bitbucket and TeamCity clients from the
// configuration, reading credentials from the named environment variables.
func BuildProviders(cfg config.Config) (*bitbucket.Client, *teamcity.Client, error) {
	password := os.Getenv(cfg.Bitbucket.PasswordEnv)
	if password == "" {
		return nil, nil, fmt.Errorf("environment variable %s is empty, no Bitbucket credentials", cfg.Bitbucket.PasswordEnv)
	}

	token := os.Getenv(cfg.TeamCity.TokenEnv)
	if token == "" {
		return nil, nil, fmt.Errorf("environment variable %s is empty, no TeamCity token", cfg.TeamCity.TokenEnv)
	}

	scmClient := bitbucket.NewClient(cfg.Bitbucket.BaseURL, cfg.Bitbucket.Username, password)
	ciClient := teamcity.NewClient(cfg.TeamCity.BaseURL, token)
	return scmClient, ciClient, nil
}

// BuildURL renders the TeamCity web link for a build id. Used when a trigger
// response carries no URL of its own.
func BuildURL(cfg config.TeamCityConfig) func(buildID string) string {
	return func(buildID string) string {
		return fmt.Sprintf("%s/viewLog.html?buildId=%s", cfg.BaseURL, buildID)
	}
}
