// Package config loads and validates the prwatch configuration file.
//
// The configuration is a single YAML file with three sections: the Bitbucket
// Server connection, the TeamCity connection, and the list of watched
// repositories. Credentials are referenced indirectly through environment
// variable names so that the file itself never contains secrets.
//
// Example:
//
//	bitbucket:
//	  baseUrl: https://bitbucket.example.com/rest
//	  username: ci-bot
//	  passwordEnv: PRWATCH_BITBUCKET_PASSWORD
//	teamcity:
//	  baseUrl: https://teamcity.example.com
//	  tokenEnv: PRWATCH_TEAMCITY_TOKEN
//	repos:
//	  - project: PLAT
//	    repo: billing-service
//	    buildConfigId: Billing_PullRequests
//	    pollInterval: 30s
//	    branches: ["feature/*", "bugfix/*"]
//	    rebuildOnFailure: true
//	    postBuildStatus: true
//
// Loading applies defaults before validation, and validation reports every
// problem found in one pass so a broken file can be fixed in a single edit.
//
// Watcher provides optional hot reload: it watches the file with fsnotify and
// delivers re-validated configurations to the application, which uses them to
// add, remove or resume repository watchers without a restart.
package config
