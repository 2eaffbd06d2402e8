// Package settings implements the process-wide settings object used by
// go-taskapp projects.
//
// A settings module is identified by a dotted name (for example
// "core.settings"). The identifier is read from the SETTINGS_MODULE
// environment variable and resolved, in order, against:
//
//   - modules registered in-process with Register (usually from an init
//     function of the project package);
//   - files below the search root, where the dotted name maps to a path:
//     core.settings -> ./core/settings.yaml, ./core/settings.yml or
//     ./core/settings.json.
//
// Keys are upper case. Libraries consume a subset of the keys through
// Namespace, which selects every key carrying a given prefix and strips it:
//
//	s, err := settings.Default().Resolve(ctx)
//	opts := s.Namespace("TASKAPP") // TASKAPP_BROKER_URL -> broker_url
package settings
