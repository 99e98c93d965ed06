// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first: defaults already present in the target
// struct, a YAML file, RHEMA_ environment variables, explicit overrides.
//
// Environment variables separate nesting levels with a double underscore
// so snake_case keys survive: RHEMA_STORAGE__MAX_SIZE_GB sets
// storage.max_size_gb.
//
// Watcher reports changes to watched files so long-running processes can
// reload settings such as the log level.
package confloader
