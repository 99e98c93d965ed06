// Package config defines the rhema-store configuration structure.
//
// Values are layered by confloader: defaults from Default, then the YAML
// file, then RHEMA_ environment variables, then command-line overrides.
//
//	storage:
//	  base_path: /var/lib/rhema
//	  max_size_gb: 10
//	  backend: badger
//	encryption:
//	  algorithm: aes-256-gcm
//	  key_hex: ...
package config
