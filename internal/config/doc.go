// Package config handles configuration loading for chitchat-admin.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. The format is chosen by extension: .toml is TOML, anything else
// is YAML. Missing optional values get defaults before validation.
//
// # Configuration File
//
// chitchat-admin reads the file named by --config, falling back to the
// CHITCHAT_CONFIG environment variable and then ./chitchat.yaml.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backup:
//	  s3:
//	    secret_access_key: "${CHITCHAT_S3_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Database and attachment storage (both required):
//
//	database:
//	  path: "/var/lib/chitchat/chitchat.db"
//	attachments:
//	  root: "/var/lib/chitchat/uploads"
//
// Retention:
//
//	retention:
//	  enabled: true       # run the reaper from `serve`
//	  default_days: 90    # 0 keeps inheriting rooms forever
//	  interval: "1h"
//
// Backups:
//
//	backup:
//	  dir: "/var/backups/chitchat"
//	  s3:
//	    bucket: "chitchat-backups"
//	    region: "us-east-1"
//	    prefix: "prod/"
//	    endpoint: ""          # set for S3-compatible stores
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load("/etc/chitchat/chitchat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
