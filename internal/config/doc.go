// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// relayd reads every section; relaytest only needs instance, client and logging.
package config
