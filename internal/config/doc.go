// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Commands may load a .env file first so local credentials never live in the YAML.
// One file configures both the ingestor and the pipeline commands; each reads the
// sections it needs. See configs/tradeflow.example.yaml for the full schema.
package config
