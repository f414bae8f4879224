// Package config loads the camerad YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before parsing,
// so secrets such as the cloud access token and database password can stay
// out of the file.
package config
