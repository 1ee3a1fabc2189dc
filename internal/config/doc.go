// Package config loads the AuraMCP runtime configuration from a JSON file.
// The path comes from the AURAMCP_CONFIG environment variable, with sane
// defaults applied for any omitted section. Relative file paths inside the
// configuration resolve against the configuration file's directory.
package config
