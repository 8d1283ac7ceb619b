package config

import "errors"

var (
	errConfigFileNotFound    = errors.New("config file not found")
	errConfigFileRead        = errors.New("cannot read config file")
	errConfigInvalid         = errors.New("invalid config file")
	errNegativeCacheCapacity = errors.New("immut_cache_capacity cannot be negative")
	errNegativeTablePages    = errors.New("table_initial_pages cannot be negative")
)
