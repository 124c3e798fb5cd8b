// Package config loads, normalizes, and validates cvt2bids configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the CVT2BIDS_CONVERTER
// environment fallback. The Config type centralizes the converter command,
// registry layout, and run settings so the CLI resolves them in one pass.
//
// Per-run inputs such as the DICOM root, the output directory, and the
// dcm2bids JSON config are command flags, not configuration keys.
package config
