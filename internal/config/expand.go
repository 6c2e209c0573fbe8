package config

import "os"

// ExpandEnv substitutes ${VAR} references inside a raw service file
// with values from the process environment before it is handed to the
// TOML decoder. This is the "environment-variable expansion of config"
// external collaborator spec.md §1 names, implemented as a
// pre-processing pass the way the teacher's ApplyDefaults runs after
// parsing rather than before — here it has to run before, since the
// substitution targets raw bytes, not typed fields.
func ExpandEnv(raw []byte) []byte {
	return []byte(os.Expand(string(raw), lookupEnv))
}

func lookupEnv(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "$" + key
	}

	return value
}
