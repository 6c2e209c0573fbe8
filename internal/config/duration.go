package config

import "time"

// Duration wraps time.Duration so go-toml/v2 can decode human-readable
// strings ("10s", "1m30s") via encoding.TextUnmarshaler, the same way
// service files express every timing field in spec.md §3/§6.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
