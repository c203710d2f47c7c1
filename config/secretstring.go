package config

import (
	"errors"
	"net/url"
)

// SecretStringValue replaces secret values in configuration dumps and
// messages.
const SecretStringValue = "<secret>"

// SecretString holds configuration values which may carry credentials, like
// proxy URLs. Formatting it with %v or %s and dumping configuration never
// reveals the value, conversion to string does.
type SecretString string

func (s SecretString) String() string {
	if len(s) == 0 {
		return ""
	}
	return SecretStringValue
}

// MarshalYAML masks value in configuration dumps.
func (s SecretString) MarshalYAML() (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return SecretStringValue, nil
}

// URL parses value as URL. Returned error does not include the value.
func (s SecretString) URL() (*url.URL, error) {
	u, err := url.Parse(string(s))
	if err != nil {
		return nil, errors.New("malformed URL " + SecretStringValue)
	}
	if len(u.Scheme) == 0 || len(u.Host) == 0 {
		return nil, errors.New("URL " + SecretStringValue + " must be absolute")
	}
	return u, nil
}
