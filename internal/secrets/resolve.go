// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package secrets

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI splits keyring://service/key. The key may contain
// slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", dderr.Errorf(dderr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", dderr.Errorf(dderr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// ResolveKeyringURI returns value unchanged unless it is a keyring URI, in
// which case it returns the stored secret.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}
	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}
	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", dderr.Wrapf(err, dderr.CodeSecretResolveFailure, "resolving %s", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string in v with its
// secret. Unresolvable references fail the load: a server must not start
// with a URI where a credential belongs. All failures are reported together.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok || !IsKeyringURI(val) {
			continue
		}
		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			errs = append(errs, dderr.Wrapf(err, dderr.CodeSecretResolveFailure, "config key %s", key))
			continue
		}
		v.Set(key, resolved)
	}
	if len(errs) > 0 {
		return dderr.Wrap(errors.Join(errs...), dderr.CodeSecretResolveFailure, "resolving config secrets")
	}
	return nil
}
