// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/zalando/go-keyring"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// indexSuffix names the entry holding a service's JSON key list; the OS
// keyrings go-keyring wraps cannot enumerate keys.
const indexSuffix = "::index"

// KeyringStore implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func checkRef(op, service, key string) error {
	switch {
	case service == "":
		return dderr.Errorf(dderr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	case key == "":
		return dderr.Errorf(dderr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkRef("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return dderr.Wrapf(err, dderr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkRef("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", dderr.Errorf(dderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", dderr.Wrapf(err, dderr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkRef("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return dderr.Errorf(dderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return dderr.Wrapf(err, dderr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	keys, err := s.index(service)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *KeyringStore) index(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, dderr.Wrapf(err, dderr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, fn func([]string) []string) error {
	keys, err := s.index(service)
	if err != nil {
		return err
	}
	keys = fn(keys)

	name := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index failed", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, name, string(data)); err != nil {
		return dderr.Wrapf(err, dderr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}
