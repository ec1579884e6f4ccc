// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

// Package secrets keeps provider keys, webhook keys and the JWT secret out
// of the config file. Config values of the form keyring://service/key are
// replaced with the stored secret at load time.
package secrets

// DefaultService is the keyring service the CLI writes to.
const DefaultService = "dealdesk"

// Store provides secret storage.
type Store interface {
	Store(service, key, value string) error
	// Retrieve fails with CodeSecretNotFound for a missing key.
	Retrieve(service, key string) (string, error)
	// Delete fails with CodeSecretNotFound for a missing key.
	Delete(service, key string) error
	// List returns the stored key names of service in sorted order.
	List(service string) ([]string, error)
}

// URI renders the config reference for service/key.
func URI(service, key string) string {
	return keyringScheme + service + "/" + key
}
