// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

// internalDetail is the only detail a 5xx response carries.
const internalDetail = "internal error"

// statusFor maps err to a response status and a detail safe to show the
// caller. Server-side failures collapse to a generic 500 and are logged.
func statusFor(err error, op string) (int, string) {
	status := dderr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "code", dderr.CodeOf(err), "error", err)
		return http.StatusInternalServerError, internalDetail
	}
	return status, err.Error()
}

// writeError writes err as an RFC 9457 problem document from a plain
// handler.
func writeError(w http.ResponseWriter, err error, op string) int {
	status, detail := statusFor(err, op)
	writeProblem(w, status, detail)
	return status
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&huma.ErrorModel{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}
