// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sales

var sendEmailSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"to":      map[string]any{"type": "string", "format": "email", "maxLength": 320},
		"subject": map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
		"body":    map[string]any{"type": "string", "minLength": 1, "maxLength": 20000},
	},
	"required":             []string{"to", "subject", "body"},
	"additionalProperties": false,
}

var bookMeetingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":            map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
		"start":            map[string]any{"type": "string", "format": "date-time", "description": "RFC 3339 start time"},
		"duration_minutes": map[string]any{"type": "integer", "minimum": 5, "maximum": 480},
		"attendees": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string", "format": "email"},
			"minItems": 1,
			"maxItems": 50,
		},
	},
	"required":             []string{"title", "start", "attendees"},
	"additionalProperties": false,
}

var searchContactsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
		"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
	},
	"required":             []string{"query"},
	"additionalProperties": false,
}

var enrichContactSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"contact_id": map[string]any{"type": "string", "maxLength": 128},
	},
	"additionalProperties": false,
}

var researchCompanySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"domain": map[string]any{
			"type":    "string",
			"pattern": `^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`,
		},
	},
	"required":             []string{"domain"},
	"additionalProperties": false,
}

var logNoteSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"contact_id": map[string]any{"type": "string", "maxLength": 128},
		"note":       map[string]any{"type": "string", "minLength": 1, "maxLength": 4000},
	},
	"required":             []string{"note"},
	"additionalProperties": false,
}
