// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package sqlstore

import (
	"context"
	"encoding/json"

	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
)

type stepStore struct {
	conn
}

func (s *stepStore) AppendStep(ctx context.Context, step *store.StepRecord) error {
	if step.TurnID == "" {
		return dderr.Wrap(store.ErrInvalidInput, dderr.CodeStoreInvalidInput, "step record requires a turn id")
	}

	calls := step.ToolCalls
	if calls == nil {
		calls = []store.ToolCallSummary{}
	}
	callsJSON, err := json.Marshal(calls)
	if err != nil {
		return dderr.Wrapf(err, dderr.CodeStoreInvalidInput, "marshalling step tool calls")
	}

	const q = `INSERT INTO agent_steps (conversation_id, turn_id, step_index, tool_calls, input_tokens, output_tokens, outcome, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.exec(ctx, q,
		step.ConversationID, step.TurnID, step.Index, string(callsJSON),
		step.Usage.InputTokens, step.Usage.OutputTokens, step.Outcome, formatTime(step.CreatedAt),
	)
	if err != nil {
		if s.uniqueViolation(err) {
			return dderr.Wrapf(store.ErrConflict, dderr.CodeStoreConflict, "step %d of turn %s already recorded", step.Index, step.TurnID)
		}
		return dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "appending step %d of turn %s", step.Index, step.TurnID)
	}
	return nil
}

func (s *stepStore) ListSteps(ctx context.Context, conversationID string, limit int) ([]*store.StepRecord, error) {
	const q = `SELECT conversation_id, turn_id, step_index, tool_calls, input_tokens, output_tokens, outcome, created_at
FROM agent_steps WHERE conversation_id = ? ORDER BY created_at ASC, step_index ASC LIMIT ?`

	rows, err := s.query(ctx, q, conversationID, limitOrDefault(limit))
	if err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "listing steps for %s", conversationID)
	}
	defer rows.Close() //nolint:errcheck // read-path close error is not actionable

	var steps []*store.StepRecord
	for rows.Next() {
		var st store.StepRecord
		var callsJSON, ts string
		if err := rows.Scan(&st.ConversationID, &st.TurnID, &st.Index, &callsJSON,
			&st.Usage.InputTokens, &st.Usage.OutputTokens, &st.Outcome, &ts); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "scanning step row")
		}
		if st.CreatedAt, err = parseTime(ts); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "parsing step timestamp")
		}
		if err := json.Unmarshal([]byte(callsJSON), &st.ToolCalls); err != nil {
			return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "decoding step tool calls")
		}
		steps = append(steps, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, dderr.Wrapf(err, dderr.CodeStoreDatabaseFailure, "iterating steps")
	}
	return steps, nil
}
