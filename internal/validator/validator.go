// Package validator checks candidate SQL by planning it. EXPLAIN in JSON
// mode exercises parsing, name resolution, and planning without executing
// anything; the transaction is rolled back regardless so even a DDL-bearing
// statement leaves no trace.
package validator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Result is the outcome of validating one statement.
type Result struct {
	Valid     bool
	Error     string
	QueryPlan json.RawMessage
	EstCost   float64
	EstRows   float64
}

// Validator plans SQL under a configurable search path.
type Validator struct {
	db *sql.DB
}

// New creates a validator.
func New(db *sql.DB) *Validator {
	return &Validator{db: db}
}

// explainable reports whether EXPLAIN accepts the command type.
var explainable = map[string]bool{
	"SELECT": true,
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
	"MERGE":  true,
	"VALUES": true,
}

// Explainable reports whether a command type can be validated by planning.
func Explainable(commandType string) bool {
	return explainable[commandType]
}

// Validate plans the statement inside a transaction that is always rolled
// back. A plan failure is a validation result, not an error; errors are
// reserved for infrastructure problems.
func (v *Validator) Validate(ctx context.Context, sqlText, searchPath string) (*Result, error) {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin validation transaction: %w", err)
	}
	defer tx.Rollback()

	if searchPath != "" {
		// set_config goes through a parameter; SET LOCAL cannot.
		if _, err := tx.ExecContext(ctx,
			"SELECT set_config('search_path', $1, true)", searchPath); err != nil {
			return nil, fmt.Errorf("set search path: %w", err)
		}
	}

	var planJSON []byte
	err = tx.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+sqlText).Scan(&planJSON)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			msg := pqErr.Message
			if pqErr.Hint != "" {
				msg += "\nHINT: " + pqErr.Hint
			}
			return &Result{Valid: false, Error: msg}, nil
		}
		return &Result{Valid: false, Error: err.Error()}, nil
	}

	res := &Result{Valid: true, QueryPlan: planJSON}
	res.EstCost, res.EstRows = planEstimates(planJSON)
	return res, nil
}

// planEstimates pulls the root node's total cost and row estimate out of the
// EXPLAIN JSON document. Zeroes on any shape surprise; estimates are advisory.
func planEstimates(planJSON []byte) (cost, rows float64) {
	var doc []struct {
		Plan struct {
			TotalCost float64 `json:"Total Cost"`
			PlanRows  float64 `json:"Plan Rows"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal(planJSON, &doc); err != nil || len(doc) == 0 {
		return 0, 0
	}
	return doc[0].Plan.TotalCost, doc[0].Plan.PlanRows
}
