package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predictlabs/marketcore/internal/domain"
)

// QuestionStore implements domain.QuestionStore using PostgreSQL.
type QuestionStore struct {
	pool *pgxpool.Pool
}

// NewQuestionStore creates a new QuestionStore backed by the given connection pool.
func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

const questionCols = `question_id, condition_id, pool_id, end_time, outcome_slot_count,
	proposed_payouts, proposal_time, answer_cid, resolved, created_at`

// Upsert inserts or updates a single question row keyed by question id.
func (s *QuestionStore) Upsert(ctx context.Context, q domain.Question) error {
	const query = `
		INSERT INTO questions (
			question_id, condition_id, pool_id, end_time, outcome_slot_count,
			proposed_payouts, proposal_time, answer_cid, resolved, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (question_id) DO UPDATE SET
			condition_id       = EXCLUDED.condition_id,
			pool_id            = EXCLUDED.pool_id,
			end_time           = EXCLUDED.end_time,
			outcome_slot_count = EXCLUDED.outcome_slot_count,
			proposed_payouts   = EXCLUDED.proposed_payouts,
			proposal_time      = EXCLUDED.proposal_time,
			answer_cid         = EXCLUDED.answer_cid,
			resolved           = EXCLUDED.resolved,
			updated_at         = NOW()`

	var proposalTime *time.Time
	if !q.ProposalTime.IsZero() {
		t := q.ProposalTime
		proposalTime = &t
	}

	_, err := s.pool.Exec(ctx, query,
		q.QuestionID.Hex(), q.ConditionID.Hex(), q.PoolID.Hex(),
		q.EndTime, q.OutcomeSlotCount,
		payoutsToStrings(q.ProposedPayouts), proposalTime, q.AnswerCID,
		q.Resolved, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert question %s: %w", q.QuestionID.Hex(), err)
	}
	return nil
}

// GetByID retrieves a question by its id.
func (s *QuestionStore) GetByID(ctx context.Context, questionID common.Hash) (domain.Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+questionCols+` FROM questions WHERE question_id = $1`, questionID.Hex())
	q, err := scanQuestion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Question{}, domain.ErrNotFound
		}
		return domain.Question{}, fmt.Errorf("postgres: get question %s: %w", questionID.Hex(), err)
	}
	return q, nil
}

// ListOpen returns unresolved questions, newest first.
func (s *QuestionStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Question, error) {
	return s.list(ctx, `SELECT `+questionCols+` FROM questions WHERE resolved = FALSE`, opts)
}

// List returns all questions, newest first.
func (s *QuestionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Question, error) {
	return s.list(ctx, `SELECT `+questionCols+` FROM questions`, opts)
}

func (s *QuestionStore) list(ctx context.Context, query string, opts domain.ListOpts) ([]domain.Question, error) {
	query += " ORDER BY created_at DESC"
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list questions rows: %w", err)
	}
	return questions, nil
}

// scanQuestion scans a single question row into a domain.Question.
func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q            domain.Question
		questionID   string
		conditionID  string
		poolID       string
		payouts      []string
		proposalTime *time.Time
	)
	err := row.Scan(
		&questionID, &conditionID, &poolID,
		&q.EndTime, &q.OutcomeSlotCount,
		&payouts, &proposalTime, &q.AnswerCID,
		&q.Resolved, &q.CreatedAt,
	)
	if err != nil {
		return domain.Question{}, err
	}
	q.QuestionID = common.HexToHash(questionID)
	q.ConditionID = common.HexToHash(conditionID)
	q.PoolID = common.HexToAddress(poolID)
	if proposalTime != nil {
		q.ProposalTime = *proposalTime
	}
	q.ProposedPayouts, err = payoutsFromStrings(payouts)
	if err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

// payoutsToStrings encodes payout numerators as a decimal string array so the
// column round-trips arbitrary-precision values.
func payoutsToStrings(payouts []*big.Int) []string {
	if len(payouts) == 0 {
		return nil
	}
	out := make([]string, len(payouts))
	for i, p := range payouts {
		out[i] = p.String()
	}
	return out
}

func payoutsFromStrings(raw []string) ([]*big.Int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]*big.Int, len(raw))
	for i, s := range raw {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: bad payout numerator %q", s)
		}
		out[i] = v
	}
	return out, nil
}
