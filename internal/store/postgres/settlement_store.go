package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predictlabs/marketcore/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementCols = `id, question_id, account, amount, kind, created_at`

// Insert appends one settlement record. A missing id is assigned here.
func (s *SettlementStore) Insert(ctx context.Context, st domain.Settlement) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	amount := "0"
	if st.Amount != nil {
		amount = st.Amount.String()
	}

	const query = `
		INSERT INTO settlements (id, question_id, account, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		st.ID, st.QuestionID.Hex(), st.Account.Hex(), amount, st.Kind, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", st.ID, err)
	}
	return nil
}

// ListByQuestion returns settlements for one question, newest first.
func (s *SettlementStore) ListByQuestion(ctx context.Context, questionID common.Hash, opts domain.ListOpts) ([]domain.Settlement, error) {
	return s.list(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE question_id = $1`,
		[]any{questionID.Hex()}, opts)
}

// ListByAccount returns settlements paid to one account, newest first.
func (s *SettlementStore) ListByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Settlement, error) {
	return s.list(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE account = $1`,
		[]any{account.Hex()}, opts)
}

func (s *SettlementStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Settlement, error) {
	query += " ORDER BY created_at DESC"
	argIdx := len(args) + 1

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
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return settlements, nil
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		st         domain.Settlement
		questionID string
		account    string
		amount     string
	)
	err := row.Scan(&st.ID, &questionID, &account, &amount, &st.Kind, &st.CreatedAt)
	if err != nil {
		return domain.Settlement{}, err
	}
	st.QuestionID = common.HexToHash(questionID)
	st.Account = common.HexToAddress(account)
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return domain.Settlement{}, fmt.Errorf("postgres: bad settlement amount %q", amount)
	}
	st.Amount = v
	return st, nil
}
