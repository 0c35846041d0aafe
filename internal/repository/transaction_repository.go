package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rpattn/folio/internal/db"
	"github.com/rpattn/folio/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `id, book_id, sequence, title, keywords, text_content, text_structured, paragraph, page,
	rating, remark, summary, conclusion, images, created_at, updated_at`

type transactionRepository struct {
	conn *db.Connection
}

// NewTransactionRepository wires a transaction repository. Writes run inside a
// database transaction so a row and its term links commit together.
func NewTransactionRepository(conn *db.Connection) TransactionRepository {
	return &transactionRepository{conn: conn}
}

func (r *transactionRepository) Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.Transaction{}, fmt.Errorf("transaction repository not initialized")
	}
	var created domain.Transaction
	err := r.conn.WithTx(ctx, func(dbTx pgx.Tx) error {
		text, structured := encodeText(tx.Text)
		row := dbTx.QueryRow(
			ctx,
			`INSERT INTO transactions (book_id, sequence, title, keywords, text_content, text_structured,
			     paragraph, page, rating, remark, summary, conclusion, images)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING `+transactionColumns,
			tx.BookID, tx.Sequence, tx.Title, tx.Keywords, text, structured,
			tx.Paragraph, tx.Page, nullableFloat(tx.Rating), tx.Remark, tx.Summary, tx.Conclusion, nonNilStrings(tx.Images),
		)
		var scanErr error
		created, scanErr = scanTransaction(row)
		if scanErr != nil {
			return scanErr
		}
		if linkErr := replaceLinks(ctx, dbTx, created.ID, tx); linkErr != nil {
			return linkErr
		}
		created.GenericTerms = append([]domain.TermRef(nil), tx.GenericTerms...)
		created.SpecificTerms = append([]domain.TermRef(nil), tx.SpecificTerms...)
		return nil
	})
	if err != nil {
		return domain.Transaction{}, wrapError("create transaction", err)
	}
	return created, nil
}

func (r *transactionRepository) Update(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.Transaction{}, fmt.Errorf("transaction repository not initialized")
	}
	var updated domain.Transaction
	err := r.conn.WithTx(ctx, func(dbTx pgx.Tx) error {
		text, structured := encodeText(tx.Text)
		row := dbTx.QueryRow(
			ctx,
			`UPDATE transactions
			 SET sequence = $2, title = $3, keywords = $4, text_content = $5, text_structured = $6,
			     paragraph = $7, page = $8, rating = $9, remark = $10, summary = $11, conclusion = $12,
			     images = $13, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+transactionColumns,
			tx.ID, tx.Sequence, tx.Title, tx.Keywords, text, structured,
			tx.Paragraph, tx.Page, nullableFloat(tx.Rating), tx.Remark, tx.Summary, tx.Conclusion, nonNilStrings(tx.Images),
		)
		var scanErr error
		updated, scanErr = scanTransaction(row)
		if scanErr != nil {
			return scanErr
		}
		if linkErr := replaceLinks(ctx, dbTx, updated.ID, tx); linkErr != nil {
			return linkErr
		}
		updated.GenericTerms = append([]domain.TermRef(nil), tx.GenericTerms...)
		updated.SpecificTerms = append([]domain.TermRef(nil), tx.SpecificTerms...)
		return nil
	})
	if err != nil {
		return domain.Transaction{}, wrapError("update transaction", err)
	}
	return updated, nil
}

func (r *transactionRepository) ListByBook(ctx context.Context, bookID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return nil, fmt.Errorf("transaction repository not initialized")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE book_id = $1`
	args := []any{bookID}
	if filter.TermID != nil {
		args = append(args, *filter.TermID)
		query += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM transaction_terms tt WHERE tt.transaction_id = transactions.id AND tt.term_id = $%d)`, len(args))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, strings.ToLower(search))
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses := make([]string, 0, 6)
		for _, column := range []string{"title", "keywords", "text_content", "summary", "conclusion", "remark"} {
			clauses = append(clauses, fmt.Sprintf("position(%s in lower(%s)) > 0", placeholder, column))
		}
		query += ` AND (` + strings.Join(clauses, " OR ") + `)`
	}
	query += ` ORDER BY sequence`

	rows, err := r.conn.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("list transactions", err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	index := map[uuid.UUID]int{}
	ids := []uuid.UUID{}
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		index[tx.ID] = len(transactions)
		ids = append(ids, tx.ID)
		transactions = append(transactions, tx)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", rowsErr)
	}
	if len(ids) == 0 {
		return transactions, nil
	}

	links, err := r.conn.Pool.Query(
		ctx,
		`SELECT tt.transaction_id, tt.kind, t.id, t.name
		 FROM transaction_terms tt
		 JOIN terms t ON t.id = tt.term_id
		 WHERE tt.transaction_id = ANY($1)
		 ORDER BY tt.transaction_id, tt.kind, tt.position`,
		ids,
	)
	if err != nil {
		return nil, wrapError("list transaction terms", err)
	}
	defer links.Close()
	for links.Next() {
		var (
			txID uuid.UUID
			kind string
			ref  domain.TermRef
		)
		if scanErr := links.Scan(&txID, &kind, &ref.ID, &ref.Name); scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction term: %w", scanErr)
		}
		i, ok := index[txID]
		if !ok {
			continue
		}
		if domain.TermKind(kind) == domain.TermKindSpecific {
			transactions[i].SpecificTerms = append(transactions[i].SpecificTerms, ref)
		} else {
			transactions[i].GenericTerms = append(transactions[i].GenericTerms, ref)
		}
	}
	if linksErr := links.Err(); linksErr != nil {
		return nil, fmt.Errorf("failed to iterate transaction terms: %w", linksErr)
	}
	return transactions, nil
}

func replaceLinks(ctx context.Context, dbTx pgx.Tx, transactionID uuid.UUID, tx domain.Transaction) error {
	if _, err := dbTx.Exec(ctx, `DELETE FROM transaction_terms WHERE transaction_id = $1`, transactionID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	queue := func(kind domain.TermKind, refs []domain.TermRef) {
		for position, ref := range refs {
			batch.Queue(
				`INSERT INTO transaction_terms (transaction_id, term_id, kind, position)
				 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
				transactionID, ref.ID, string(kind), position,
			)
		}
	}
	queue(domain.TermKindGeneric, tx.GenericTerms)
	queue(domain.TermKindSpecific, tx.SpecificTerms)
	if batch.Len() == 0 {
		return nil
	}
	return dbTx.SendBatch(ctx, batch).Close()
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx         domain.Transaction
		text       string
		structured bool
		rating     pgtype.Float8
		images     []string
	)
	err := row.Scan(
		&tx.ID,
		&tx.BookID,
		&tx.Sequence,
		&tx.Title,
		&tx.Keywords,
		&text,
		&structured,
		&tx.Paragraph,
		&tx.Page,
		&rating,
		&tx.Remark,
		&tx.Summary,
		&tx.Conclusion,
		&images,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Text = decodeText(text, structured)
	if rating.Valid {
		value := rating.Float64
		tx.Rating = &value
	}
	tx.Images = nonNilStrings(images)
	tx.GenericTerms = []domain.TermRef{}
	tx.SpecificTerms = []domain.TermRef{}
	return tx, nil
}

func encodeText(text domain.LocalizedText) (string, bool) {
	return text.String(), text.Structured()
}

func decodeText(text string, structured bool) domain.LocalizedText {
	if !structured {
		return domain.PlainText(text)
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(text), &values); err != nil || len(values) == 0 {
		return domain.PlainText(text)
	}
	return domain.LocalizedText{Values: values}
}

func nullableFloat(value *float64) pgtype.Float8 {
	if value == nil {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: *value, Valid: true}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
