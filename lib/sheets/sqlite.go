package sheets

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sheet_rows (
	sheet_id TEXT NOT NULL,
	row_num INTEGER NOT NULL,
	cells TEXT NOT NULL,
	PRIMARY KEY (sheet_id, row_num)
);
`

// SqliteBackend keeps sheets in a local database. It backs offline
// runs and tests, the reconciler drives it through the same Backend
// contract as the remote client.
type SqliteBackend struct {
	db *sql.DB
}

func NewSqliteBackend(db *sql.DB) (*SqliteBackend, error) {
	_, err := db.Exec(sqliteSchema)
	if err != nil {
		return nil, err
	}
	return &SqliteBackend{db: db}, nil
}

func OpenSqlite(path string) (*SqliteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSqliteBackend(db)
}

func (b *SqliteBackend) Close() error {
	return b.db.Close()
}

// ReadRows returns the whole tab in row order. The range argument only
// selects the starting row, a local sheet has no meaningful width.
func (b *SqliteBackend) ReadRows(ctx context.Context, sheetId string, readRange string) ([]Row, error) {
	firstRow := firstRowOfRange(readRange)
	rows, err := b.db.QueryContext(ctx, `
		SELECT row_num, cells FROM sheet_rows
		WHERE sheet_id = ? AND row_num >= ?
		ORDER BY row_num
	`, sheetId, firstRow)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var rowNum int
		var cellsJson string
		if err := rows.Scan(&rowNum, &cellsJson); err != nil {
			return nil, err
		}
		var cells []string
		if err := json.Unmarshal([]byte(cellsJson), &cells); err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		out = append(out, Row{Ref: RowRef(rowNum), Cells: cells})
	}
	return out, rows.Err()
}

func (b *SqliteBackend) AppendRows(ctx context.Context, sheetId string, newRows [][]string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(row_num) FROM sheet_rows WHERE sheet_id = ?`, sheetId,
	).Scan(&last)
	if err != nil {
		return err
	}

	next := int(last.Int64) + 1
	for i, cells := range newRows {
		cellsJson, err := json.Marshal(cells)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sheet_rows (sheet_id, row_num, cells) VALUES (?, ?, ?)
		`, sheetId, next+i, string(cellsJson))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SqliteBackend) UpdateRows(ctx context.Context, sheetId string, refs []RowRef, newRows [][]string) error {
	if len(refs) != len(newRows) {
		return fmt.Errorf("refs/rows length mismatch: %d != %d", len(refs), len(newRows))
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, cells := range newRows {
		cellsJson, err := json.Marshal(cells)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE sheet_rows SET cells = ? WHERE sheet_id = ? AND row_num = ?
		`, string(cellsJson), sheetId, int(refs[i]))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("row %d does not exist", refs[i])
		}
	}
	return tx.Commit()
}
