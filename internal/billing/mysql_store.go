package billing

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) SaveBillLine(ctx context.Context, line *BillLine) error {
	query := `
        INSERT INTO bill_lines (owner, auction_id, final_price, fixed_fee, variant_fee, charged_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		line.Owner, line.AuctionID, line.FinalPrice,
		line.FixedFee, line.VariantFee, line.ChargedAt)
	return err
}

func (s *MySQLStore) BillForOwner(ctx context.Context, owner string) ([]*BillLine, error) {
	query := `
        SELECT owner, auction_id, final_price, fixed_fee, variant_fee, charged_at
        FROM bill_lines WHERE owner = ? ORDER BY charged_at
    `

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*BillLine
	for rows.Next() {
		var line BillLine
		err := rows.Scan(&line.Owner, &line.AuctionID, &line.FinalPrice,
			&line.FixedFee, &line.VariantFee, &line.ChargedAt)
		if err != nil {
			return nil, err
		}
		lines = append(lines, &line)
	}

	return lines, rows.Err()
}
