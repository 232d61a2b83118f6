package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/util"
	"go.uber.org/zap"
)

var _ persistence.FlowStore = new(postgresFlowStore)

type postgresFlowStore struct {
	db             *sql.DB
	encoderDecoder util.EncoderDecoder[model.Flow]
}

func NewPostgresFlowStore(db *sql.DB) *postgresFlowStore {
	return &postgresFlowStore{
		db:             db,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Flow](),
	}
}

func (s *postgresFlowStore) SaveFlow(ctx context.Context, fl *model.Flow) error {
	data, err := s.encoderDecoder.Encode(*fl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drip_flows (id, name, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at`,
		fl.Id, fl.Name, string(data), fl.CreatedAt, fl.UpdatedAt)
	if err != nil {
		return storageError("error in saving flow", err, zap.String("flow", fl.Id))
	}
	return nil
}

func (s *postgresFlowStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM drip_flows WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrFlowNotFound
	}
	if err != nil {
		return nil, storageError("error in getting flow", err, zap.String("flow", id))
	}
	return s.encoderDecoder.Decode(data)
}

func (s *postgresFlowStore) ListFlows(ctx context.Context) ([]model.FlowSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, updated_at FROM drip_flows ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storageError("error in listing flows", err)
	}
	defer rows.Close()
	res := make([]model.FlowSummary, 0)
	for rows.Next() {
		var summary model.FlowSummary
		if err := rows.Scan(&summary.Id, &summary.Name, &summary.UpdatedAt); err != nil {
			return nil, storageError("error in listing flows", err)
		}
		res = append(res, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error in listing flows", err)
	}
	return res, nil
}

func (s *postgresFlowStore) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drip_flows WHERE id = $1`, id)
	if err != nil {
		return storageError("error in deleting flow", err, zap.String("flow", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError("error in deleting flow", err, zap.String("flow", id))
	}
	if n == 0 {
		return persistence.ErrFlowNotFound
	}
	return nil
}
