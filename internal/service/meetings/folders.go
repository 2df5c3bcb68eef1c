package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/storage"
)

type folderRow struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) CreateFolder(ctx context.Context, ownerID int64, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", models.ErrInvalidInput)
	}
	now := s.now()
	id, err := storage.InsertID(ctx, s.db,
		`INSERT INTO folders (user_id, name, created_at) VALUES (?, ?, ?)`,
		ownerID, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return &models.Folder{ID: id, UserID: ownerID, Name: name, CreatedAt: now}, nil
}

func (s *Store) ListFolders(ctx context.Context, ownerID int64) ([]*models.Folder, error) {
	var rows []folderRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT id, user_id, name, created_at FROM folders WHERE user_id = ? ORDER BY name, id`),
		ownerID,
	); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	out := make([]*models.Folder, 0, len(rows))
	for _, r := range rows {
		out = append(out, &models.Folder{ID: r.ID, UserID: r.UserID, Name: r.Name, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *Store) RenameFolder(ctx context.Context, ownerID, folderID int64, name string) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", models.ErrInvalidInput)
	}
	if err := s.checkFolder(ctx, s.db, ownerID, folderID); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE folders SET name = ? WHERE id = ? AND user_id = ?`), name, folderID, ownerID); err != nil {
		return nil, fmt.Errorf("rename folder: %w", err)
	}
	var r folderRow
	if err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT id, user_id, name, created_at FROM folders WHERE id = ?`), folderID); err != nil {
		return nil, fmt.Errorf("reload folder: %w", err)
	}
	return &models.Folder{ID: r.ID, UserID: r.UserID, Name: r.Name, CreatedAt: r.CreatedAt}, nil
}

// DeleteFolder removes the folder and unlinks, never deletes, its meetings.
// It returns how many meetings were unlinked.
func (s *Store) DeleteFolder(ctx context.Context, ownerID, folderID int64) (int64, error) {
	var unlinked int64
	var touched []int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkFolder(ctx, tx, ownerID, folderID); err != nil {
			return err
		}
		if err := tx.SelectContext(ctx, &touched,
			tx.Rebind(`SELECT id FROM meetings WHERE folder_id = ? AND user_id = ?`), folderID, ownerID); err != nil {
			return fmt.Errorf("find folder meetings: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE meetings SET folder_id = NULL, updated_at = ? WHERE folder_id = ? AND user_id = ?`),
			s.now(), folderID, ownerID)
		if err != nil {
			return fmt.Errorf("unlink meetings: %w", err)
		}
		unlinked, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM folders WHERE id = ? AND user_id = ?`), folderID, ownerID); err != nil {
			return fmt.Errorf("delete folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range touched {
		s.invalidateStatus(ctx, id)
	}
	return unlinked, nil
}

// checkFolder returns ErrNotFound for a missing folder and ErrUnauthorized for a foreign one.
func (s *Store) checkFolder(ctx context.Context, q sqlx.QueryerContext, ownerID, folderID int64) error {
	var owner int64
	query := sqlx.Rebind(sqlx.BindType(s.db.DriverName()), `SELECT user_id FROM folders WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &owner, query, folderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("folder %w", models.ErrNotFound)
		}
		return fmt.Errorf("load folder: %w", err)
	}
	if owner != ownerID {
		return models.ErrUnauthorized
	}
	return nil
}
