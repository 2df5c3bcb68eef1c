package meetings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/storage"
)

type memberRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Role      string    `db:"role"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

func (r memberRow) toModel() models.Member {
	return models.Member{ID: r.ID, Name: r.Name, Role: r.Role, Email: r.Email, CreatedAt: r.CreatedAt}
}

// MemberInput describes a club member.
type MemberInput struct {
	Name  string
	Role  string
	Email string
}

func (in *MemberInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Role = strings.TrimSpace(in.Role)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" {
		return fmt.Errorf("%w: member name is required", models.ErrInvalidInput)
	}
	if in.Role == "" {
		in.Role = "Member"
	}
	return nil
}

func (s *Store) CreateMember(ctx context.Context, in MemberInput) (*models.Member, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	now := s.now()
	id, err := storage.InsertID(ctx, s.db,
		`INSERT INTO members (name, role, email, created_at) VALUES (?, ?, ?, ?)`,
		in.Name, in.Role, in.Email, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}
	return &models.Member{ID: id, Name: in.Name, Role: in.Role, Email: in.Email, CreatedAt: now}, nil
}

// ListMembers returns every member sorted by name.
func (s *Store) ListMembers(ctx context.Context) ([]models.Member, error) {
	var rows []memberRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, role, email, created_at FROM members ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]models.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) UpdateMember(ctx context.Context, memberID int64, in MemberInput) (*models.Member, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE members SET name = ?, role = ?, email = ? WHERE id = ?`),
		in.Name, in.Role, in.Email, memberID)
	if err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("member %w", models.ErrNotFound)
	}
	var r memberRow
	if err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT id, name, role, email, created_at FROM members WHERE id = ?`), memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("reload member: %w", err)
	}
	m := r.toModel()
	return &m, nil
}

// DeleteMember removes the member and strikes it from every attendance list.
func (s *Store) DeleteMember(ctx context.Context, memberID int64) error {
	var touched []int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM members WHERE id = ?`), memberID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("member %w", models.ErrNotFound)
		}
		var rows []struct {
			ID         int64          `db:"id"`
			Attendance sql.NullString `db:"attendance"`
		}
		if err := tx.SelectContext(ctx, &rows, `SELECT id, attendance FROM meetings WHERE attendance IS NOT NULL`); err != nil {
			return fmt.Errorf("scan attendance: %w", err)
		}
		for _, row := range rows {
			var ids []int64
			if row.Attendance.String == "" {
				continue
			}
			if err := json.Unmarshal([]byte(row.Attendance.String), &ids); err != nil {
				return fmt.Errorf("decode attendance of meeting %d: %w", row.ID, err)
			}
			kept := ids[:0]
			for _, id := range ids {
				if id != memberID {
					kept = append(kept, id)
				}
			}
			if len(kept) == len(ids) {
				continue
			}
			raw, err := json.Marshal(kept)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE meetings SET attendance = ? WHERE id = ?`), string(raw), row.ID); err != nil {
				return fmt.Errorf("update attendance of meeting %d: %w", row.ID, err)
			}
			touched = append(touched, row.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range touched {
		s.invalidateStatus(ctx, id)
	}
	return nil
}

// MembersByIDs loads the given members, in the order of ids; unknown ids are skipped.
func (s *Store) MembersByIDs(ctx context.Context, ids []int64) ([]models.Member, error) {
	if len(ids) == 0 {
		return []models.Member{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, role, email, created_at FROM members WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}
	var rows []memberRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	byID := make(map[int64]memberRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]models.Member, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r.toModel())
		}
	}
	return out, nil
}
