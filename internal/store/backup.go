package store

import (
	"context"
	"fmt"
)

// Bulk accessors and id-preserving inserts used by the backup service.

func (s *PostgresStore) ListAllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, name_hash, created_at FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list all users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.NameHash, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListAllBoards(ctx context.Context) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, created_at FROM boards ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list all boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Description, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListAllLists(ctx context.Context) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position, created_at FROM lists ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list all lists: %w", err)
	}
	defer rows.Close()

	items := make([]List, 0)
	for rows.Next() {
		var item List
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListAllTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, title, description, position, priority, created_at, due_date
		FROM tasks ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(&item.ID, &item.ListID, &item.Title, &item.Description, &item.Position, &item.Priority, &item.CreatedAt, &item.DueDate); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ImportUser inserts a user with its original id. Returns false when a row
// with that id already exists (import is idempotent).
func (s *PostgresStore) ImportUser(ctx context.Context, user User) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, name_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.Name, user.Email, user.NameHash, user.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("import user %d: %w", user.ID, err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) ImportBoard(ctx context.Context, board Board) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, user_id, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, board.ID, board.UserID, board.Title, board.Description, board.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("import board %d: %w", board.ID, err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) ImportList(ctx context.Context, list List) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO lists (id, board_id, title, position, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, list.ID, list.BoardID, list.Title, list.Position, list.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("import list %d: %w", list.ID, err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) ImportTask(ctx context.Context, task Task) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, list_id, title, description, position, priority, created_at, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, task.ID, task.ListID, task.Title, task.Description, task.Position, task.Priority, task.CreatedAt, task.DueDate)
	if err != nil {
		return false, fmt.Errorf("import task %d: %w", task.ID, err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// ResetSequences bumps the id sequences past the highest imported ids so
// subsequent inserts do not collide with restored rows.
func (s *PostgresStore) ResetSequences(ctx context.Context) error {
	for _, table := range []string{"users", "boards", "lists", "tasks"} {
		query := fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 1) FROM %s), 1))`,
			table, table,
		)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("reset sequence for %s: %w", table, err)
		}
	}
	return nil
}
