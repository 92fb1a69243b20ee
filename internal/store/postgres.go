package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, nameHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, name_hash)
		VALUES ($1, $2, $3)
		RETURNING id, name, email, name_hash, created_at
	`, name, email, nameHash).Scan(&user.ID, &user.Name, &user.Email, &user.NameHash, &user.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return User{}, err
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, name_hash, created_at FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.NameHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, name_hash, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.NameHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user User) (User, error) {
	var updated User
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET name=$2, email=$3, name_hash=$4
		WHERE id=$1
		RETURNING id, name, email, name_hash, created_at
	`, user.ID, user.Name, user.Email, user.NameHash).Scan(
		&updated.ID, &updated.Name, &updated.Email, &updated.NameHash, &updated.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) || errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

// ── Sessions (fallback backend when Redis is not configured) ──

func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM sessions WHERE token_hash=$1 AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// ── Boards ──

func (s *PostgresStore) ListBoards(ctx context.Context, userID int64) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, created_at
		FROM boards
		WHERE user_id=$1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID int64) (Board, error) {
	var item Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, created_at FROM boards WHERE id=$1
	`, boardID).Scan(&item.ID, &item.UserID, &item.Title, &item.Description, &item.CreatedAt)
	if err != nil {
		return Board{}, err
	}
	return item, nil
}

// CreateBoard inserts a board and, when withDefaults is set, seeds the five
// system lists at positions 1..5 inside the same transaction.
func (s *PostgresStore) CreateBoard(ctx context.Context, userID int64, title, description string, withDefaults bool) (Board, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Board{}, fmt.Errorf("begin create board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var board Board
	err = tx.QueryRowContext(ctx, `
		INSERT INTO boards (user_id, title, description)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, title, description, created_at
	`, userID, title, description).Scan(&board.ID, &board.UserID, &board.Title, &board.Description, &board.CreatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}

	if withDefaults {
		for i, name := range ProtectedListTitles {
			var list List
			err := tx.QueryRowContext(ctx, `
				INSERT INTO lists (board_id, title, position)
				VALUES ($1, $2, $3)
				RETURNING id, board_id, title, position, created_at
			`, board.ID, name, i+1).Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt)
			if err != nil {
				return Board{}, fmt.Errorf("seed list %q: %w", name, err)
			}
			board.Lists = append(board.Lists, list)
		}
	}

	if err := tx.Commit(); err != nil {
		return Board{}, fmt.Errorf("commit create board: %w", err)
	}
	return board, nil
}

// GetBoardTree loads a board with its lists and their tasks, both ordered by
// (position, id). Position ties are broken by id for display only.
func (s *PostgresStore) GetBoardTree(ctx context.Context, boardID int64) (Board, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return Board{}, err
	}

	listRows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position, created_at
		FROM lists
		WHERE board_id=$1
		ORDER BY position, id
	`, boardID)
	if err != nil {
		return Board{}, fmt.Errorf("load lists: %w", err)
	}
	defer listRows.Close()

	lists := make([]List, 0)
	index := map[int64]int{}
	for listRows.Next() {
		var list List
		if err := listRows.Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt); err != nil {
			return Board{}, fmt.Errorf("scan list: %w", err)
		}
		list.Tasks = make([]Task, 0)
		index[list.ID] = len(lists)
		lists = append(lists, list)
	}
	if err := listRows.Err(); err != nil {
		return Board{}, fmt.Errorf("iterate lists: %w", err)
	}

	taskRows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.description, t.position, t.priority, t.created_at, t.due_date
		FROM tasks t
		JOIN lists l ON l.id = t.list_id
		WHERE l.board_id=$1
		ORDER BY t.position, t.id
	`, boardID)
	if err != nil {
		return Board{}, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var task Task
		if err := taskRows.Scan(&task.ID, &task.ListID, &task.Title, &task.Description, &task.Position, &task.Priority, &task.CreatedAt, &task.DueDate); err != nil {
			return Board{}, fmt.Errorf("scan task: %w", err)
		}
		if i, ok := index[task.ListID]; ok {
			lists[i].Tasks = append(lists[i].Tasks, task)
		}
	}
	if err := taskRows.Err(); err != nil {
		return Board{}, fmt.Errorf("iterate tasks: %w", err)
	}

	board.Lists = lists
	return board, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, board Board) (Board, error) {
	var updated Board
	err := s.db.QueryRowContext(ctx, `
		UPDATE boards
		SET title=$2, description=$3
		WHERE id=$1
		RETURNING id, user_id, title, description, created_at
	`, board.ID, board.Title, board.Description).Scan(
		&updated.ID, &updated.UserID, &updated.Title, &updated.Description, &updated.CreatedAt)
	if err != nil {
		return Board{}, err
	}
	return updated, nil
}

// DeleteBoard removes a board and all of its lists and tasks in one
// transaction, children first. Returns the ids of the deleted tasks so callers
// can propagate the removal to the search index.
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete board: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	taskIDs, err := collectIDs(tx.QueryContext(ctx, `
		DELETE FROM tasks
		WHERE list_id IN (SELECT id FROM lists WHERE board_id=$1)
		RETURNING id
	`, boardID))
	if err != nil {
		return nil, fmt.Errorf("delete board tasks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE board_id=$1`, boardID); err != nil {
		return nil, fmt.Errorf("delete board lists: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID); err != nil {
		return nil, fmt.Errorf("delete board: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete board: %w", err)
	}
	return taskIDs, nil
}

// ── Lists ──

// GetListWithOwner loads a list together with the id of the user owning its
// enclosing board. Used by the ownership gate.
func (s *PostgresStore) GetListWithOwner(ctx context.Context, listID int64) (List, int64, error) {
	var list List
	var ownerID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.board_id, l.title, l.position, l.created_at, b.user_id
		FROM lists l
		JOIN boards b ON b.id = l.board_id
		WHERE l.id=$1
	`, listID).Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt, &ownerID)
	if err != nil {
		return List{}, 0, err
	}
	return list, ownerID, nil
}

// CreateList inserts a list. A nil position means "append": the next position
// is computed as max(sibling positions)+1 while holding a row lock on the
// board, so two concurrent appends cannot race the read-then-write.
func (s *PostgresStore) CreateList(ctx context.Context, boardID int64, title string, position *int) (List, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return List{}, fmt.Errorf("begin create list: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, boardID).Scan(&lockedID); err != nil {
		return List{}, err
	}

	pos := 0
	if position != nil {
		pos = *position
	} else {
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM lists WHERE board_id=$1
		`, boardID).Scan(&pos); err != nil {
			return List{}, fmt.Errorf("next list position: %w", err)
		}
	}

	var list List
	err = tx.QueryRowContext(ctx, `
		INSERT INTO lists (board_id, title, position)
		VALUES ($1, $2, $3)
		RETURNING id, board_id, title, position, created_at
	`, boardID, title, pos).Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt)
	if err != nil {
		return List{}, fmt.Errorf("insert list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return List{}, fmt.Errorf("commit create list: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) UpdateList(ctx context.Context, list List) (List, error) {
	var updated List
	err := s.db.QueryRowContext(ctx, `
		UPDATE lists
		SET title=$2, position=$3
		WHERE id=$1
		RETURNING id, board_id, title, position, created_at
	`, list.ID, list.Title, list.Position).Scan(
		&updated.ID, &updated.BoardID, &updated.Title, &updated.Position, &updated.CreatedAt)
	if err != nil {
		return List{}, err
	}
	return updated, nil
}

// DeleteList removes a list and its tasks in one transaction. The
// protected-title rule is enforced by the service layer before this is called.
func (s *PostgresStore) DeleteList(ctx context.Context, listID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete list: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	taskIDs, err := collectIDs(tx.QueryContext(ctx, `DELETE FROM tasks WHERE list_id=$1 RETURNING id`, listID))
	if err != nil {
		return nil, fmt.Errorf("delete list tasks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID); err != nil {
		return nil, fmt.Errorf("delete list: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete list: %w", err)
	}
	return taskIDs, nil
}

// ── Tasks ──

// GetTaskWithOwner loads a task together with the id of the user owning the
// board that encloses its list.
func (s *PostgresStore) GetTaskWithOwner(ctx context.Context, taskID int64) (Task, int64, error) {
	var task Task
	var ownerID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.description, t.position, t.priority, t.created_at, t.due_date, b.user_id
		FROM tasks t
		JOIN lists l ON l.id = t.list_id
		JOIN boards b ON b.id = l.board_id
		WHERE t.id=$1
	`, taskID).Scan(&task.ID, &task.ListID, &task.Title, &task.Description, &task.Position, &task.Priority, &task.CreatedAt, &task.DueDate, &ownerID)
	if err != nil {
		return Task{}, 0, err
	}
	return task, ownerID, nil
}

// CreateTask inserts a task. A nil position appends, using the same
// lock-then-max scheme as CreateList, scoped to the list.
func (s *PostgresStore) CreateTask(ctx context.Context, listID int64, title, description, priority string, position *int, dueDate *time.Time) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM lists WHERE id=$1 FOR UPDATE`, listID).Scan(&lockedID); err != nil {
		return Task{}, err
	}

	pos := 0
	if position != nil {
		pos = *position
	} else {
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM tasks WHERE list_id=$1
		`, listID).Scan(&pos); err != nil {
			return Task{}, fmt.Errorf("next task position: %w", err)
		}
	}

	var task Task
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tasks (list_id, title, description, position, priority, due_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, list_id, title, description, position, priority, created_at, due_date
	`, listID, title, description, pos, priority, dueDate).Scan(
		&task.ID, &task.ListID, &task.Title, &task.Description, &task.Position, &task.Priority, &task.CreatedAt, &task.DueDate)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit create task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	var updated Task
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET list_id=$2, title=$3, description=$4, position=$5, priority=$6, due_date=$7
		WHERE id=$1
		RETURNING id, list_id, title, description, position, priority, created_at, due_date
	`, task.ID, task.ListID, task.Title, task.Description, task.Position, task.Priority, task.DueDate).Scan(
		&updated.ID, &updated.ListID, &updated.Title, &updated.Description, &updated.Position, &updated.Priority, &updated.CreatedAt, &updated.DueDate)
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func collectIDs(rows *sql.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
