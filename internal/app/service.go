// Package app wires the identity, board, search and backup features into one
// service and exposes them over HTTP.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pinboard/api/internal/backup"
	"pinboard/api/internal/config"
	"pinboard/api/internal/identity"
	"pinboard/api/internal/search"
	"pinboard/api/internal/session"
	"pinboard/api/internal/store"
)

// dataStore is the slice of the storage layer the service depends on.
type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID int64) (store.User, error)

	ListBoards(ctx context.Context, userID int64) ([]store.Board, error)
	GetBoard(ctx context.Context, boardID int64) (store.Board, error)
	GetBoardTree(ctx context.Context, boardID int64) (store.Board, error)
	CreateBoard(ctx context.Context, userID int64, title, description string, withDefaults bool) (store.Board, error)
	UpdateBoard(ctx context.Context, board store.Board) (store.Board, error)
	DeleteBoard(ctx context.Context, boardID int64) ([]int64, error)

	GetListWithOwner(ctx context.Context, listID int64) (store.List, int64, error)
	CreateList(ctx context.Context, boardID int64, title string, position *int) (store.List, error)
	UpdateList(ctx context.Context, list store.List) (store.List, error)
	DeleteList(ctx context.Context, listID int64) ([]int64, error)

	GetTaskWithOwner(ctx context.Context, taskID int64) (store.Task, int64, error)
	CreateTask(ctx context.Context, listID int64, title, description, priority string, position *int, dueDate *time.Time) (store.Task, error)
	UpdateTask(ctx context.Context, task store.Task) (store.Task, error)
	DeleteTask(ctx context.Context, taskID int64) error

	ListAllUsers(ctx context.Context) ([]store.User, error)
	ListAllBoards(ctx context.Context) ([]store.Board, error)
	ListAllLists(ctx context.Context) ([]store.List, error)
	ListAllTasks(ctx context.Context) ([]store.Task, error)
	ImportUser(ctx context.Context, user store.User) (bool, error)
	ImportBoard(ctx context.Context, board store.Board) (bool, error)
	ImportList(ctx context.Context, list store.List) (bool, error)
	ImportTask(ctx context.Context, task store.Task) (bool, error)
	ResetSequences(ctx context.Context) error
}

// SessionBackend abstracts the session backend. Redis when configured, the
// Postgres sessions table otherwise.
type SessionBackend interface {
	SaveSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (int64, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

// identityService is the slice of the identity package the service uses.
type identityService interface {
	Register(ctx context.Context, name, email string) (store.User, error)
	Authenticate(ctx context.Context, email, name string) (store.User, error)
	UpdateProfile(ctx context.Context, userID int64, newName, newEmail *string) (store.User, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionBackend
	identity identityService
	search   *search.Service
	uploader *backup.Uploader
}

// New builds the service. search and uploader may be nil when those backends
// are not configured.
func New(cfg config.Config, st dataStore, sessions SessionBackend, ident identityService, searchSvc *search.Service, uploader *backup.Uploader) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		identity: ident,
		search:   searchSvc,
		uploader: uploader,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Identity and sessions ──

// LoginResult carries the opaque session token handed to the client. Only a
// hash of the token is ever stored.
type LoginResult struct {
	Token     string     `json:"token"`
	User      store.User `json:"user"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (s *Service) Register(ctx context.Context, name, email string) (store.User, error) {
	user, err := s.identity.Register(ctx, name, email)
	if err != nil {
		return store.User{}, s.mapIdentityError(err)
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, name string) (LoginResult, error) {
	user, err := s.identity.Authenticate(ctx, email, name)
	if err != nil {
		return LoginResult{}, s.mapIdentityError(err)
	}

	token, err := session.NewToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	if err := s.sessions.SaveSession(ctx, session.HashToken(token), user.ID, expiresAt); err != nil {
		return LoginResult{}, fmt.Errorf("save session: %w", err)
	}

	return LoginResult{Token: token, User: user, ExpiresAt: expiresAt}, nil
}

// Logout revokes the session. Unknown tokens are not an error: the end state
// is the same.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, session.HashToken(token))
}

// SessionUser resolves an opaque token to its user. Any failure along the way
// is Unauthorized; the caller learns nothing about why.
func (s *Service) SessionUser(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, errUnauthorized()
	}

	userID, err := s.sessions.LookupSession(ctx, session.HashToken(token))
	if err != nil {
		return store.User{}, errUnauthorized()
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, errUnauthorized()
	}
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID int64, newName, newEmail *string) (store.User, error) {
	user, err := s.identity.UpdateProfile(ctx, userID, newName, newEmail)
	if err != nil {
		return store.User{}, s.mapIdentityError(err)
	}
	return user, nil
}

func (s *Service) mapIdentityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrConflict):
		return errConflict("Name or email already taken")
	case errors.Is(err, identity.ErrNotFound):
		return errNotFound()
	case errors.Is(err, identity.ErrInvalidCredentials):
		return errUnauthorized()
	case errors.Is(err, identity.ErrMissingFields):
		return errValidation(err.Error())
	default:
		return err
	}
}

// ── Boards ──

type CreateBoardInput struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	WithDefaultLists bool   `json:"with_default_lists"`
}

type UpdateBoardInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *Service) ListBoards(ctx context.Context, user store.User) ([]store.Board, error) {
	return s.store.ListBoards(ctx, user.ID)
}

func (s *Service) CreateBoard(ctx context.Context, user store.User, input CreateBoardInput) (store.Board, error) {
	if input.Title == "" {
		return store.Board{}, errValidation("title is required")
	}

	board, err := s.store.CreateBoard(ctx, user.ID, input.Title, input.Description, input.WithDefaultLists)
	if err != nil {
		return store.Board{}, err
	}
	s.indexBoard(board)
	return board, nil
}

// GetBoard returns the board with its lists and tasks, ordered by (position,
// id).
func (s *Service) GetBoard(ctx context.Context, user store.User, boardID int64) (store.Board, error) {
	if _, err := s.ownedBoard(ctx, user, boardID); err != nil {
		return store.Board{}, err
	}
	board, err := s.store.GetBoardTree(ctx, boardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Board{}, errNotFound()
		}
		return store.Board{}, err
	}
	return board, nil
}

func (s *Service) UpdateBoard(ctx context.Context, user store.User, boardID int64, input UpdateBoardInput) (store.Board, error) {
	board, err := s.ownedBoard(ctx, user, boardID)
	if err != nil {
		return store.Board{}, err
	}

	if input.Title != nil {
		if *input.Title == "" {
			return store.Board{}, errValidation("title cannot be empty")
		}
		board.Title = *input.Title
	}
	if input.Description != nil {
		board.Description = *input.Description
	}

	updated, err := s.store.UpdateBoard(ctx, board)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Board{}, errNotFound()
		}
		return store.Board{}, err
	}
	s.indexBoard(updated)
	return updated, nil
}

func (s *Service) DeleteBoard(ctx context.Context, user store.User, boardID int64) error {
	if _, err := s.ownedBoard(ctx, user, boardID); err != nil {
		return err
	}

	taskIDs, err := s.store.DeleteBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteBoard(boardID)
		s.search.DeleteTasks(taskIDs)
	}
	return nil
}

// ownedBoard is the ownership gate for boards. A missing board and a board
// owned by someone else are the same NotFound.
func (s *Service) ownedBoard(ctx context.Context, user store.User, boardID int64) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Board{}, errNotFound()
		}
		return store.Board{}, err
	}
	if board.UserID != user.ID {
		return store.Board{}, errNotFound()
	}
	return board, nil
}

// ── Lists ──

type CreateListInput struct {
	BoardID  int64  `json:"board_id"`
	Title    string `json:"title"`
	Position *int   `json:"position"`
}

type UpdateListInput struct {
	Title    *string `json:"title"`
	Position *int    `json:"position"`
}

func (s *Service) CreateList(ctx context.Context, user store.User, input CreateListInput) (store.List, error) {
	if input.Title == "" {
		return store.List{}, errValidation("title is required")
	}
	if _, err := s.ownedBoard(ctx, user, input.BoardID); err != nil {
		return store.List{}, err
	}

	list, err := s.store.CreateList(ctx, input.BoardID, input.Title, input.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound()
		}
		return store.List{}, err
	}
	return list, nil
}

func (s *Service) UpdateList(ctx context.Context, user store.User, listID int64, input UpdateListInput) (store.List, error) {
	list, err := s.ownedList(ctx, user, listID)
	if err != nil {
		return store.List{}, err
	}

	if input.Title != nil {
		if *input.Title == "" {
			return store.List{}, errValidation("title cannot be empty")
		}
		list.Title = *input.Title
	}
	if input.Position != nil {
		list.Position = *input.Position
	}

	updated, err := s.store.UpdateList(ctx, list)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound()
		}
		return store.List{}, err
	}
	return updated, nil
}

// DeleteList removes a list and its tasks. The five system lists cannot be
// deleted.
func (s *Service) DeleteList(ctx context.Context, user store.User, listID int64) error {
	list, err := s.ownedList(ctx, user, listID)
	if err != nil {
		return err
	}
	if store.IsProtectedListTitle(list.Title) {
		return errInvalidOperation(fmt.Sprintf("list %q is protected and cannot be deleted", list.Title))
	}

	taskIDs, err := s.store.DeleteList(ctx, listID)
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTasks(taskIDs)
	}
	return nil
}

func (s *Service) ownedList(ctx context.Context, user store.User, listID int64) (store.List, error) {
	list, ownerID, err := s.store.GetListWithOwner(ctx, listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound()
		}
		return store.List{}, err
	}
	if ownerID != user.ID {
		return store.List{}, errNotFound()
	}
	return list, nil
}

// ── Tasks ──

type CreateTaskInput struct {
	ListID      int64      `json:"list_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Position    *int       `json:"position"`
	DueDate     *time.Time `json:"due_date"`
}

type UpdateTaskInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	Position    *int       `json:"position"`
	ListID      *int64     `json:"list_id"`
	DueDate     *time.Time `json:"due_date"`
}

var allowedPriorities = map[string]bool{
	store.PriorityLow:    true,
	store.PriorityMedium: true,
	store.PriorityHigh:   true,
}

func (s *Service) CreateTask(ctx context.Context, user store.User, input CreateTaskInput) (store.Task, error) {
	if input.Title == "" {
		return store.Task{}, errValidation("title is required")
	}
	priority := input.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}
	if !allowedPriorities[priority] {
		return store.Task{}, errValidation(fmt.Sprintf("invalid priority %q", priority))
	}

	list, err := s.ownedList(ctx, user, input.ListID)
	if err != nil {
		return store.Task{}, err
	}

	task, err := s.store.CreateTask(ctx, input.ListID, input.Title, input.Description, priority, input.Position, input.DueDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, errNotFound()
		}
		return store.Task{}, err
	}
	s.indexTask(task, list.BoardID, user.ID)
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, user store.User, taskID int64, input UpdateTaskInput) (store.Task, error) {
	task, err := s.ownedTask(ctx, user, taskID)
	if err != nil {
		return store.Task{}, err
	}

	boardID := int64(0)
	if input.ListID != nil && *input.ListID != task.ListID {
		// Moving across lists: the target list is gated the same way as the
		// source. A target owned by someone else is NotFound.
		target, err := s.ownedList(ctx, user, *input.ListID)
		if err != nil {
			return store.Task{}, err
		}
		task.ListID = target.ID
		boardID = target.BoardID
	}

	if input.Title != nil {
		if *input.Title == "" {
			return store.Task{}, errValidation("title cannot be empty")
		}
		task.Title = *input.Title
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.Priority != nil {
		if !allowedPriorities[*input.Priority] {
			return store.Task{}, errValidation(fmt.Sprintf("invalid priority %q", *input.Priority))
		}
		task.Priority = *input.Priority
	}
	if input.Position != nil {
		task.Position = *input.Position
	}
	if input.DueDate != nil {
		task.DueDate = input.DueDate
	}

	updated, err := s.store.UpdateTask(ctx, task)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, errNotFound()
		}
		return store.Task{}, err
	}

	if s.search != nil {
		if boardID == 0 {
			if list, _, err := s.store.GetListWithOwner(ctx, updated.ListID); err == nil {
				boardID = list.BoardID
			}
		}
		s.indexTask(updated, boardID, user.ID)
	}
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, user store.User, taskID int64) error {
	if _, err := s.ownedTask(ctx, user, taskID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTasks([]int64{taskID})
	}
	return nil
}

func (s *Service) ownedTask(ctx context.Context, user store.User, taskID int64) (store.Task, error) {
	task, ownerID, err := s.store.GetTaskWithOwner(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, errNotFound()
		}
		return store.Task{}, err
	}
	if ownerID != user.ID {
		return store.Task{}, errNotFound()
	}
	return task, nil
}

// ── Search ──

// Search queries the caller's own boards and tasks. With no search backend
// configured the endpoint degrades to an empty result set.
func (s *Service) Search(ctx context.Context, user store.User, q search.Query) search.Response {
	q.OwnerID = user.ID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) indexBoard(board store.Board) {
	if s.search == nil {
		return
	}
	s.search.IndexBoard(search.BoardRecord{
		ID:          board.ID,
		Title:       board.Title,
		Description: board.Description,
		OwnerID:     board.UserID,
	})
}

func (s *Service) indexTask(task store.Task, boardID, ownerID int64) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		BoardID:     boardID,
		OwnerID:     ownerID,
	})
}

// ── Backup ──

// ExportBackup serializes the entire dataset. When an uploader is configured
// the snapshot is also pushed to object storage; an upload failure is logged
// but does not fail the export.
func (s *Service) ExportBackup(ctx context.Context) (backup.Snapshot, error) {
	users, err := s.store.ListAllUsers(ctx)
	if err != nil {
		return backup.Snapshot{}, err
	}
	boards, err := s.store.ListAllBoards(ctx)
	if err != nil {
		return backup.Snapshot{}, err
	}
	lists, err := s.store.ListAllLists(ctx)
	if err != nil {
		return backup.Snapshot{}, err
	}
	tasks, err := s.store.ListAllTasks(ctx)
	if err != nil {
		return backup.Snapshot{}, err
	}

	userRecords := make([]backup.UserRecord, 0, len(users))
	for _, user := range users {
		userRecords = append(userRecords, backup.NewUserRecord(user))
	}

	snapshot := backup.Snapshot{
		Users:     userRecords,
		Boards:    boards,
		Lists:     lists,
		Tasks:     tasks,
		Timestamp: time.Now().UTC(),
	}

	if s.uploader != nil {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return backup.Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
		}
		if name, err := s.uploader.Upload(ctx, data); err != nil {
			logrus.Warnf("backup: snapshot upload failed: %v", err)
		} else {
			logrus.Infof("backup: snapshot uploaded as %s", name)
		}
	}

	return snapshot, nil
}

// ImportBackup restores a snapshot. Inserts preserve original ids and skip
// rows that already exist, so re-running the same import is a no-op. Parents
// are imported before children.
func (s *Service) ImportBackup(ctx context.Context, snapshot backup.Snapshot) (backup.RestoreResult, error) {
	var result backup.RestoreResult

	for _, record := range snapshot.Users {
		inserted, err := s.store.ImportUser(ctx, record.ToUser())
		if err != nil {
			return result, err
		}
		if inserted {
			result.UsersInserted++
		} else {
			result.Skipped++
		}
	}
	for _, board := range snapshot.Boards {
		inserted, err := s.store.ImportBoard(ctx, board)
		if err != nil {
			return result, err
		}
		if inserted {
			result.BoardsInserted++
		} else {
			result.Skipped++
		}
	}
	for _, list := range snapshot.Lists {
		inserted, err := s.store.ImportList(ctx, list)
		if err != nil {
			return result, err
		}
		if inserted {
			result.ListsInserted++
		} else {
			result.Skipped++
		}
	}
	for _, task := range snapshot.Tasks {
		inserted, err := s.store.ImportTask(ctx, task)
		if err != nil {
			return result, err
		}
		if inserted {
			result.TasksInserted++
		} else {
			result.Skipped++
		}
	}

	if err := s.store.ResetSequences(ctx); err != nil {
		return result, err
	}
	return result, nil
}
