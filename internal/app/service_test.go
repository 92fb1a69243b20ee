package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"pinboard/api/internal/config"
	"pinboard/api/internal/identity"
	"pinboard/api/internal/store"
)

// memStore is an in-memory dataStore (and identity.UserStore) used by the
// service tests. It mimics the Postgres behavior the service relies on:
// sql.ErrNoRows for missing rows, unique-violation errors for duplicates, and
// max+1 position assignment.
type memStore struct {
	mu     sync.Mutex
	nextID int64

	users    map[int64]store.User
	boards   map[int64]store.Board
	lists    map[int64]store.List
	tasks    map[int64]store.Task
	sessions map[string]memSession
}

type memSession struct {
	userID    int64
	expiresAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]store.User{},
		boards:   map[int64]store.Board{},
		lists:    map[int64]store.List{},
		tasks:    map[int64]store.Task{},
		sessions: map[string]memSession{},
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) CreateUser(_ context.Context, name, email, nameHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name || u.Email == email {
			return store.User{}, uniqueViolation()
		}
	}
	user := store.User{ID: m.id(), Name: name, Email: email, NameHash: nameHash, CreatedAt: time.Now()}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(_ context.Context, userID int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) UpdateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return store.User{}, sql.ErrNoRows
	}
	for id, u := range m.users {
		if id != user.ID && (u.Name == user.Name || u.Email == user.Email) {
			return store.User{}, uniqueViolation()
		}
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) SaveSession(_ context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tokenHash] = memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupSession(_ context.Context, tokenHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[tokenHash]
	if !ok || time.Now().After(session.expiresAt) {
		return 0, sql.ErrNoRows
	}
	return session.userID, nil
}

func (m *memStore) RevokeSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

func (m *memStore) ListBoards(_ context.Context, userID int64) ([]store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Board, 0)
	for _, b := range m.boards {
		if b.UserID == userID {
			items = append(items, b)
		}
	}
	return items, nil
}

func (m *memStore) GetBoard(_ context.Context, boardID int64) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.boards[boardID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return board, nil
}

func (m *memStore) GetBoardTree(ctx context.Context, boardID int64) (store.Board, error) {
	board, err := m.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	board.Lists = make([]store.List, 0)
	for _, list := range m.lists {
		if list.BoardID != boardID {
			continue
		}
		list.Tasks = make([]store.Task, 0)
		for _, task := range m.tasks {
			if task.ListID == list.ID {
				list.Tasks = append(list.Tasks, task)
			}
		}
		board.Lists = append(board.Lists, list)
	}
	return board, nil
}

func (m *memStore) CreateBoard(_ context.Context, userID int64, title, description string, withDefaults bool) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board := store.Board{ID: m.id(), UserID: userID, Title: title, Description: description, CreatedAt: time.Now()}
	m.boards[board.ID] = board
	if withDefaults {
		for i, name := range store.ProtectedListTitles {
			list := store.List{ID: m.id(), BoardID: board.ID, Title: name, Position: i + 1, CreatedAt: time.Now()}
			m.lists[list.ID] = list
			board.Lists = append(board.Lists, list)
		}
	}
	return board, nil
}

func (m *memStore) UpdateBoard(_ context.Context, board store.Board) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.boards[board.ID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	existing.Title = board.Title
	existing.Description = board.Description
	m.boards[board.ID] = existing
	return existing, nil
}

func (m *memStore) DeleteBoard(_ context.Context, boardID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskIDs := make([]int64, 0)
	for listID, list := range m.lists {
		if list.BoardID != boardID {
			continue
		}
		for taskID, task := range m.tasks {
			if task.ListID == listID {
				taskIDs = append(taskIDs, taskID)
				delete(m.tasks, taskID)
			}
		}
		delete(m.lists, listID)
	}
	delete(m.boards, boardID)
	return taskIDs, nil
}

func (m *memStore) GetListWithOwner(_ context.Context, listID int64) (store.List, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[listID]
	if !ok {
		return store.List{}, 0, sql.ErrNoRows
	}
	board, ok := m.boards[list.BoardID]
	if !ok {
		return store.List{}, 0, sql.ErrNoRows
	}
	return list, board.UserID, nil
}

func (m *memStore) CreateList(_ context.Context, boardID int64, title string, position *int) (store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return store.List{}, sql.ErrNoRows
	}
	pos := 0
	if position != nil {
		pos = *position
	} else {
		for _, list := range m.lists {
			if list.BoardID == boardID && list.Position > pos {
				pos = list.Position
			}
		}
		pos++
	}
	list := store.List{ID: m.id(), BoardID: boardID, Title: title, Position: pos, CreatedAt: time.Now()}
	m.lists[list.ID] = list
	return list, nil
}

func (m *memStore) UpdateList(_ context.Context, list store.List) (store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.lists[list.ID]
	if !ok {
		return store.List{}, sql.ErrNoRows
	}
	existing.Title = list.Title
	existing.Position = list.Position
	m.lists[list.ID] = existing
	return existing, nil
}

func (m *memStore) DeleteList(_ context.Context, listID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskIDs := make([]int64, 0)
	for taskID, task := range m.tasks {
		if task.ListID == listID {
			taskIDs = append(taskIDs, taskID)
			delete(m.tasks, taskID)
		}
	}
	delete(m.lists, listID)
	return taskIDs, nil
}

func (m *memStore) GetTaskWithOwner(_ context.Context, taskID int64) (store.Task, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return store.Task{}, 0, sql.ErrNoRows
	}
	list, ok := m.lists[task.ListID]
	if !ok {
		return store.Task{}, 0, sql.ErrNoRows
	}
	board, ok := m.boards[list.BoardID]
	if !ok {
		return store.Task{}, 0, sql.ErrNoRows
	}
	return task, board.UserID, nil
}

func (m *memStore) CreateTask(_ context.Context, listID int64, title, description, priority string, position *int, dueDate *time.Time) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[listID]; !ok {
		return store.Task{}, sql.ErrNoRows
	}
	pos := 0
	if position != nil {
		pos = *position
	} else {
		for _, task := range m.tasks {
			if task.ListID == listID && task.Position > pos {
				pos = task.Position
			}
		}
		pos++
	}
	task := store.Task{
		ID: m.id(), ListID: listID, Title: title, Description: description,
		Position: pos, Priority: priority, CreatedAt: time.Now(), DueDate: dueDate,
	}
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memStore) UpdateTask(_ context.Context, task store.Task) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.ID]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	existing.ListID = task.ListID
	existing.Title = task.Title
	existing.Description = task.Description
	existing.Position = task.Position
	existing.Priority = task.Priority
	existing.DueDate = task.DueDate
	m.tasks[task.ID] = existing
	return existing, nil
}

func (m *memStore) DeleteTask(_ context.Context, taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *memStore) ListAllUsers(context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.User, 0)
	for _, u := range m.users {
		items = append(items, u)
	}
	return items, nil
}

func (m *memStore) ListAllBoards(context.Context) ([]store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Board, 0)
	for _, b := range m.boards {
		b.Lists = nil
		items = append(items, b)
	}
	return items, nil
}

func (m *memStore) ListAllLists(context.Context) ([]store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.List, 0)
	for _, l := range m.lists {
		l.Tasks = nil
		items = append(items, l)
	}
	return items, nil
}

func (m *memStore) ListAllTasks(context.Context) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Task, 0)
	for _, t := range m.tasks {
		items = append(items, t)
	}
	return items, nil
}

func (m *memStore) ImportUser(_ context.Context, user store.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return false, nil
	}
	m.users[user.ID] = user
	if user.ID > m.nextID {
		m.nextID = user.ID
	}
	return true, nil
}

func (m *memStore) ImportBoard(_ context.Context, board store.Board) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[board.ID]; ok {
		return false, nil
	}
	m.boards[board.ID] = board
	if board.ID > m.nextID {
		m.nextID = board.ID
	}
	return true, nil
}

func (m *memStore) ImportList(_ context.Context, list store.List) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[list.ID]; ok {
		return false, nil
	}
	m.lists[list.ID] = list
	if list.ID > m.nextID {
		m.nextID = list.ID
	}
	return true, nil
}

func (m *memStore) ImportTask(_ context.Context, task store.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return false, nil
	}
	m.tasks[task.ID] = task
	if task.ID > m.nextID {
		m.nextID = task.ID
	}
	return true, nil
}

func (m *memStore) ResetSequences(context.Context) error { return nil }

func newTestService(ms *memStore) *Service {
	cfg := config.Config{SessionTTL: time.Hour, BackupToken: "test-backup-token"}
	return New(cfg, ms, ms, identity.NewService(ms), nil, nil)
}

func mustRegister(t *testing.T, svc *Service, name, email string) store.User {
	t.Helper()
	user, err := svc.Register(context.Background(), name, email)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return user
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, domainErr.Code)
	}
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	user := mustRegister(t, svc, "Alice", "alice@example.com")
	if user.NameHash == "Alice" {
		t.Fatalf("name hash must not be the plain name")
	}

	result, err := svc.Login(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected opaque token")
	}
	if result.User.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, result.User.ID)
	}

	resolved, err := svc.SessionUser(ctx, result.Token)
	if err != nil {
		t.Fatalf("session user: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("session resolved to wrong user")
	}
}

func TestLoginWrongNameIsUnauthorized(t *testing.T) {
	svc := newTestService(newMemStore())
	mustRegister(t, svc, "Alice", "alice@example.com")

	_, err := svc.Login(context.Background(), "alice@example.com", "Bob")
	assertDomainCode(t, err, "UNAUTHORIZED")
}

func TestLoginUnknownEmailIsNotFound(t *testing.T) {
	svc := newTestService(newMemStore())

	_, err := svc.Login(context.Background(), "nobody@example.com", "Alice")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	svc := newTestService(newMemStore())
	mustRegister(t, svc, "Alice", "alice@example.com")

	_, err := svc.Register(context.Background(), "Alice", "other@example.com")
	assertDomainCode(t, err, "CONFLICT")

	_, err = svc.Register(context.Background(), "Someone", "alice@example.com")
	assertDomainCode(t, err, "CONFLICT")
}

func TestLogoutRevokesSession(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	mustRegister(t, svc, "Alice", "alice@example.com")

	result, err := svc.Login(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, result.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}

	_, err = svc.SessionUser(ctx, result.Token)
	assertDomainCode(t, err, "UNAUTHORIZED")
}

func TestProfileNameChangeRehashesCredential(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	user := mustRegister(t, svc, "Alice", "alice@example.com")

	newName := "Alicia"
	if _, err := svc.UpdateProfile(ctx, user.ID, &newName, nil); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "Alice"); err == nil {
		t.Fatalf("old name must no longer authenticate")
	}
	if _, err := svc.Login(ctx, "alice@example.com", "Alicia"); err != nil {
		t.Fatalf("new name should authenticate: %v", err)
	}
}

func TestBoardAccessMergedNotFound(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	bob := mustRegister(t, svc, "Bob", "bob@example.com")

	board, err := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	// Bob accessing Alice's board reads the same as a missing board.
	_, err = svc.GetBoard(ctx, bob, board.ID)
	assertDomainCode(t, err, "NOT_FOUND")
	_, err = svc.GetBoard(ctx, bob, 999999)
	assertDomainCode(t, err, "NOT_FOUND")

	title := "Hijacked"
	_, err = svc.UpdateBoard(ctx, bob, board.ID, UpdateBoardInput{Title: &title})
	assertDomainCode(t, err, "NOT_FOUND")

	err = svc.DeleteBoard(ctx, bob, board.ID)
	assertDomainCode(t, err, "NOT_FOUND")

	// The board is unchanged.
	got, err := svc.GetBoard(ctx, alice, board.ID)
	if err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if got.Title != "Sprint 1" {
		t.Fatalf("board title changed to %q", got.Title)
	}
}

func TestDeleteBoardCascades(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, err := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	list, err := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "Doing"})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: list.ID, Title: "Write code"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := svc.DeleteBoard(ctx, alice, board.ID); err != nil {
		t.Fatalf("delete board: %v", err)
	}

	if len(ms.boards) != 0 || len(ms.lists) != 0 || len(ms.tasks) != 0 {
		t.Fatalf("cascade incomplete: %d boards, %d lists, %d tasks left",
			len(ms.boards), len(ms.lists), len(ms.tasks))
	}
}

func TestDeleteProtectedListRejected(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, err := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1", WithDefaultLists: true})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if len(board.Lists) != len(store.ProtectedListTitles) {
		t.Fatalf("expected %d default lists, got %d", len(store.ProtectedListTitles), len(board.Lists))
	}

	backlog := board.Lists[0]
	task, err := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: backlog.ID, Title: "Plan"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	err = svc.DeleteList(ctx, alice, backlog.ID)
	assertDomainCode(t, err, "INVALID_OPERATION")

	// Both the list and its task survive.
	if _, ok := ms.lists[backlog.ID]; !ok {
		t.Fatalf("protected list was deleted")
	}
	if _, ok := ms.tasks[task.ID]; !ok {
		t.Fatalf("task on protected list was deleted")
	}
}

func TestDeleteRegularListCascadesTasks(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})
	list, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "Scratch"})
	task, _ := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: list.ID, Title: "Temp"})

	if err := svc.DeleteList(ctx, alice, list.ID); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	if _, ok := ms.tasks[task.ID]; ok {
		t.Fatalf("task survived list delete")
	}
}

func TestPositionsAppendAndAllowGaps(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})

	first, err := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "A"})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if first.Position != 1 {
		t.Fatalf("first list position = %d, want 1", first.Position)
	}

	second, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "B"})
	if second.Position != 2 {
		t.Fatalf("second list position = %d, want 2", second.Position)
	}

	// Explicit positions may leave gaps; the next append continues from the max.
	ten := 10
	gapped, err := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "C", Position: &ten})
	if err != nil {
		t.Fatalf("create list at 10: %v", err)
	}
	if gapped.Position != 10 {
		t.Fatalf("explicit position = %d, want 10", gapped.Position)
	}

	next, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "D"})
	if next.Position != 11 {
		t.Fatalf("append after gap = %d, want 11", next.Position)
	}
}

func TestTaskPositionsPerList(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})
	listA, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "A"})
	listB, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "B"})

	t1, _ := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: listA.ID, Title: "one"})
	t2, _ := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: listA.ID, Title: "two"})
	other, _ := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: listB.ID, Title: "solo"})

	if t1.Position != 1 || t2.Position != 2 {
		t.Fatalf("positions in list A = %d, %d; want 1, 2", t1.Position, t2.Position)
	}
	if other.Position != 1 {
		t.Fatalf("position in list B = %d, want 1", other.Position)
	}
}

func TestTaskPriorityValidation(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})
	list, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "A"})

	task, err := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: list.ID, Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Priority != store.PriorityMedium {
		t.Fatalf("default priority = %q, want %q", task.Priority, store.PriorityMedium)
	}

	_, err = svc.CreateTask(ctx, alice, CreateTaskInput{ListID: list.ID, Title: "t", Priority: "urgent"})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestTaskMoveToForeignListRejected(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms)
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	bob := mustRegister(t, svc, "Bob", "bob@example.com")

	aliceBoard, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Alice board"})
	aliceList, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: aliceBoard.ID, Title: "A"})
	task, _ := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: aliceList.ID, Title: "t"})

	bobBoard, _ := svc.CreateBoard(ctx, bob, CreateBoardInput{Title: "Bob board"})
	bobList, _ := svc.CreateList(ctx, bob, CreateListInput{BoardID: bobBoard.ID, Title: "B"})

	_, err := svc.UpdateTask(ctx, alice, task.ID, UpdateTaskInput{ListID: &bobList.ID})
	assertDomainCode(t, err, "NOT_FOUND")

	// The task has not moved.
	if got := ms.tasks[task.ID]; got.ListID != aliceList.ID {
		t.Fatalf("task moved to list %d", got.ListID)
	}
}

func TestTaskMoveWithinOwnBoards(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1"})
	from, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "From"})
	to, _ := svc.CreateList(ctx, alice, CreateListInput{BoardID: board.ID, Title: "To"})
	task, _ := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: from.ID, Title: "t"})

	pos := 3
	moved, err := svc.UpdateTask(ctx, alice, task.ID, UpdateTaskInput{ListID: &to.ID, Position: &pos})
	if err != nil {
		t.Fatalf("move task: %v", err)
	}
	if moved.ListID != to.ID || moved.Position != 3 {
		t.Fatalf("moved to list %d position %d", moved.ListID, moved.Position)
	}
}

func TestBackupExportImportIdempotent(t *testing.T) {
	source := newMemStore()
	svc := newTestService(source)
	ctx := context.Background()

	alice := mustRegister(t, svc, "Alice", "alice@example.com")
	board, _ := svc.CreateBoard(ctx, alice, CreateBoardInput{Title: "Sprint 1", WithDefaultLists: true})
	list := board.Lists[0]
	if _, err := svc.CreateTask(ctx, alice, CreateTaskInput{ListID: list.ID, Title: "t"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	snapshot, err := svc.ExportBackup(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snapshot.Users) != 1 || len(snapshot.Boards) != 1 || len(snapshot.Lists) != 5 || len(snapshot.Tasks) != 1 {
		t.Fatalf("unexpected snapshot sizes: %d users, %d boards, %d lists, %d tasks",
			len(snapshot.Users), len(snapshot.Boards), len(snapshot.Lists), len(snapshot.Tasks))
	}

	// Restore into an empty store, twice. The second run inserts nothing.
	target := newMemStore()
	targetSvc := newTestService(target)

	first, err := targetSvc.ImportBackup(ctx, snapshot)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.UsersInserted != 1 || first.BoardsInserted != 1 || first.ListsInserted != 5 || first.TasksInserted != 1 {
		t.Fatalf("first import inserted %+v", first)
	}

	second, err := targetSvc.ImportBackup(ctx, snapshot)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.UsersInserted != 0 || second.BoardsInserted != 0 || second.ListsInserted != 0 || second.TasksInserted != 0 {
		t.Fatalf("second import inserted %+v", second)
	}
	if second.Skipped != 8 {
		t.Fatalf("second import skipped %d records, want 8", second.Skipped)
	}

	// Logins survive the restore because name hashes travel with the snapshot.
	if _, err := targetSvc.Login(ctx, "alice@example.com", "Alice"); err != nil {
		t.Fatalf("login after restore: %v", err)
	}
}
