package store

import "time"

// Priority values accepted for tasks.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ProtectedListTitles are the system list names seeded by CreateBoard when
// default lists are requested. Lists carrying one of these titles cannot be
// deleted regardless of how they were created.
var ProtectedListTitles = []string{"Backlog", "To Do", "In Progress", "Testing", "Done"}

// IsProtectedListTitle reports whether title names a system list.
func IsProtectedListTitle(title string) bool {
	for _, protected := range ProtectedListTitles {
		if title == protected {
			return true
		}
	}
	return false
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	NameHash  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Board struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Lists       []List    `json:"lists,omitempty"`
}

type List struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"board_id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	Tasks     []Task    `json:"tasks,omitempty"`
}

type Task struct {
	ID          int64      `json:"id"`
	ListID      int64      `json:"list_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Position    int        `json:"position"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}
