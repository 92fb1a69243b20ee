// Package backup implements JSON export/import of the full dataset and the
// optional upload of snapshots to object storage.
package backup

import (
	"time"

	"pinboard/api/internal/store"
)

// UserRecord wraps a user so the credential hash travels with the snapshot.
// The hash is never serialized on the public API, but a restore without it
// would lock every restored account out.
type UserRecord struct {
	store.User
	NameHash string `json:"name_hash"`
}

func NewUserRecord(user store.User) UserRecord {
	return UserRecord{User: user, NameHash: user.NameHash}
}

// ToUser rebuilds the store user, restoring the credential hash.
func (r UserRecord) ToUser() store.User {
	user := r.User
	user.NameHash = r.NameHash
	return user
}

// Snapshot is the wire format for a full backup. Records carry their original
// identifiers so a restore can skip rows that already exist.
type Snapshot struct {
	Users     []UserRecord  `json:"users"`
	Boards    []store.Board `json:"boards"`
	Lists     []store.List  `json:"lists"`
	Tasks     []store.Task  `json:"tasks"`
	Timestamp time.Time     `json:"timestamp"`
}

// RestoreResult counts what an import actually inserted; skipped records
// already existed.
type RestoreResult struct {
	UsersInserted  int `json:"users_inserted"`
	BoardsInserted int `json:"boards_inserted"`
	ListsInserted  int `json:"lists_inserted"`
	TasksInserted  int `json:"tasks_inserted"`
	Skipped        int `json:"skipped"`
}
