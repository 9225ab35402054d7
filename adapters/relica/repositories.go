package relica

import (
	"database/sql"

	"github.com/coregx/realtime"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Channel realtime.ChannelRepository
	Message realtime.MessageRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to PostgreSQL, MySQL, or SQLite.
// The driverName should be "postgres", "mysql", or "sqlite3".
// The table prefix defaults to "realtime_" but can be customized.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return &Repositories{
		Channel: NewChannelRepository(db, driverName),
		Message: NewMessageRepository(db, driverName),
	}
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Channel: NewChannelRepositoryWithPrefix(db, driverName, prefix),
		Message: NewMessageRepositoryWithPrefix(db, driverName, prefix),
	}
}
