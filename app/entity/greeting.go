package entity

import "time"

// Greeting is owned by exactly one user. The msgpack tags define the cached
// list encoding, so renaming them invalidates existing cache entries.
type Greeting struct {
	ID        uint64    `msgpack:"id"`
	FirstName string    `msgpack:"first_name"`
	LastName  string    `msgpack:"last_name"`
	Message   string    `msgpack:"message"`
	UserID    uint64    `msgpack:"user_id"`
	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}
