package models

import "github.com/google/uuid"

// assignID fills a zero primary key before insert. Postgres has a column
// default as well but sqlite does not.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
