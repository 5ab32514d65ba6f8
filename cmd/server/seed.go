package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/npezzotti/go-crudder/internal/conversation"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/types"
)

// seedBadgerUsers loads a JSON array of users into the embedded store. The
// account service owns users; this only serves local runs on badger.
func seedBadgerUsers(repo *database.BadgerRepository, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var users []types.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}

	for _, u := range users {
		if !conversation.ValidParticipantId(u.Id) {
			return 0, fmt.Errorf("invalid user id %q", u.Id)
		}
		if err := repo.PutUser(database.User{
			Id:        u.Id,
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}); err != nil {
			return 0, fmt.Errorf("put user %q: %w", u.Id, err)
		}
	}

	return len(users), nil
}
