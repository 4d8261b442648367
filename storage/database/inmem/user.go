package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db.user}
}

func copyUser(usr user.User) user.User {
	if usr.IsActive != nil {
		usr.SetActive(*usr.IsActive)
	}
	if usr.Roles != nil {
		usr.Roles = append([]string{}, usr.Roles...)
	}
	if usr.PasswordHash != nil {
		usr.PasswordHash = append([]byte{}, usr.PasswordHash...)
	}
	return usr
}

func (repo *userRepository) CheckUniqueness(_ context.Context, username, email string, excludedIDs ...string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, row := range repo.db.table {
		if core.ContainsString(excludedIDs, row.usr.ID) {
			continue
		}
		if username != "" && row.usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.New().String()
	repo.db.seq++
	repo.db.table[usr.ID] = &userRow{seq: repo.db.seq, usr: copyUser(usr)}
	return copyUser(usr), nil
}

// userOrderingFields maps API ordering fields to sort keys.
var userOrderingFields = map[string]func(u user.User) string{
	"name":     func(u user.User) string { return strings.ToLower(u.Name) },
	"username": func(u user.User) string { return u.Username },
	"email":    func(u user.User) string { return u.Email },
}

func (repo *userRepository) QueryUsers(_ context.Context, filter user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]*userRow, 0, len(repo.db.table))
	for _, row := range repo.db.table {
		if filter.Matches(row.usr) {
			rows = append(rows, row)
		}
	}

	// default: newest first
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for _, ord := range ordering {
			var ka, kb string
			if ord.Field == "created_at" {
				if a.usr.CreatedAt.Equal(b.usr.CreatedAt) {
					continue
				}
				return a.usr.CreatedAt.Before(b.usr.CreatedAt) == ord.Ascending
			}
			key, ok := userOrderingFields[ord.Field]
			if !ok {
				continue
			}
			ka, kb = key(a.usr), key(b.usr)
			if ka == kb {
				continue
			}
			return (ka < kb) == ord.Ascending
		}
		if !a.usr.CreatedAt.Equal(b.usr.CreatedAt) {
			return a.usr.CreatedAt.After(b.usr.CreatedAt)
		}
		return a.seq > b.seq
	})

	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, copyUser(row.usr))
	}
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if row, ok := repo.db.table[filter.ID]; ok {
			return copyUser(row.usr), nil
		}
		return user.User{}, user.ErrNotFound
	}
	if filter.UsernameOrEmail != "" {
		for _, row := range repo.db.table {
			if row.usr.Username == filter.UsernameOrEmail || row.usr.Email == filter.UsernameOrEmail {
				return copyUser(row.usr), nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	// creation fields are immutable
	usr.OrganizationID = row.usr.OrganizationID
	usr.CreatedAt = row.usr.CreatedAt
	if usr.PasswordHash == nil {
		usr.PasswordHash = row.usr.PasswordHash
	}
	row.usr = copyUser(usr)
	return copyUser(usr), nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var count int
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			count++
		}
	}
	return count, nil
}
