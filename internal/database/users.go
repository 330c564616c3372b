package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `user_id, full_name, email, profile_pic, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.UserID, &u.FullName, &u.Email, &u.ProfilePic, &u.CreatedAt)
	return u, err
}

const createUser = `
INSERT INTO users (user_id, full_name, email, profile_pic, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns

type CreateUserParams struct {
	UserID     pgtype.UUID
	FullName   string
	Email      string
	ProfilePic string
	CreatedAt  pgtype.Timestamptz
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser,
		arg.UserID,
		arg.FullName,
		arg.Email,
		arg.ProfilePic,
		arg.CreatedAt,
	)
	return scanUser(row)
}

const createPassword = `
INSERT INTO passwords (user_id, hashed_password, created_at)
VALUES ($1, $2, $3)`

type CreatePasswordParams struct {
	UserID         pgtype.UUID
	HashedPassword string
	CreatedAt      pgtype.Timestamptz
}

func (q *Queries) CreatePassword(ctx context.Context, arg CreatePasswordParams) error {
	_, err := q.db.Exec(ctx, createPassword, arg.UserID, arg.HashedPassword, arg.CreatedAt)
	return err
}

const getUserById = `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

func (q *Queries) GetUserById(ctx context.Context, userID pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserById, userID))
}

const getUserWithPasswordByEmail = `
SELECT u.user_id, u.full_name, u.email, u.profile_pic, u.created_at, p.hashed_password
FROM users u
JOIN passwords p ON p.user_id = u.user_id
WHERE u.email = $1`

type GetUserWithPasswordByEmailRow struct {
	User
	HashedPassword string
}

func (q *Queries) GetUserWithPasswordByEmail(ctx context.Context, email string) (GetUserWithPasswordByEmailRow, error) {
	var r GetUserWithPasswordByEmailRow
	err := q.db.QueryRow(ctx, getUserWithPasswordByEmail, email).Scan(
		&r.UserID,
		&r.FullName,
		&r.Email,
		&r.ProfilePic,
		&r.CreatedAt,
		&r.HashedPassword,
	)
	return r, err
}

const listUsersExcept = `
SELECT ` + userColumns + `
FROM users
WHERE user_id <> $1
ORDER BY full_name ASC, user_id ASC`

func (q *Queries) ListUsersExcept(ctx context.Context, userID pgtype.UUID) ([]User, error) {
	rows, err := q.db.Query(ctx, listUsersExcept, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const updateProfilePic = `
UPDATE users SET profile_pic = $2
WHERE user_id = $1
RETURNING ` + userColumns

type UpdateProfilePicParams struct {
	UserID     pgtype.UUID
	ProfilePic string
}

func (q *Queries) UpdateProfilePic(ctx context.Context, arg UpdateProfilePicParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, updateProfilePic, arg.UserID, arg.ProfilePic))
}
