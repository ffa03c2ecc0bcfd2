// Package persistence is the durable-of-record layer: user accounts, room
// definitions, and their metas, tags, bans, and pending join requests.
// State mirrors a working view of the same data for fast synchronous
// access; Persistence is the source of truth consulted on a State miss.
// Coordinators write here for account and user-meta changes, room creation
// (with the owner and the initial metas) and bans; joins, leaves, join
// requests and room-meta updates change State only.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yummyhq/yummy/internal/v1/model"
)

// metaTypeDiscriminant mirrors the SQL layout's meta_type column: 1=Number,
// 2=String, 3=Bool, 4=List (stored as a JSON string).
const (
	metaTypeNumber = 1
	metaTypeString = 2
	metaTypeBool   = 3
	metaTypeList   = 4
)

// Store is the durable persistence layer backed by a SQL database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("persistence: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: serialize writes through one connection

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle, e.g. for health-check pings.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS user (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT UNIQUE,
	device_id TEXT UNIQUE,
	custom_id TEXT UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	user_type INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	last_login_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_meta (
	owner_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	meta_type INTEGER NOT NULL,
	access INTEGER NOT NULL,
	number_value REAL,
	string_value TEXT,
	bool_value INTEGER,
	PRIMARY KEY (owner_id, key)
);

CREATE TABLE IF NOT EXISTS room (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	access INTEGER NOT NULL DEFAULT 0,
	max_user INTEGER NOT NULL DEFAULT 0,
	join_requestable INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS room_meta (
	owner_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	meta_type INTEGER NOT NULL,
	access INTEGER NOT NULL,
	number_value REAL,
	string_value TEXT,
	bool_value INTEGER,
	PRIMARY KEY (owner_id, key)
);

CREATE TABLE IF NOT EXISTS room_tag (
	room_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (room_id, tag)
);

CREATE TABLE IF NOT EXISTS room_user (
	room_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
	role INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS room_user_ban (
	room_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS room_user_request (
	room_id TEXT NOT NULL REFERENCES room(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
	requested_role INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// transaction runs fn inside a SQL transaction, committing on nil error and
// rolling back otherwise. All Persistence mutations that touch more than one
// table go through this helper.
func (s *Store) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Users ---

// FindUserByEmail returns nil, nil on a miss.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUserBy(ctx, "email", email)
}

// FindUserByDeviceId returns nil, nil on a miss.
func (s *Store) FindUserByDeviceId(ctx context.Context, deviceID string) (*model.User, error) {
	return s.findUserBy(ctx, "device_id", deviceID)
}

// FindUserByCustomId returns nil, nil on a miss.
func (s *Store) FindUserByCustomId(ctx context.Context, customID string) (*model.User, error) {
	return s.findUserBy(ctx, "custom_id", customID)
}

// FindUserById returns nil, nil on a miss.
func (s *Store) FindUserById(ctx context.Context, id model.UserId) (*model.User, error) {
	return s.findUserBy(ctx, "id", id.String())
}

func (s *Store) findUserBy(ctx context.Context, column, value string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, name, email, device_id, custom_id, password_hash, user_type, created_at, last_login_at
		 FROM user WHERE %s = ?`, column), value)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                       model.User
		email, deviceID, custom sql.NullString
	)
	err := row.Scan(&u.Id, &u.Name, &email, &deviceID, &custom, &u.PasswordHash, &u.Type, &u.CreatedAt, &u.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: scan user: %w", err)
	}
	u.Email = email.String
	u.DeviceId = deviceID.String
	u.CustomId = custom.String
	return &u, nil
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (id, name, email, device_id, custom_id, password_hash, user_type, created_at, last_login_at)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)`,
		u.Id, u.Name, u.Email, u.DeviceId, u.CustomId, u.PasswordHash, u.Type, u.CreatedAt, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("persistence: create user: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps the user's last_login_at.
func (s *Store) UpdateLastLogin(ctx context.Context, id model.UserId, when time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user SET last_login_at = ? WHERE id = ?`, when, id)
	return err
}

// UserFields carries the subset of user columns to update; a nil pointer
// leaves the column untouched.
type UserFields struct {
	Name         *string
	Email        *string
	DeviceId     *string
	CustomId     *string
	PasswordHash *string
	Type         *model.UserType
}

// UpdateUser applies the given fields and reports how many rows matched,
// so callers can surface UserNotFound on a zero result.
func (s *Store) UpdateUser(ctx context.Context, id model.UserId, fields UserFields) (int64, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if fields.Name != nil {
		add("name", *fields.Name)
	}
	if fields.Email != nil {
		add("email", *fields.Email)
	}
	if fields.DeviceId != nil {
		add("device_id", *fields.DeviceId)
	}
	if fields.CustomId != nil {
		add("custom_id", *fields.CustomId)
	}
	if fields.PasswordHash != nil {
		add("password_hash", *fields.PasswordHash)
	}
	if fields.Type != nil {
		add("user_type", *fields.Type)
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, id)

	query := "UPDATE user SET " + joinClauses(sets) + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("persistence: update user: %w", err)
	}
	return res.RowsAffected()
}

func joinClauses(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// --- User meta ---

func metaRowValues[A ~int](v model.MetaType[A]) (kind int, access int, number sql.NullFloat64, str sql.NullString, boolean sql.NullInt64, err error) {
	access = int(v.Access())
	switch val := v.Value().(type) {
	case float64:
		kind = metaTypeNumber
		number = sql.NullFloat64{Float64: val, Valid: true}
	case string:
		kind = metaTypeString
		str = sql.NullString{String: val, Valid: true}
	case bool:
		kind = metaTypeBool
		b := int64(0)
		if val {
			b = 1
		}
		boolean = sql.NullInt64{Int64: b, Valid: true}
	case []model.MetaType[A]:
		kind = metaTypeList
		raw, marshalErr := json.Marshal(val)
		if marshalErr != nil {
			err = marshalErr
			return
		}
		str = sql.NullString{String: string(raw), Valid: true}
	default:
		err = fmt.Errorf("persistence: cannot persist null meta value")
	}
	return
}

func decodeMetaRow[A ~int](kind, access int, number sql.NullFloat64, str sql.NullString, boolean sql.NullInt64) (model.MetaType[A], error) {
	a := A(access)
	switch kind {
	case metaTypeNumber:
		return model.NewMetaNumber(number.Float64, a), nil
	case metaTypeString:
		return model.NewMetaString(str.String, a), nil
	case metaTypeBool:
		return model.NewMetaBool(boolean.Int64 != 0, a), nil
	case metaTypeList:
		var list []model.MetaType[A]
		if err := json.Unmarshal([]byte(str.String), &list); err != nil {
			return model.MetaType[A]{}, err
		}
		return model.NewMetaList(list, a), nil
	default:
		return model.MetaType[A]{}, fmt.Errorf("persistence: unknown meta_type %d", kind)
	}
}

// SetUserMeta upserts one meta row for the given user.
func (s *Store) SetUserMeta(ctx context.Context, user model.UserId, key string, value model.MetaType[model.UserMetaAccess]) error {
	kind, access, number, str, boolean, err := metaRowValues(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_meta (owner_id, key, meta_type, access, number_value, string_value, bool_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, key) DO UPDATE SET
			meta_type=excluded.meta_type, access=excluded.access,
			number_value=excluded.number_value, string_value=excluded.string_value, bool_value=excluded.bool_value`,
		user, key, kind, access, number, str, boolean)
	return err
}

// GetUserMetas returns every meta row persisted for the user.
func (s *Store) GetUserMetas(ctx context.Context, user model.UserId) (map[string]model.MetaType[model.UserMetaAccess], error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, meta_type, access, number_value, string_value, bool_value FROM user_meta WHERE owner_id = ?`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.MetaType[model.UserMetaAccess])
	for rows.Next() {
		var (
			key                     string
			kind, access            int
			number                  sql.NullFloat64
			str                     sql.NullString
			boolean                 sql.NullInt64
		)
		if err := rows.Scan(&key, &kind, &access, &number, &str, &boolean); err != nil {
			return nil, err
		}
		v, err := decodeMetaRow[model.UserMetaAccess](kind, access, number, str, boolean)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, rows.Err()
}

// RemoveUserMeta deletes a single meta row.
func (s *Store) RemoveUserMeta(ctx context.Context, user model.UserId, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_meta WHERE owner_id = ? AND key = ?`, user, key)
	return err
}

// RemoveAllUserMetas deletes every meta row for the user.
func (s *Store) RemoveAllUserMetas(ctx context.Context, user model.UserId) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_meta WHERE owner_id = ?`, user)
	return err
}

// --- Rooms ---

// CreateRoomTx inserts a room, its owner membership row, and its initial
// metas within a single transaction.
func (s *Store) CreateRoomTx(ctx context.Context, room model.Room, owner model.UserId, metas map[string]model.MetaType[model.RoomMetaAccess]) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room (id, name, description, access, max_user, join_requestable, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			room.Id, room.Name, room.Description, room.Access, room.MaxUsers, room.JoinRequestable, room.CreatedAt); err != nil {
			return fmt.Errorf("persistence: create room: %w", err)
		}

		for _, tag := range room.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO room_tag (room_id, tag) VALUES (?, ?)`, room.Id, tag); err != nil {
				return fmt.Errorf("persistence: insert room tag: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_user (room_id, user_id, role) VALUES (?, ?, ?)`,
			room.Id, owner, model.RoomUserTypeOwner); err != nil {
			return fmt.Errorf("persistence: insert room owner: %w", err)
		}

		for key, value := range metas {
			kind, access, number, str, boolean, err := metaRowValues(value)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO room_meta (owner_id, key, meta_type, access, number_value, string_value, bool_value)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				room.Id, key, kind, access, number, str, boolean); err != nil {
				return fmt.Errorf("persistence: insert room meta: %w", err)
			}
		}
		return nil
	})
}

// FindRoomById returns nil, nil on a miss.
func (s *Store) FindRoomById(ctx context.Context, id model.RoomId) (*model.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, access, max_user, join_requestable, created_at FROM room WHERE id = ?`, id)
	var r model.Room
	if err := row.Scan(&r.Id, &r.Name, &r.Description, &r.Access, &r.MaxUsers, &r.JoinRequestable, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: scan room: %w", err)
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT tag FROM room_tag WHERE room_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return nil, err
		}
		r.Tags = append(r.Tags, tag)
	}
	return &r, tagRows.Err()
}

// GetRoomMetas returns every meta row persisted for the room.
func (s *Store) GetRoomMetas(ctx context.Context, room model.RoomId) (map[string]model.MetaType[model.RoomMetaAccess], error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, meta_type, access, number_value, string_value, bool_value FROM room_meta WHERE owner_id = ?`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.MetaType[model.RoomMetaAccess])
	for rows.Next() {
		var (
			key          string
			kind, access int
			number       sql.NullFloat64
			str          sql.NullString
			boolean      sql.NullInt64
		)
		if err := rows.Scan(&key, &kind, &access, &number, &str, &boolean); err != nil {
			return nil, err
		}
		v, err := decodeMetaRow[model.RoomMetaAccess](kind, access, number, str, boolean)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, rows.Err()
}

// BanUser records a persistent ban row.
func (s *Store) BanUser(ctx context.Context, room model.RoomId, user model.UserId) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_user_ban (room_id, user_id) VALUES (?, ?)`, room, user)
	return err
}

// IsBanned checks the persistent ban table.
func (s *Store) IsBanned(ctx context.Context, room model.RoomId, user model.UserId) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_user_ban WHERE room_id = ? AND user_id = ?`, room, user).Scan(&n)
	return n > 0, err
}
