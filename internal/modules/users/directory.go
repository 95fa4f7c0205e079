package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// TopicUserCreated is published after a user is stored. Payload: CreatedEvent.
const TopicUserCreated = "users.created"

// Portal roles.
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
	RoleClient   = "client"
)

// Sentinel errors returned by the directory.
var (
	ErrNotFound           = errors.New("user not found")
	ErrAlreadyExists      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUser        = errors.New("invalid user")
)

// User is a portal account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	Disabled     bool      `json:"disabled"`
}

// NewUser is the input to Directory.Create.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     string
}

// CreatedEvent is the payload of TopicUserCreated.
type CreatedEvent struct {
	UserID   string
	Username string
	Email    string
}

// Compile-time interface guards.
var (
	_ plugin.Stopper       = (*Directory)(nil)
	_ plugin.HealthChecker = (*Directory)(nil)
)

// Directory stores users in the auth_users table.
type Directory struct {
	db     *sql.DB
	bus    plugin.EventBus
	logger *zap.Logger
	cost   int
	closer func() error
}

// NewDirectory migrates the schema on st and returns a Directory. bus may be nil.
func NewDirectory(ctx context.Context, st plugin.Store, bus plugin.EventBus, logger *zap.Logger, cost int) (*Directory, error) {
	if err := st.Migrate(ctx, Name, migrations); err != nil {
		return nil, fmt.Errorf("users migrations: %w", err)
	}
	return &Directory{db: st.DB(), bus: bus, logger: logger, cost: cost}, nil
}

// userColumns is the shared SELECT column list for user queries.
const userColumns = `id, username, email, password_hash, role, created_at, disabled`

// Create hashes the password and stores a new user. The role defaults to client.
func (d *Directory) Create(ctx context.Context, in NewUser) (*User, error) {
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidUser)
	}
	role := in.Role
	if role == "" {
		role = RoleClient
	}
	if role != RoleAdmin && role != RoleEmployee && role != RoleClient {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO auth_users (id, username, email, password_hash, role, created_at, disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.Disabled,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, in.Username)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	d.logger.Info("user created", zap.String("id", u.ID), zap.String("role", u.Role))
	if d.bus != nil {
		d.bus.PublishAsync(ctx, plugin.Event{
			Topic:   TopicUserCreated,
			Source:  Name,
			Payload: CreatedEvent{UserID: u.ID, Username: u.Username, Email: u.Email},
		})
	}
	return u, nil
}

// Get returns a user by ID.
func (d *Directory) Get(ctx context.Context, id string) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}
	return u, nil
}

// GetByUsername returns a user by username.
func (d *Directory) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username %q: %w", username, err)
	}
	return u, nil
}

// List returns all users ordered by creation time.
func (d *Directory) List(ctx context.Context) ([]User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM auth_users ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetDisabled enables or disables an account.
func (d *Directory) SetDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE auth_users SET disabled = ? WHERE id = ?`, disabled, id)
	if err != nil {
		return fmt.Errorf("update user %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate checks a username and password. Unknown users, disabled
// accounts and wrong passwords all yield ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := d.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Disabled {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Health pings the database.
func (d *Directory) Health(ctx context.Context) plugin.HealthStatus {
	if err := d.db.PingContext(ctx); err != nil {
		return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: err.Error()}
	}
	return plugin.HealthStatus{Status: plugin.StatusHealthy}
}

// Stop closes the database when the directory owns it.
func (d *Directory) Stop(_ context.Context) error {
	if d.closer == nil {
		return nil
	}
	d.logger.Info("users module stopped")
	return d.closer()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.Disabled)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create auth_users table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE auth_users (
					id            TEXT PRIMARY KEY,
					username      TEXT NOT NULL UNIQUE,
					email         TEXT NOT NULL,
					password_hash TEXT NOT NULL,
					role          TEXT NOT NULL DEFAULT 'client',
					created_at    DATETIME NOT NULL,
					disabled      INTEGER NOT NULL DEFAULT 0
				)`)
			return err
		},
	},
}
