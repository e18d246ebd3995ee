package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmeshcher/loyalty-points/internal/model"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// SQLiteRepository хранит данные в файле SQLite; используется для разработки и тестов.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает базу SQLite по пути path (":memory:" для базы в памяти)
// и применяет миграции.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite сериализует запись, а база в памяти живёт в пределах одного соединения.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &SQLiteRepository{db: db}

	if err := r.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return r, nil
}

func sqliteDSN(path string) string {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	if strings.Contains(path, "?") {
		return "file:" + path + "&" + pragmas
	}
	return "file:" + path + "?" + pragmas
}

func (r *SQLiteRepository) runMigrations() error {
	driver, err := migratesqlite.WithInstance(r.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// queryRower покрывает *sql.DB и *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Чтение выполняется отдельным SELECT, а не через RETURNING: драйвер распознаёт
// DATETIME только у столбцов таблицы.
func getClient(ctx context.Context, q queryRower, id uuid.UUID) (*model.Client, error) {
	c, err := scanClient(q.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`,
		id.String(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func getUser(ctx context.Context, q queryRower, where string, arg any) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE `+where+` = ?`,
		arg,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func isSQLiteConstraint(err error, code int) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == code
}

// Close закрывает соединение с БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping проверяет доступность БД.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListClients возвращает клиентов, отсортированных по имени, с необязательным фильтром search.
func (r *SQLiteRepository) ListClients(ctx context.Context, search string) ([]model.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+`
		 FROM clients
		 WHERE ? = ''
		    OR instr(lower(name), lower(?)) > 0
		    OR instr(phone_number, ?) > 0
		 ORDER BY name ASC, id ASC`,
		search, search, search,
	)
	if err != nil {
		return nil, fmt.Errorf("select clients: %w", err)
	}
	defer rows.Close()

	clients := make([]model.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return clients, nil
}

// GetClient возвращает клиента по идентификатору.
func (r *SQLiteRepository) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	return getClient(ctx, r.db, id)
}

// CreateClient создаёт клиента.
func (r *SQLiteRepository) CreateClient(ctx context.Context, nc model.NewClient) (*model.Client, error) {
	id := uuid.New()
	ts := now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, phone_number, points, total_spent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), nc.Name, nc.PhoneNumber, nc.Points, nc.TotalSpentCents, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return getClient(ctx, r.db, id)
}

// UpdateClient применяет частичное обновление и обновляет updated_at.
func (r *SQLiteRepository) UpdateClient(ctx context.Context, id uuid.UUID, upd model.ClientUpdate) (*model.Client, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE clients
		 SET name = COALESCE(?, name),
		     phone_number = COALESCE(?, phone_number),
		     points = COALESCE(?, points),
		     total_spent = COALESCE(?, total_spent),
		     updated_at = ?
		 WHERE id = ?`,
		upd.Name, upd.PhoneNumber, upd.Points, upd.TotalSpentCents, now(), id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrClientNotFound
	}

	c, err := getClient(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return c, nil
}

// DeleteClient удаляет клиента. Отсутствие строки ошибкой не считается.
func (r *SQLiteRepository) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

// AdjustPoints атомарно изменяет баланс баллов и пишет запись в журнал.
func (r *SQLiteRepository) AdjustPoints(ctx context.Context, id uuid.UUID, delta int64, reason string) (*model.Client, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx,
		`UPDATE clients SET points = points + ?, updated_at = ? WHERE id = ?`,
		delta, ts, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("increment points: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrClientNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO points_adjustments (client_id, points, reason, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), delta, reason, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert adjustment: %w", err)
	}

	c, err := getClient(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return c, nil
}

// AddSpending атомарно увеличивает сумму покупок и баллы и пишет запись в журнал покупок.
func (r *SQLiteRepository) AddSpending(ctx context.Context, id uuid.UUID, amountCents int64, description string) (*model.Client, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx,
		`UPDATE clients
		 SET total_spent = total_spent + ?, points = points + ?, updated_at = ?
		 WHERE id = ?`,
		amountCents, amountCents/100, ts, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("increment spending: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrClientNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO spending_records (client_id, amount, description, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), amountCents, description, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert spending record: %w", err)
	}

	c, err := getClient(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return c, nil
}

// ListAdjustments возвращает журнал корректировок клиента, новые записи первыми.
func (r *SQLiteRepository) ListAdjustments(ctx context.Context, clientID uuid.UUID) ([]model.PointsAdjustment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, client_id, points, reason, created_at
		 FROM points_adjustments
		 WHERE client_id = ?
		 ORDER BY created_at DESC, id DESC`,
		clientID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select adjustments: %w", err)
	}
	defer rows.Close()

	res := make([]model.PointsAdjustment, 0)
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListSpending возвращает журнал покупок клиента, новые записи первыми.
func (r *SQLiteRepository) ListSpending(ctx context.Context, clientID uuid.UUID) ([]model.SpendingRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, client_id, amount, description, created_at
		 FROM spending_records
		 WHERE client_id = ?
		 ORDER BY created_at DESC, id DESC`,
		clientID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select spending: %w", err)
	}
	defer rows.Close()

	res := make([]model.SpendingRecord, 0)
	for rows.Next() {
		s, err := scanSpending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spending: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateUser создаёт нового пользователя.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (*model.User, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), email, passwordHash, now(),
	)
	if err != nil {
		if isSQLiteConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return getUser(ctx, r.db, "id", id.String())
}

// GetUserByEmail возвращает пользователя по email.
func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return getUser(ctx, r.db, "email", email)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return getUser(ctx, r.db, "id", id.String())
}

// SetPasswordHash заменяет хеш пароля пользователя.
func (r *SQLiteRepository) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash []byte) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID.String())
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// GetProfile возвращает профиль пользователя.
func (r *SQLiteRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	var (
		p    model.Profile
		role string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, role, client_id FROM profiles WHERE user_id = ?`,
		userID.String(),
	).Scan(&p.UserID, &role, &p.ClientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Role = model.Role(role)
	return &p, nil
}

// UpsertProfile создаёт или заменяет профиль пользователя.
func (r *SQLiteRepository) UpsertProfile(ctx context.Context, p model.Profile) error {
	var clientID any
	if p.ClientID != nil {
		clientID = p.ClientID.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// SQLite не сообщает, какой внешний ключ нарушен, поэтому проверяем ссылки заранее.
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, p.UserID.String()).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("check user: %w", err)
	}
	if clientID != nil {
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM clients WHERE id = ?`, clientID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrClientNotFound
			}
			return fmt.Errorf("check client: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, role, client_id) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET role = excluded.role, client_id = excluded.client_id`,
		p.UserID.String(), string(p.Role), clientID,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateLoginChallenge сохраняет запрос на вход по ссылке.
func (r *SQLiteRepository) CreateLoginChallenge(ctx context.Context, ch model.LoginChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_challenges (id, email, secret, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		ch.ID.String(), ch.Email, ch.Secret, ch.ExpiresAt.UTC(), ch.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert login challenge: %w", err)
	}
	return nil
}

// GetLoginChallenge возвращает запрос на вход по идентификатору.
func (r *SQLiteRepository) GetLoginChallenge(ctx context.Context, id uuid.UUID) (*model.LoginChallenge, error) {
	ch, err := scanChallenge(r.db.QueryRowContext(ctx,
		`SELECT id, email, secret, expires_at, consumed_at, attempts, created_at FROM login_challenges WHERE id = ?`,
		id.String(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get login challenge: %w", err)
	}
	return ch, nil
}

// ConsumeLoginChallenge помечает запрос использованным, если он ещё действителен в момент at.
func (r *SQLiteRepository) ConsumeLoginChallenge(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE login_challenges SET consumed_at = ?
		 WHERE id = ? AND consumed_at IS NULL AND expires_at > ?`,
		at.UTC(), id.String(), at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("consume login challenge: %w", err)
	}
	return affectedOne(res)
}

// FailLoginAttempt увеличивает счётчик неверных кодов; на maxAttempts-й ошибке запрос гасится.
func (r *SQLiteRepository) FailLoginAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE login_challenges
		 SET attempts = attempts + 1,
		     consumed_at = CASE WHEN attempts + 1 >= ? THEN ? ELSE consumed_at END
		 WHERE id = ? AND consumed_at IS NULL
		 RETURNING attempts`,
		maxAttempts, at.UTC(), id.String(),
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("record failed login attempt: %w", err)
	}
	return attempts, nil
}

// DeleteExpiredLoginChallenges удаляет запросы, истёкшие до before.
func (r *SQLiteRepository) DeleteExpiredLoginChallenges(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM login_challenges WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return res.RowsAffected()
}
