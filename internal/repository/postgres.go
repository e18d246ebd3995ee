package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/loyalty-points/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(postgresMigrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/postgres"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, дедлоке или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListClients возвращает клиентов, отсортированных по имени. Непустой search
// фильтрует по подстроке имени без учёта регистра или по подстроке телефона.
func (r *PostgresRepository) ListClients(ctx context.Context, search string) ([]model.Client, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+clientColumns+`
		 FROM clients
		 WHERE $1::text = ''
		    OR strpos(lower(name), lower($1)) > 0
		    OR strpos(phone_number, $1) > 0
		 ORDER BY name ASC, id ASC`,
		search,
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
func (r *PostgresRepository) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

// CreateClient создаёт клиента; идентификатор и отметки времени назначаются здесь.
func (r *PostgresRepository) CreateClient(ctx context.Context, nc model.NewClient) (*model.Client, error) {
	ts := now()
	c, err := scanClient(r.pool.QueryRow(ctx,
		`INSERT INTO clients (id, name, phone_number, points, total_spent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+clientColumns,
		uuid.New(), nc.Name, nc.PhoneNumber, nc.Points, nc.TotalSpentCents, ts,
	))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

// UpdateClient применяет частичное обновление и обновляет updated_at.
func (r *PostgresRepository) UpdateClient(ctx context.Context, id uuid.UUID, upd model.ClientUpdate) (*model.Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx,
		`UPDATE clients
		 SET name = COALESCE($2, name),
		     phone_number = COALESCE($3, phone_number),
		     points = COALESCE($4, points),
		     total_spent = COALESCE($5, total_spent),
		     updated_at = $6
		 WHERE id = $1
		 RETURNING `+clientColumns,
		id, upd.Name, upd.PhoneNumber, upd.Points, upd.TotalSpentCents, now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("update client: %w", err)
	}
	return c, nil
}

// DeleteClient удаляет клиента. Отсутствие строки ошибкой не считается.
func (r *PostgresRepository) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

// AdjustPoints атомарно изменяет баланс баллов и пишет запись в журнал в одной транзакции.
func (r *PostgresRepository) AdjustPoints(ctx context.Context, id uuid.UUID, delta int64, reason string) (*model.Client, error) {
	var res *model.Client
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		ts := now()
		c, err := scanClient(tx.QueryRow(ctx,
			`UPDATE clients SET points = points + $2, updated_at = $3
			 WHERE id = $1
			 RETURNING `+clientColumns,
			id, delta, ts,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrClientNotFound
			}
			return fmt.Errorf("increment points: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO points_adjustments (client_id, points, reason, created_at) VALUES ($1, $2, $3, $4)`,
			id, delta, reason, ts,
		)
		if err != nil {
			return fmt.Errorf("insert adjustment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AddSpending атомарно увеличивает сумму покупок и баллы (1 балл за целую денежную единицу)
// и пишет запись в журнал покупок в одной транзакции.
func (r *PostgresRepository) AddSpending(ctx context.Context, id uuid.UUID, amountCents int64, description string) (*model.Client, error) {
	var res *model.Client
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		ts := now()
		c, err := scanClient(tx.QueryRow(ctx,
			`UPDATE clients
			 SET total_spent = total_spent + $2, points = points + $3, updated_at = $4
			 WHERE id = $1
			 RETURNING `+clientColumns,
			id, amountCents, amountCents/100, ts,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrClientNotFound
			}
			return fmt.Errorf("increment spending: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO spending_records (client_id, amount, description, created_at) VALUES ($1, $2, $3, $4)`,
			id, amountCents, description, ts,
		)
		if err != nil {
			return fmt.Errorf("insert spending record: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListAdjustments возвращает журнал корректировок клиента, новые записи первыми.
func (r *PostgresRepository) ListAdjustments(ctx context.Context, clientID uuid.UUID) ([]model.PointsAdjustment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, points, reason, created_at
		 FROM points_adjustments
		 WHERE client_id = $1
		 ORDER BY created_at DESC, id DESC`,
		clientID,
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
func (r *PostgresRepository) ListSpending(ctx context.Context, clientID uuid.UUID) ([]model.SpendingRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, amount, description, created_at
		 FROM spending_records
		 WHERE client_id = $1
		 ORDER BY created_at DESC, id DESC`,
		clientID,
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
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)
		 RETURNING id, email, password_hash, created_at`,
		uuid.New(), email, passwordHash, now(),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetPasswordHash заменяет хеш пароля пользователя.
func (r *PostgresRepository) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetProfile возвращает профиль пользователя.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	var (
		p    model.Profile
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, role, client_id FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &role, &p.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Role = model.Role(role)
	return &p, nil
}

// UpsertProfile создаёт или заменяет профиль пользователя.
func (r *PostgresRepository) UpsertProfile(ctx context.Context, p model.Profile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, role, client_id) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, client_id = EXCLUDED.client_id`,
		p.UserID, string(p.Role), p.ClientID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			if pgErr.ConstraintName == "profiles_client_id_fkey" {
				return ErrClientNotFound
			}
			return ErrUserNotFound
		}
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// CreateLoginChallenge сохраняет запрос на вход по ссылке.
func (r *PostgresRepository) CreateLoginChallenge(ctx context.Context, ch model.LoginChallenge) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO login_challenges (id, email, secret, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ch.ID, ch.Email, ch.Secret, ch.ExpiresAt, ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert login challenge: %w", err)
	}
	return nil
}

// GetLoginChallenge возвращает запрос на вход по идентификатору.
func (r *PostgresRepository) GetLoginChallenge(ctx context.Context, id uuid.UUID) (*model.LoginChallenge, error) {
	ch, err := scanChallenge(r.pool.QueryRow(ctx,
		`SELECT id, email, secret, expires_at, consumed_at, attempts, created_at FROM login_challenges WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get login challenge: %w", err)
	}
	return ch, nil
}

// ConsumeLoginChallenge помечает запрос использованным. Возвращает false, если он уже
// использован или истёк к моменту at.
func (r *PostgresRepository) ConsumeLoginChallenge(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE login_challenges SET consumed_at = $2
		 WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("consume login challenge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailLoginAttempt увеличивает счётчик неверных кодов и возвращает новое значение.
// На maxAttempts-й ошибке запрос помечается использованным. Для уже погашенного
// или неизвестного запроса возвращается 0.
func (r *PostgresRepository) FailLoginAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx,
		`UPDATE login_challenges
		 SET attempts = attempts + 1,
		     consumed_at = CASE WHEN attempts + 1 >= $2::integer THEN $3::timestamptz ELSE consumed_at END
		 WHERE id = $1 AND consumed_at IS NULL
		 RETURNING attempts`,
		id, maxAttempts, at,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("record failed login attempt: %w", err)
	}
	return attempts, nil
}

// DeleteExpiredLoginChallenges удаляет запросы, истёкшие до before.
func (r *PostgresRepository) DeleteExpiredLoginChallenges(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_challenges WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
