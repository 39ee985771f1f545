package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"scribly/internal/domain"
)

// Codigos de error de postgres que traducimos a errores de dominio.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// querier es el subconjunto de pgx que usan las queries; lo satisfacen
// tanto *pgxpool.Pool como pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgDatabase implementa Database usando pgxpool.
type PgDatabase struct {
	pool *pgxpool.Pool
	q    querier
	tx   pgx.Tx
}

func NewPgDatabase(pool *pgxpool.Pool) *PgDatabase {
	return &PgDatabase{pool: pool, q: pool}
}

// Transaction abre una transaccion con lock_timeout acotado, de forma que
// una espera de lock que no resuelve rapido falle como error reintentable
// en vez de colgar al caller.
func (db *PgDatabase) Transaction(ctx context.Context, fn func(ctx context.Context, tx Database) error) error {
	if db.tx != nil {
		return fn(ctx, db)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '5s'"); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	if err := fn(ctx, &PgDatabase{q: tx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *PgDatabase) FetchUserWithPasswordHash(ctx context.Context, username string) (domain.User, string, error) {
	const query = `
		SELECT id, username, email, email_verification_status, password_hash
		FROM users
		WHERE username = $1
	`
	var u domain.User
	var hash string
	err := db.q.QueryRow(ctx, query, username).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.EmailVerificationStatus,
		&hash,
	)
	if err != nil {
		return domain.User{}, "", translatePgError(err)
	}
	return u, hash, nil
}

func (db *PgDatabase) AddUser(ctx context.Context, username, passwordHash, email string) (domain.User, error) {
	const query = `
		INSERT INTO users (id, username, email, email_verification_status, password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`
	user := domain.User{
		ID:                      uuid.NewString(),
		Username:                username,
		Email:                   email,
		EmailVerificationStatus: domain.EmailVerificationPending,
	}
	if _, err := db.q.Exec(ctx, query, user.ID, user.Username, user.Email, user.EmailVerificationStatus, passwordHash); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.User{}, fmt.Errorf("%w: username %s is taken", domain.ErrScribly, username)
		}
		return domain.User{}, err
	}
	return user, nil
}

func (db *PgDatabase) UpdatePassword(ctx context.Context, user domain.User, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`
	_, err := db.q.Exec(ctx, query, user.ID, passwordHash)
	return err
}

func (db *PgDatabase) FetchUser(ctx context.Context, userID string, forUpdate bool) (domain.User, error) {
	query := `
		SELECT id, username, email, email_verification_status
		FROM users
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var u domain.User
	err := db.q.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Username, &u.Email, &u.EmailVerificationStatus)
	if err != nil {
		return domain.User{}, translatePgError(err)
	}
	return u, nil
}

func (db *PgDatabase) FetchUsers(ctx context.Context, usernames []string) ([]domain.User, error) {
	const query = `
		SELECT id, username, email, email_verification_status
		FROM users
		WHERE username = ANY($1)
	`
	rows, err := db.q.Query(ctx, query, usernames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.EmailVerificationStatus); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PgDatabase) UpdateEmailVerificationStatus(ctx context.Context, user domain.User, status domain.EmailVerificationStatus) (domain.User, error) {
	const query = `UPDATE users SET email_verification_status = $2 WHERE id = $1`
	if _, err := db.q.Exec(ctx, query, user.ID, status); err != nil {
		return domain.User{}, err
	}
	user.EmailVerificationStatus = status
	return user, nil
}

func (db *PgDatabase) StartStory(ctx context.Context, user domain.User, title, body string) (domain.Story, error) {
	const insertStory = `
		INSERT INTO stories (id, title, state, created_by)
		VALUES ($1, $2, $3, $4)
	`
	const insertTurn = `
		INSERT INTO turns (story_id, taken_by, action, text_written)
		VALUES ($1, $2, $3, $4)
	`
	story := domain.Story{
		ID:        uuid.NewString(),
		Title:     title,
		State:     domain.StoryDraft,
		CreatedBy: user,
		Turns: []domain.Turn{
			{TakenBy: user, Action: domain.TurnWrite, TextWritten: body},
		},
	}
	if _, err := db.q.Exec(ctx, insertStory, story.ID, story.Title, story.State, user.ID); err != nil {
		return domain.Story{}, err
	}
	if _, err := db.q.Exec(ctx, insertTurn, story.ID, user.ID, domain.TurnWrite, body); err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

func (db *PgDatabase) FetchStory(ctx context.Context, storyID string, forUpdate bool) (domain.Story, error) {
	storyQuery := `
		SELECT id, title, state, created_by
		FROM stories
		WHERE id = $1
	`
	if forUpdate {
		storyQuery += " FOR UPDATE"
	}

	var story domain.Story
	var createdByID string
	err := db.q.QueryRow(ctx, storyQuery, storyID).Scan(&story.ID, &story.Title, &story.State, &createdByID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Story{}, fmt.Errorf("%w: %s", domain.ErrStoryNotFound, storyID)
		}
		return domain.Story{}, translatePgError(err)
	}

	story.CreatedBy, err = db.FetchUser(ctx, createdByID, false)
	if err != nil {
		return domain.Story{}, err
	}
	if story.State != domain.StoryDraft {
		if story.Cowriters, err = db.fetchCowriters(ctx, storyID); err != nil {
			return domain.Story{}, err
		}
	}
	if story.Turns, err = db.fetchTurns(ctx, storyID); err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

func (db *PgDatabase) fetchCowriters(ctx context.Context, storyID string) ([]domain.User, error) {
	const query = `
		SELECT u.id, u.username, u.email, u.email_verification_status
		FROM story_cowriters sc
		JOIN users u ON u.id = sc.user_id
		WHERE sc.story_id = $1
		ORDER BY sc.position
	`
	rows, err := db.q.Query(ctx, query, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cowriters []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.EmailVerificationStatus); err != nil {
			return nil, err
		}
		cowriters = append(cowriters, u)
	}
	return cowriters, rows.Err()
}

func (db *PgDatabase) fetchTurns(ctx context.Context, storyID string) ([]domain.Turn, error) {
	// El orden de insercion (id serial) es la clave de orden de los turnos.
	const query = `
		SELECT u.id, u.username, u.email, u.email_verification_status,
		       t.action, COALESCE(t.text_written, '')
		FROM turns t
		JOIN users u ON u.id = t.taken_by
		WHERE t.story_id = $1
		ORDER BY t.id
	`
	rows, err := db.q.Query(ctx, query, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(
			&turn.TakenBy.ID,
			&turn.TakenBy.Username,
			&turn.TakenBy.Email,
			&turn.TakenBy.EmailVerificationStatus,
			&turn.Action,
			&turn.TextWritten,
		); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (db *PgDatabase) AddCowriters(ctx context.Context, story domain.Story, cowriters []domain.User) (domain.Story, error) {
	const insertCowriter = `
		INSERT INTO story_cowriters (story_id, user_id, position)
		VALUES ($1, $2, $3)
	`
	const updateState = `UPDATE stories SET state = $2 WHERE id = $1`

	for position, cowriter := range cowriters {
		if _, err := db.q.Exec(ctx, insertCowriter, story.ID, cowriter.ID, position); err != nil {
			return domain.Story{}, err
		}
	}
	if _, err := db.q.Exec(ctx, updateState, story.ID, domain.StoryInProgress); err != nil {
		return domain.Story{}, err
	}

	story.State = domain.StoryInProgress
	story.Cowriters = cowriters
	return story, nil
}

func (db *PgDatabase) AddTurn(ctx context.Context, user domain.User, story domain.Story, action domain.TurnAction, textWritten string) (domain.Story, error) {
	const insertTurn = `
		INSERT INTO turns (story_id, taken_by, action, text_written)
		VALUES ($1, $2, $3, $4)
	`
	const updateState = `UPDATE stories SET state = $2 WHERE id = $1`

	if _, err := db.q.Exec(ctx, insertTurn, story.ID, user.ID, action, textWritten); err != nil {
		return domain.Story{}, err
	}

	turns := make([]domain.Turn, 0, len(story.Turns)+1)
	turns = append(turns, story.Turns...)
	turns = append(turns, domain.Turn{TakenBy: user, Action: action, TextWritten: textWritten})
	story.Turns = turns

	if action.Finishes() {
		if _, err := db.q.Exec(ctx, updateState, story.ID, domain.StoryDone); err != nil {
			return domain.Story{}, err
		}
		story.State = domain.StoryDone
	}
	return story, nil
}

func (db *PgDatabase) FetchMe(ctx context.Context, user domain.User) (domain.Me, error) {
	const storyIDsQuery = `
		SELECT s.id
		FROM stories s
		LEFT JOIN story_cowriters sc ON sc.story_id = s.id AND sc.user_id = $1
		WHERE s.created_by = $1 OR sc.user_id IS NOT NULL
		GROUP BY s.id
		ORDER BY MIN(s.created_at)
	`
	rows, err := db.q.Query(ctx, storyIDsQuery, user.ID)
	if err != nil {
		return domain.Me{}, err
	}
	var storyIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return domain.Me{}, err
		}
		storyIDs = append(storyIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Me{}, err
	}

	// Se refresca el usuario: los claims del caller pueden estar viejos.
	freshUser, err := db.FetchUser(ctx, user.ID, false)
	if err != nil {
		return domain.Me{}, err
	}
	me := domain.Me{User: freshUser, HiddenStoryIDs: make(map[string]struct{})}
	for _, id := range storyIDs {
		story, err := db.FetchStory(ctx, id, false)
		if err != nil {
			return domain.Me{}, err
		}
		me.Stories = append(me.Stories, story)
	}

	const hiddenQuery = `SELECT story_id FROM user_story_hides WHERE user_id = $1`
	hiddenRows, err := db.q.Query(ctx, hiddenQuery, user.ID)
	if err != nil {
		return domain.Me{}, err
	}
	defer hiddenRows.Close()
	for hiddenRows.Next() {
		var id string
		if err := hiddenRows.Scan(&id); err != nil {
			return domain.Me{}, err
		}
		me.HiddenStoryIDs[id] = struct{}{}
	}
	return me, hiddenRows.Err()
}

func (db *PgDatabase) HideStory(ctx context.Context, user domain.User, storyID string) error {
	const query = `
		INSERT INTO user_story_hides (user_id, story_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	_, err := db.q.Exec(ctx, query, user.ID, storyID)
	return err
}

func (db *PgDatabase) UnhideStory(ctx context.Context, user domain.User, storyID string) error {
	const query = `DELETE FROM user_story_hides WHERE user_id = $1 AND story_id = $2`
	_, err := db.q.Exec(ctx, query, user.ID, storyID)
	return err
}

// translatePgError mapea fallas de lock a un error reintentable de dominio.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: could not acquire row lock, retry: %v", domain.ErrScribly, err)
	}
	return err
}
