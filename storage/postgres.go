package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Web-Am/buzzer/domain"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func (repo *PostgresRepo) Close() {
	repo.pool.Close()
}

func (repo *PostgresRepo) GetMasterByUsername(ctx context.Context, username string) (domain.Master, error) {
	master := domain.Master{Username: username}

	row := repo.pool.QueryRow(ctx, "SELECT id, password_hash FROM masters WHERE username = $1", username)

	err := row.Scan(&master.Id, &master.PasswordHash)

	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return master, domain.ErrUserNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.Master{}, err
		default:
			return domain.Master{}, fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
		}
	}

	return master, nil
}

func (repo *PostgresRepo) GetMasterById(ctx context.Context, id string) (domain.Master, error) {
	master := domain.Master{Id: id}

	row := repo.pool.QueryRow(ctx, "SELECT username, password_hash FROM masters WHERE id = $1", id)

	err := row.Scan(&master.Username, &master.PasswordHash)

	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.Master{}, domain.ErrUserNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.Master{}, err
		default:
			return domain.Master{}, fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
		}
	}

	return master, nil
}

func (repo *PostgresRepo) CreateMaster(ctx context.Context, username string, passwordHash string) (string, error) {
	row := repo.pool.QueryRow(ctx, "INSERT INTO masters(username, password_hash) VALUES($1, $2) RETURNING id", username, passwordHash)

	var id string
	err := row.Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// "23505" is the PostgreSQL error code for unique_violation
			if pgErr.Code == "23505" {
				return "", domain.ErrDuplicateUsername
			}
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		return "", fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
	}

	return id, nil
}

// ArchiveRound implements the game.ResultArchiver interface.
func (repo *PostgresRepo) ArchiveRound(ctx context.Context, round domain.ArchivedRound) error {
	_, err := repo.pool.Exec(ctx,
		`INSERT INTO rounds_archive(id, room_code, question, winner_key, winner_name, points_awarded, bids_count, started_at, ended_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		round.Id, round.RoomCode, round.Question, round.WinnerKey, round.WinnerName,
		round.PointsAwarded, round.BidsCount, round.StartedAt, round.EndedAt)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
	}

	return nil
}

func (repo *PostgresRepo) ListArchivedRounds(ctx context.Context, roomCode string, limit int) ([]domain.ArchivedRound, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := repo.pool.Query(ctx,
		`SELECT id, room_code, question, winner_key, winner_name, points_awarded, bids_count, started_at, ended_at
		 FROM rounds_archive
		 WHERE room_code = $1
		 ORDER BY ended_at DESC
		 LIMIT $2`,
		roomCode, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
	}
	defer rows.Close()

	archived := make([]domain.ArchivedRound, 0, limit)
	for rows.Next() {
		var ar domain.ArchivedRound
		if err := rows.Scan(&ar.Id, &ar.RoomCode, &ar.Question, &ar.WinnerKey, &ar.WinnerName,
			&ar.PointsAwarded, &ar.BidsCount, &ar.StartedAt, &ar.EndedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
		}
		archived = append(archived, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
	}

	return archived, nil
}
