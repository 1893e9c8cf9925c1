package records

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Link is one recorded download request.
type Link struct {
	UserID      int64
	URL         string
	RequestedAt time.Time
}

// Store persists known users, bans, and link history in Postgres.
type Store struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("component", "records")),
		pool:   pool,
	}
}

// AddKnownUser records a user the first time they talk to the bot.
// Re-adding an existing user is a no-op.
func (s *Store) AddKnownUser(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO known_users (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("add known user: %w", err)
	}
	return nil
}

// CountKnownUsers returns the total number of users ever seen.
func (s *Store) CountKnownUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM known_users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count known users: %w", err)
	}
	return count, nil
}

// AllKnownUsers returns every recorded user ID, for broadcast fan-out.
func (s *Store) AllKnownUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM known_users ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("list known users: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan known user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list known users: %w", err)
	}
	return users, nil
}

// IsBanned reports whether the user is on the ban list.
func (s *Store) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM banned_users WHERE user_id = $1)`, userID).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return banned, nil
}

// Ban adds the user to the ban list. Banning twice is a no-op.
func (s *Store) Ban(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO banned_users (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("ban user: %w", err)
	}
	return nil
}

// Unban removes the user from the ban list. Unbanning an unbanned user
// is a no-op.
func (s *Store) Unban(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM banned_users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("unban user: %w", err)
	}
	return nil
}

// AddLink appends one requested URL to the history.
func (s *Store) AddLink(ctx context.Context, userID int64, url string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO link_history (user_id, url) VALUES ($1, $2)`, userID, url)
	if err != nil {
		return fmt.Errorf("add link: %w", err)
	}
	return nil
}

// RecentLinks returns up to limit most recent requests, newest first.
func (s *Store) RecentLinks(ctx context.Context, limit int) ([]Link, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, url, requested_at FROM link_history
		 ORDER BY requested_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.UserID, &l.URL, &l.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent links: %w", err)
	}
	return links, nil
}
