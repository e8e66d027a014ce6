package duel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/feloxmctran/felox-sub000/internal/duelapi"
)

// Repository persists finished-duel summaries locally for match history.
// It is optional: the engine works without it.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveSummary upserts one finished match result keyed by match id.
func (r *Repository) SaveSummary(ctx context.Context, matchID string, mode duelapi.DuelMode, sum *duelapi.MatchSummary) error {
	if r == nil || r.db == nil || sum == nil {
		return nil
	}

	q := `INSERT INTO duel_results (
	    match_id, mode,
	    user_a_id, user_a_score, user_a_correct, user_a_wrong,
	    user_b_id, user_b_score, user_b_correct, user_b_wrong,
	    result_code, finished_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	  ) ON CONFLICT (match_id) DO UPDATE SET
	    mode=EXCLUDED.mode,
	    user_a_id=EXCLUDED.user_a_id,
	    user_a_score=EXCLUDED.user_a_score,
	    user_a_correct=EXCLUDED.user_a_correct,
	    user_a_wrong=EXCLUDED.user_a_wrong,
	    user_b_id=EXCLUDED.user_b_id,
	    user_b_score=EXCLUDED.user_b_score,
	    user_b_correct=EXCLUDED.user_b_correct,
	    user_b_wrong=EXCLUDED.user_b_wrong,
	    result_code=EXCLUDED.result_code,
	    finished_at=EXCLUDED.finished_at`

	_, err := r.db.ExecContext(ctx, q,
		matchID, string(mode),
		sum.Users.A.UserID, sum.Users.A.Score, sum.Users.A.Correct, sum.Users.A.Wrong,
		sum.Users.B.UserID, sum.Users.B.Score, sum.Users.B.Correct, sum.Users.B.Wrong,
		sum.Result.Code, time.Now(),
	)
	return err
}
