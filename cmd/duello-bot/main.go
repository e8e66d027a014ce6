package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/feloxmctran/felox-sub000/internal/config"
	"github.com/feloxmctran/felox-sub000/internal/duel"
	"github.com/feloxmctran/felox-sub000/internal/duelapi"
	"github.com/feloxmctran/felox-sub000/internal/matchmake"
	"github.com/feloxmctran/felox-sub000/internal/msgcat"
	"github.com/feloxmctran/felox-sub000/internal/obslog"
	"github.com/feloxmctran/felox-sub000/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}

	cat, err := msgcat.New(cfg.MsgDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	store, closeStore := buildSessionStore(cfg)
	defer closeStore()

	ctx := context.Background()
	if err := store.Save(ctx, &session.Session{UserID: cfg.UserID, UserCode: cfg.UserCode}); err != nil {
		log.Fatalf("session save error: %v", err)
	}

	headers := func() map[string]string {
		h := map[string]string{"X-User-Id": cfg.UserID}
		return h
	}
	client := duelapi.NewClient(cfg.BaseURL, duelapi.WithHeaderProvider(headers))

	var repo *duel.Repository
	if cfg.DatabaseURL != "" {
		repo, err = duel.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("result repository error: %v", err)
		}
		defer repo.Close()
	}

	matchCh := make(chan string, 4)
	mgr := matchmake.NewManager(client, cfg.UserID, func(matchID string) {
		select {
		case matchCh <- matchID:
		default:
			obslog.L().Warn("match_queue_full", zap.String("match_id", matchID))
		}
	})
	defer mgr.Close()

	stream, err := duelapi.OpenEvents(cfg.EventsURL, cfg.UserID, mgr.HandlerMap(),
		duelapi.WithStreamHeaderProvider(headers),
		duelapi.WithStreamStateHandler(func(state duelapi.StreamState) {
			obslog.L().Info("events_stream_state", zap.String("state", string(state)))
		}),
	)
	if err != nil {
		log.Fatalf("event stream error: %v", err)
	}
	defer stream.Close(context.Background())

	if _, err := mgr.LoadProfile(ctx); err != nil {
		log.Fatalf("profile load error: %v", err)
	}
	if err := mgr.SetReady(ctx, true); err != nil {
		log.Fatalf("ready error: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	obslog.L().Info("duello_bot_up", zap.String("user_id", cfg.UserID), zap.String("base_url", cfg.BaseURL))

	for {
		select {
		case <-sigCh:
			shutdown(mgr)
			return
		case matchID := <-matchCh:
			runMatch(cfg, client, cat, repo, matchID, sigCh)
		}
	}
}

func buildSessionStore(cfg *appcfg.AppConfig) (session.Store, func()) {
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("session store error: %v", err)
		}
		return rs, func() { _ = rs.Close() }
	}
	return session.NewMemoryStore(), func() {}
}

// runMatch drives one match to completion, then fetches and reports the
// summary.
func runMatch(cfg *appcfg.AppConfig, client *duelapi.Client, cat *msgcat.Catalog, repo *duel.Repository, matchID string, sigCh chan os.Signal) {
	lastIndex := -1
	onUpdate := func(s duel.Snapshot) {
		if s.Index != lastIndex && s.QuestionText != "" {
			lastIndex = s.Index
			printCatalog(cat, "duel.question", map[string]any{
				"Index": s.Index + 1,
				"Total": s.TotalQuestions,
				"Text":  s.QuestionText,
			})
		}
		if s.Countdown == 0 && !s.Answered && !s.Finished {
			printCatalog(cat, "duel.timeup", nil)
		}
	}

	eng, err := duel.NewEngine(client, matchID, cfg.UserID,
		duel.WithDefaultSeconds(cfg.PerQuestionSeconds),
		duel.WithOnUpdate(onUpdate),
	)
	if err != nil {
		obslog.L().Error("duel_engine_init_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = eng.Start(sctx)
	cancel()
	if err != nil {
		obslog.L().Error("duel_start_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}

	snap := eng.Snapshot()
	printCatalog(cat, "duel.start", map[string]any{"Total": snap.TotalQuestions, "Mode": string(snap.Mode)})

	select {
	case <-eng.Done():
	case <-sigCh:
		eng.Stop()
		eng.Wait()
		return
	}
	eng.Wait()

	printCatalog(cat, "duel.finished", nil)
	reportSummary(cfg, cat, repo, eng)
}

func reportSummary(cfg *appcfg.AppConfig, cat *msgcat.Catalog, repo *duel.Repository, eng *duel.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sum, err := eng.Summary(ctx)
	if err != nil {
		// summary failure is user-visible, not silent
		printCatalog(cat, "summary.error", map[string]any{"Error": err.Error()})
		return
	}
	for _, u := range []duelapi.SummaryUser{sum.Users.A, sum.Users.B} {
		name := u.Name
		if name == "" {
			name = u.UserID
		}
		printCatalog(cat, "summary.line", map[string]any{
			"Name": name, "Score": u.Score, "Correct": u.Correct, "Wrong": u.Wrong,
		})
	}
	printCatalog(cat, "summary.result", map[string]any{"Code": sum.Result.Code})

	if repo != nil {
		mode := eng.Snapshot().Mode
		if err := repo.SaveSummary(ctx, eng.MatchID(), mode, sum); err != nil {
			obslog.L().Error("duel_result_persist_error", zap.String("match_id", eng.MatchID()), zap.Error(err))
		} else {
			obslog.L().Info("duel_result_persist", zap.String("match_id", eng.MatchID()), zap.String("result", sum.Result.Code))
		}
	}
}

func shutdown(mgr *matchmake.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.SetReady(ctx, false); err != nil {
		obslog.L().Warn("ready_off_error", zap.Error(err))
	}
}

func printCatalog(cat *msgcat.Catalog, key string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	text, err := cat.Render(key, data)
	if err != nil {
		raw, _ := json.Marshal(data)
		log.Printf("%s %s", key, raw)
		return
	}
	log.Print(text)
}
