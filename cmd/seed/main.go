// Command seed loads an article's existing comments into the similarity index.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"comment-refiner/internal/config"
	"comment-refiner/internal/domain/model"
	aiAdapters "comment-refiner/internal/infra/adapters/ai"
	pg "comment-refiner/internal/infra/db/postgres"
	"comment-refiner/internal/infra/logging"
	"comment-refiner/internal/infra/metrics"
	"comment-refiner/internal/infra/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	articlePath := fs.String("article", "", "file holding the article text")
	commentsPath := fs.String("comments", "", "file with one comment per line (optionally \"id<TAB>text\")")
	workers := fs.Int("workers", 4, "concurrent index writers")
	batch := fs.Int("batch", 64, "comments per embedding batch")
	cfgPath, devMode, err := config.ParseFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		os.Exit(2)
	}
	if *articlePath == "" || *commentsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -article article.txt -comments comments.txt [-config config.yaml]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	if cfg.Database.URL == "" {
		logger.Fatal().Msg("database.url is required to seed the similarity index")
	}

	article, err := os.ReadFile(*articlePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read article")
	}
	f, err := os.Open(*commentsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open comments")
	}
	docs, err := readComments(f)
	_ = f.Close()
	if err != nil {
		logger.Fatal().Err(err).Msg("read comments")
	}

	providers, err := aiAdapters.BuildProviders(ctx, cfg.AI, cfg.Database.EmbeddingDims, cfg.Runtime.Dev, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ai providers")
	}

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	index := pg.NewCommentIndex(pool, pg.NewTxManager(pool), providers.Embedder, cfg.Database.EmbeddingDims, logger)
	if err := index.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("schema")
	}

	scopeID := model.ScopeIDForArticle(strings.TrimSpace(string(article)))
	start := time.Now()

	wp := worker.NewPool(*workers, logger)
	wp.Start(ctx)
	loader := worker.NewCorpusLoader(index, wp, *batch, logger)
	loadErr := loader.Load(ctx, scopeID, docs)
	stopErr := wp.Stop()

	l := logger.With().
		Str("scope_id", scopeID).
		Int("comments", len(docs)).
		Int64("indexed", loader.Indexed()).
		Int("failed_batches", wp.Failed()).
		Dur("took", time.Since(start)).
		Logger()
	if loadErr != nil || stopErr != nil {
		l.Error().AnErr("load", loadErr).AnErr("batch", stopErr).Msg("seeding incomplete")
		os.Exit(1)
	}
	l.Info().Msg("seeding complete")
}

// readComments parses one comment per line. Blank lines are skipped; a tab separates an
// explicit id from the text, otherwise the line number is the id.
func readComments(r io.Reader) ([]worker.Document, error) {
	var out []worker.Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, text, ok := strings.Cut(line, "\t")
		if !ok {
			id, text = strconv.Itoa(n), line
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		out = append(out, worker.Document{ID: strings.TrimSpace(id), Text: text})
	}
	return out, sc.Err()
}
