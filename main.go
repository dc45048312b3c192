package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/quillworks/kbchat/api"
	"github.com/quillworks/kbchat/chat"
	"github.com/quillworks/kbchat/config"
	"github.com/quillworks/kbchat/contextstore"
	"github.com/quillworks/kbchat/database"
	"github.com/quillworks/kbchat/docstore"
	"github.com/quillworks/kbchat/embedding"
	"github.com/quillworks/kbchat/inference"
	"github.com/quillworks/kbchat/ingestion"
	"github.com/quillworks/kbchat/knowledge"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "contexts":
		contextsCmd(cfg, logger, os.Args[2:])
	case "cleanup":
		cleanupCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// services groups everything a command needs, wired once per invocation.
type services struct {
	pool     *pgxpool.Pool
	neo4j    neo4j.DriverWithContext
	docs     docstore.Store
	contexts *contextstore.Store
	gateway  *embedding.Gateway
	pipeline *ingestion.Pipeline
	chat     *chat.Service
}

func (s *services) close(ctx context.Context) {
	if s.neo4j != nil {
		if err := s.neo4j.Close(ctx); err != nil {
			log.Printf("close neo4j driver: %v", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// wire builds the full service graph. The neo4j graph layer is optional: when
// the driver cannot connect, ingestion and chat run without graph sync.
func wire(ctx context.Context, cfg config.Config, logger *log.Logger) (*services, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}

	if err := database.EnsureSchema(ctx, pool, cfg.EmbeddingDimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	svc := &services{pool: pool}

	provider := inference.NewProvider(cfg, logger)
	svc.gateway = embedding.NewGateway(provider, logger)
	svc.docs = docstore.NewPostgresStore(pool)
	svc.contexts = contextstore.New(contextstore.NewPostgresRepository(pool), nil, logger, contextstore.Options{})

	pipelineOpts := []ingestion.Option{}
	var insights knowledge.InsightStore
	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Printf("neo4j unavailable, continuing without knowledge graph: %v", err)
	} else {
		svc.neo4j = driver
		pipelineOpts = append(pipelineOpts, ingestion.WithGraph(knowledge.NewGraphSync(driver)))
		insights = knowledge.NewNeo4jInsightStore(driver)
	}

	svc.pipeline = ingestion.New(svc.docs, svc.gateway, logger, pipelineOpts...)
	svc.chat = chat.NewService(svc.docs, svc.contexts, svc.gateway, provider, insights, logger)

	return svc, nil
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire services: %v", err)
	}
	defer svc.close(context.Background())

	server := &http.Server{
		Addr:    *addr,
		Handler: api.New(svc.pipeline, svc.chat, svc.docs, svc.contexts, logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "directory of documents to ingest")
	owner := flags.String("owner", "", "owner id recorded on the documents")
	tags := flags.String("tags", "", "comma-separated tags applied to every document")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire services: %v", err)
	}
	defer svc.close(context.Background())

	files, err := collectFiles(*dataDir)
	if err != nil {
		logger.Fatalf("collect files: %v", err)
	}
	if len(files) == 0 {
		logger.Printf("no ingestible files under %s", *dataDir)
		return
	}

	meta := ingestion.Metadata{OwnerID: *owner, Tags: splitList(*tags)}
	result := svc.pipeline.IngestBatch(ctx, files, meta)

	logger.Printf("ingested %d of %d files", len(result.Successful), len(files))
	for _, failure := range result.Failed {
		logger.Printf("failed %s: %v", failure.Name, failure.Err)
	}
	if len(result.Failed) > 0 {
		os.Exit(1)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	question := flags.String("question", "", "question to ask")
	conversation := flags.String("conversation", "", "conversation id to continue")
	user := flags.String("user", "", "user id owning the conversation")
	noRAG := flags.Bool("no-rag", false, "answer without knowledge base retrieval")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	conversationID := uuid.Nil
	if *conversation != "" {
		parsed, err := uuid.Parse(*conversation)
		if err != nil {
			logger.Fatalf("invalid conversation id: %v", err)
		}
		conversationID = parsed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire services: %v", err)
	}
	defer svc.close(context.Background())

	resp, err := svc.chat.Chat(ctx, *question, conversationID, chat.Options{
		UserID:     *user,
		DisableRAG: *noRAG,
	})
	if err != nil {
		logger.Fatalf("chat failed: %v", err)
	}

	fmt.Println(resp.Answer)
	fmt.Printf("\nConversation: %s\n", resp.ConversationID)
	if len(resp.Sources) > 0 {
		fmt.Println("Sources:")
		for idx, source := range resp.Sources {
			fmt.Printf("%d. %s (similarity %.2f)\n", idx+1, source.DocumentName, source.Similarity)
			if len(source.Insight.Topics) > 0 {
				fmt.Printf("   Topics: %s\n", strings.Join(source.Insight.Topics, ", "))
			}
			if len(source.Insight.Related) > 0 {
				fmt.Println("   Related documents:")
				for _, related := range source.Insight.Related {
					fmt.Printf("     - %s (%d shared topics)\n", related.Name, related.SharedTopics)
				}
			}
		}
	}
}

func contextsCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("contexts", flag.ExitOnError)
	user := flags.String("user", "", "user id to list conversations for")
	limit := flags.Int("limit", 20, "maximum conversations to list")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse contexts flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire services: %v", err)
	}
	defer svc.close(context.Background())

	conversations, err := svc.contexts.GetUserContexts(ctx, *user, *limit)
	if err != nil {
		logger.Fatalf("list conversations: %v", err)
	}

	if len(conversations) == 0 {
		fmt.Println("No conversations found.")
		return
	}
	for _, conversation := range conversations {
		fmt.Printf("%s  %-40s  %d messages, ~%d tokens, updated %s\n",
			conversation.ID,
			conversation.Title,
			len(conversation.Messages),
			conversation.TokenCount,
			conversation.UpdatedAt.Format(time.RFC3339),
		)
	}
}

func cleanupCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("cleanup", flag.ExitOnError)
	days := flags.Int("days", 30, "delete conversations idle for this many days")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse cleanup flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("wire services: %v", err)
	}
	defer svc.close(context.Background())

	removed, err := svc.contexts.CleanupExpired(ctx, *days)
	if err != nil {
		logger.Fatalf("cleanup conversations: %v", err)
	}
	logger.Printf("removed %d expired conversations", removed)
}

// collectFiles walks dir and loads every file with a recognized format.
func collectFiles(dir string) ([]ingestion.File, error) {
	var files []ingestion.File
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if ingestion.DetectFormat(entry.Name(), "") == ingestion.FormatUnknown {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, ingestion.File{Name: entry.Name(), Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("Usage: kbchat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve     Run the HTTP API")
	fmt.Println("  ingest    Ingest documents from a directory (use --dir to override)")
	fmt.Println("  chat      Ask a question against the knowledge base")
	fmt.Println("  contexts  List conversation contexts for a user")
	fmt.Println("  cleanup   Delete conversations idle past the expiry window")
}
