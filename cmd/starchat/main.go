// Command starchat runs the simulated-chat client: an interactive terminal
// chat by default, or an HTTP server with the serve subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"starchat/internal/config"
	"starchat/internal/core"
	"starchat/internal/dispatch"
	"starchat/internal/embedding"
	"starchat/internal/gateway"
	"starchat/internal/logging"
	"starchat/internal/prompt"
	"starchat/internal/relation"
	"starchat/internal/render"
	"starchat/internal/store"
)

var (
	cfgFile string
	debug   bool
)

func main() {
	root := &cobra.Command{
		Use:   "starchat",
		Short: "A simulated chat client driven by an LLM",
		Long: `starchat runs character conversations on top of any OpenAI-compatible
or Gemini endpoint: prompt assembly, tolerant JSON extraction, and an
action state machine that plays the reply back like a real chat.`,
		SilenceUsage: true,
		RunE:         runChat,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "starchat.yaml", "config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal chat (default)",
		RunE:  runChat,
	}
	chatCmd.Flags().StringVar(&convID, "conv", "", "conversation id to open")
	chatCmd.Flags().StringVar(&charName, "character", "", "create a chat with this character")
	chatCmd.Flags().StringVar(&charPersona, "persona", "", "persona for a newly created character")
	chatCmd.Flags().StringVar(&userName, "user", "You", "your display name")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}

	root.AddCommand(chatCmd, serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime bundles the wired application.
type runtime struct {
	cfg     *config.Config
	store   *store.Store
	service *core.Service
	console *render.Console
	book    *prompt.WorldBook
}

// setup loads config and wires every collaborator. Callers own the
// returned runtime and must Close it.
func setup(ctx context.Context) (*runtime, error) {
	// A missing .env is fine; explicit env still applies.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Debug = true
	}
	if err := logging.Initialize(cfg.DataDir, cfg.Logging.Debug, cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.Get(logging.CategoryBoot).Info("starting %s", cfg.Name)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	llm, err := gateway.NewClient(ctx, cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}
	logging.Get(logging.CategoryBoot).Info("llm client: %s", llm.Name())

	var embedEngine embedding.Engine
	if cfg.LLM.EmbedModel != "" {
		eng, err := embedding.NewGenAIEngine(ctx, cfg.LLM.APIKey, cfg.LLM.EmbedModel)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("embedding disabled: %v", err)
		} else {
			embedEngine = eng
			logging.Get(logging.CategoryBoot).Info("embedding engine: %s", eng.Name())
		}
	}

	book, err := prompt.NewWorldBook(cfg.Assets.WorldBookDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	catalog := prompt.Catalog{
		Stickers:    listAssetNames(cfg.Assets.Stickers),
		Backgrounds: listAssetNames(cfg.Assets.Backgrounds),
	}

	console := render.NewConsole(os.Stdout)
	rel := relation.NewEngine(st, embedEngine)
	dispatcher := dispatch.New(st, rel, console, dispatch.Config{
		PaceMinMs: cfg.Chat.PaceMinMs,
		PaceMaxMs: cfg.Chat.PaceMaxMs,
		Stickers:  catalog.Stickers,
	})
	assembler := prompt.NewAssembler(st, book, cfg.Chat, catalog)
	guard := gateway.NewGuard(busyToast{console})
	svc := core.NewService(st, assembler, llm, guard, dispatcher, console, console, rel)

	return &runtime{cfg: cfg, store: st, service: svc, console: console, book: book}, nil
}

// listAssetNames reads an asset directory into catalog names, extensions
// stripped. A missing directory reads as an empty catalog.
func listAssetNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return names
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("close store: %v", err)
	}
	logging.Sync()
}

// busyToast routes guard busy signals to the console as toasts.
type busyToast struct {
	console *render.Console
}

func (b busyToast) InferenceBusy(key string) {
	b.console.Toast(key, "Typing...")
}
