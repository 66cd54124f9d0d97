package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"chatcore/internal/adapter/tool"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
	"chatcore/internal/infra/logger"
	"chatcore/internal/infra/telemetry"
	"chatcore/internal/infra/tracer"
	"chatcore/internal/usecase/completion"
	"chatcore/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "encrypt":
			if err := runEncrypt(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(parseFlags(os.Args[1:])); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`chatcore - multi-round chat completions with automatic function calling

USAGE:
    chatcore [FLAGS] [PROMPT...]
    chatcore encrypt VALUE

COMMANDS:
    encrypt     Encrypt a secret for config.yaml with CHATCORE_CONFIG_KEY

    (no command) - Send PROMPT (or stdin) and print the reply

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)
    --model NAME       Override completion.model
    --stream           Stream the reply as it arrives
    --no-tools         Do not advertise functions to the model

CONFIGURATION:
    Config file: ./config.yaml
    Environment: CHATCORE_* variables override config; .env is loaded first`)
}

// cliFlags holds the parsed command line.
type cliFlags struct {
	ConfigPath string
	Model      string
	Stream     bool
	NoTools    bool
	Prompt     string
}

// parseFlags extracts flags from args; remaining words form the prompt.
func parseFlags(args []string) cliFlags {
	flags := cliFlags{ConfigPath: "config.yaml"}
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			flags.ConfigPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--model" && i+1 < len(args):
			flags.Model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--model="):
			flags.Model = strings.TrimPrefix(args[i], "--model=")
		case args[i] == "--stream":
			flags.Stream = true
		case args[i] == "--no-tools":
			flags.NoTools = true
		default:
			words = append(words, args[i])
		}
	}
	flags.Prompt = strings.Join(words, " ")
	return flags
}

func run(flags cliFlags) error {
	// A missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	if flags.Model != "" {
		cfg.Completion.Model = flags.Model
	}
	if flags.Stream {
		cfg.Completion.Stream = true
	}
	if flags.NoTools {
		cfg.Completion.ToolBehavior = config.ToolBehaviorNone
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	bus := eventbus.New(log)
	defer bus.Close()

	var notifier domain.TelemetryNotifier = domain.NopNotifier{}
	if cfg.Telemetry.Enabled {
		n, err := telemetry.NewNotifier(telemetry.Deps{Logger: log, Bus: bus, LogUsage: cfg.Telemetry.LogUsage})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		notifier = n
	}

	llmc, err := initLLM(cfg, log)
	if err != nil {
		return err
	}

	// Approval prompts read stdin, which is free only when the prompt came from the command line.
	approve := tool.DenyAll
	if strings.TrimSpace(flags.Prompt) != "" {
		approve = promptApprover(os.Stdin, os.Stderr)
	}
	fc, err := initFunctions(ctx, cfg, approve, log)
	if err != nil {
		return err
	}
	defer fc.Close()

	settings, err := executionSettings(ctx, cfg.Completion, fc.Registry)
	if err != nil {
		return err
	}

	svc := completion.NewService(completion.Deps{
		LLM:          llmc.DefaultLLM,
		Functions:    fc.Registry,
		Filters:      fc.Filters,
		Notifier:     notifier,
		Bus:          bus,
		Logger:       log,
		DefaultModel: cfg.Completion.Model,
	})

	prompt, err := readPrompt(flags.Prompt, os.Stdin)
	if err != nil {
		return err
	}
	history := domain.NewChatHistory()
	history.AddUserMessage(prompt)

	if cfg.Completion.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Completion.Timeout)
		defer cancel()
	}

	if cfg.Completion.Stream {
		return streamReply(ctx, svc, history, settings, os.Stdout)
	}
	return printReply(ctx, svc, history, settings, os.Stdout)
}

// readPrompt returns the prompt from the command line, or all of stdin.
func readPrompt(fromArgs string, stdin io.Reader) (string, error) {
	if p := strings.TrimSpace(fromArgs); p != "" {
		return p, nil
	}
	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	p := strings.TrimSpace(string(data))
	if p == "" {
		return "", errors.New("no prompt given")
	}
	return p, nil
}

func printReply(ctx context.Context, svc *completion.Service, history *domain.ChatHistory, settings *domain.ExecutionSettings, w io.Writer) error {
	msgs, err := svc.GetChatMessageContents(ctx, history, settings)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		if len(msgs) > 1 {
			fmt.Fprintf(w, "--- choice %d ---\n", i)
		}
		printMessage(w, m)
	}
	return nil
}

func streamReply(ctx context.Context, svc *completion.Service, history *domain.ChatHistory, settings *domain.ExecutionSettings, w io.Writer) error {
	ch, err := svc.GetStreamingChatMessageContents(ctx, history, settings)
	if err != nil {
		return err
	}
	for m := range ch {
		if m.Err != nil {
			fmt.Fprintln(w)
			return m.Err
		}
		if m.Message != nil {
			printMessage(w, *m.Message)
			continue
		}
		fmt.Fprint(w, m.Content)
	}
	fmt.Fprintln(w)
	// A cancelled stream closes without an error item.
	return ctx.Err()
}

// printMessage writes the text of m, or the calls it asks for when the
// model's tool calls were not invoked automatically.
func printMessage(w io.Writer, m domain.Message) {
	if text := m.Text(); text != "" {
		fmt.Fprintln(w, text)
	}
	for _, fc := range m.FunctionCalls() {
		fmt.Fprintf(w, "[call %s] %s(%s)\n", fc.ID, fc.FullyQualifiedName(), fc.RawArguments)
	}
}

func runEncrypt(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chatcore encrypt VALUE")
	}
	_ = godotenv.Load()
	passphrase := os.Getenv("CHATCORE_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("CHATCORE_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
