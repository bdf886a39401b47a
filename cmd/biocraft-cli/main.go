package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/pribylovaa/biocraft-studio/internal/client"
	"github.com/pribylovaa/biocraft-studio/internal/client/localstore"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
)

const usage = `usage: biocraft-cli [-server URL] [-data PATH] [-v] <command> [args]

commands:
  login [-remember] [email]
  signup [email]
  logout
  whoami
  reset [email]
  recipes list
  recipes save <file>
  recipes get <id>
  recipes delete <id>
`

var stdin = bufio.NewReader(os.Stdin)

type app struct {
	auth    *client.AuthContext
	recipes *client.RecipeContext
	out     io.Writer
}

func main() {
	var (
		server  string
		data    string
		verbose bool
	)

	flag.StringVar(&server, "server", envOr("BIOCRAFT_SERVER", "http://localhost:3001"), "API base URL")
	flag.StringVar(&data, "data", defaultDataPath(), "path to local state database")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = log.Into(ctx, logger)

	if err := run(ctx, server, data, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, server, data string, args []string) error {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return fmt.Errorf("invalid -server: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(data), 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := localstore.Open(ctx, data)
	if err != nil {
		return err
	}
	defer store.Close()

	jar, err := loadJar(ctx, store, base)
	if err != nil {
		return err
	}

	api, err := client.NewAPI(server, client.WithHTTPClient(&http.Client{Jar: jar}))
	if err != nil {
		return err
	}

	a := &app{out: os.Stdout}
	a.auth = client.NewAuthContext(api, store)
	defer a.auth.Close()
	a.recipes = client.NewRecipeContext(api, a.auth)
	defer a.recipes.Close()

	defer func() {
		// cookie сохраняются и после ошибки: сервер мог их обновить.
		if err := saveJar(context.Background(), store, jar, base); err != nil {
			log.From(ctx).Warn("cookies_save_failed", slog.String("err", err.Error()))
		}
	}()

	switch args[0] {
	case "login":
		return a.login(ctx, args[1:])
	case "signup":
		return a.signup(ctx, args[1:])
	case "logout":
		a.auth.Logout(ctx)
		fmt.Fprintln(a.out, "Signed out")
		return nil
	case "whoami":
		return a.whoami(ctx)
	case "reset":
		return a.reset(ctx, args[1:])
	case "recipes":
		return a.recipesCmd(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("login", flag.ContinueOnError)
	remember := fset.Bool("remember", false, "keep the session for 7 days")
	if err := fset.Parse(args); err != nil {
		return err
	}

	email, err := argOrPrompt(fset.Args(), "Email: ")
	if err != nil {
		return err
	}

	password, err := readSecret("Password: ")
	if err != nil {
		return err
	}

	sum, err := a.auth.Login(ctx, email, password, *remember)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Signed in as %s (expires %s)\n", sum.User.Email, formatUnix(sum.ExpiresAt))
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	email, err := argOrPrompt(args, "Email: ")
	if err != nil {
		return err
	}

	password, err := readSecret("Password: ")
	if err != nil {
		return err
	}

	confirm, err := readSecret("Confirm password: ")
	if err != nil {
		return err
	}

	id, err := a.auth.SignUp(ctx, email, password, &confirm)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Account %s created. Please verify your email, then run login.\n", id.Email)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	if a.auth.Restore(ctx) != client.StateAuthenticated {
		return client.ErrNotAuthenticated
	}

	sum := a.auth.Session()
	fmt.Fprintf(a.out, "%s\nrole: %s\nuser id: %s\nexpires: %s\n",
		sum.User.Email, sum.User.Role, sum.User.ID, formatUnix(sum.ExpiresAt))

	if w := a.auth.Warning(); w != "" {
		fmt.Fprintln(os.Stderr, w)
	}

	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	email, err := argOrPrompt(args, "Email: ")
	if err != nil {
		return err
	}

	msg, err := a.auth.ResetPassword(ctx, email)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) recipesCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("recipes: expected list, save, get or delete")
	}

	// Restore перечитывает список через подписку RecipeContext.
	if a.auth.Restore(ctx) != client.StateAuthenticated {
		return client.ErrNotAuthenticated
	}
	if a.auth.Offline() {
		return errors.New(client.OfflineWarning)
	}

	switch args[0] {
	case "list":
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tUPDATED")
		for _, r := range a.recipes.Recipes() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.RecipeName, r.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()

	case "save":
		if len(args) < 2 {
			return errors.New("recipes save: file path required")
		}
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		rec, created, err := a.recipes.Save(ctx, json.RawMessage(raw))
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(a.out, "Saved %q as %s\n", rec.RecipeName, rec.ID)
		} else {
			fmt.Fprintf(a.out, "Already saved as %s\n", rec.ID)
		}
		return nil

	case "get":
		id, err := recipeID(args)
		if err != nil {
			return err
		}
		rec, err := a.recipes.Load(ctx, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec.RecipeData)

	case "delete":
		id, err := recipeID(args)
		if err != nil {
			return err
		}
		if err := a.recipes.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Deleted", id)
		return nil

	default:
		return fmt.Errorf("recipes: unknown subcommand %q", args[0])
	}
}

func recipeID(args []string) (uuid.UUID, error) {
	if len(args) < 2 {
		return uuid.Nil, fmt.Errorf("recipes %s: id required", args[0])
	}
	return uuid.Parse(args[1])
}

// describe выводит текст сервера для APIError и различает таймаут и сеть.
func describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, client.ErrTimeout):
		return "the server did not respond in time, try again"
	case errors.Is(err, client.ErrNetwork):
		return "cannot reach the server"
	default:
		return err.Error()
	}
}

func argOrPrompt(args []string, prompt string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}

	fmt.Fprint(os.Stderr, prompt)
	return readLine()
}

// readSecret читает пароль без эха, если stdin — терминал.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	return readLine()
}

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func formatUnix(sec int64) string {
	if sec <= 0 {
		return "unknown"
	}
	return time.Unix(sec, 0).Local().Format(time.DateTime)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".biocraft", "state.db")
	}
	return filepath.Join(home, ".biocraft", "state.db")
}
