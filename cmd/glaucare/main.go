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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/auth"
	"github.com/glaucare/glaucare/internal/config"
	"github.com/glaucare/glaucare/internal/credstore"
	"github.com/glaucare/glaucare/internal/infra"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
	"github.com/glaucare/glaucare/internal/notification"
	"github.com/glaucare/glaucare/internal/session"
)

const usage = `usage: glaucare [flags] <command> [args]

commands:
  status                    show the restored session
  login <mobile>            send an OTP, read it from stdin, and sign in
  guest-login [device-id]   start a guest session
  convert <mobile>          convert the guest session to a registered account
  delete-guest              delete the guest account
  me                        print the signed-in account
  verify-token              ask the backend whether the token is valid
  is-guest                  ask the backend whether the account is a guest
  fcm-token <token>         register a push notification token
  logout                    end the session

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fs := flag.NewFlagSet("glaucare", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	server := fs.String("server", "", "backend base URL (default: API_BASE_URL or the APP_ENV default)")
	storeKind := fs.String("store", cfg.CredentialStore, "credential store: file, redis or memory")
	remember := fs.Bool("remember", false, "remember this session (login only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *server != "" {
		cfg.APIBaseURL = strings.TrimRight(*server, "/")
	}
	cfg.CredentialStore = *storeKind
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	logger := logging.New(cfg.LogLevel)
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client := auth.NewClient(auth.Options{
		BaseURL:        cfg.APIBaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		Store:          store,
		RefreshTimeout: cfg.RefreshTimeout,
		Logger:         logger,
	})
	defer client.Close()
	client.Bus.Subscribe(notification.LogListener(logger))

	if _, err := client.Auth.Restore(ctx); err != nil {
		return err
	}

	cmd := &commands{client: client, cfg: cfg, in: bufio.NewReader(stdin), out: stdout, remember: *remember}
	return cmd.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (credstore.Store, func(), error) {
	switch cfg.CredentialStore {
	case config.StoreMemory:
		return credstore.NewMemory(), func() {}, nil
	case config.StoreRedis:
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return credstore.NewRedis(cache, cfg.Namespace), func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}, nil
	case config.StoreFile, "":
		return credstore.NewFile(cfg.StorePath), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
	}
}

type commands struct {
	client   *auth.Client
	cfg      config.Config
	in       *bufio.Reader
	out      io.Writer
	remember bool
}

func (c *commands) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "status":
		return c.status()
	case "login":
		if len(args) != 1 {
			return errors.New("usage: login <mobile>")
		}
		return c.login(ctx, args[0])
	case "guest-login":
		device := c.cfg.DeviceID
		if len(args) > 0 {
			device = args[0]
		}
		if device == "" {
			device = uuid.NewString()
		}
		user, err := c.client.Guest.GuestLogin(ctx, device)
		if err != nil {
			return err
		}
		return c.print(user)
	case "convert":
		if len(args) != 1 {
			return errors.New("usage: convert <mobile>")
		}
		return c.convert(ctx, args[0])
	case "delete-guest":
		if err := c.client.Guest.DeleteGuest(ctx); err != nil {
			return err
		}
		return c.status()
	case "me":
		user, err := c.client.Auth.Me(ctx)
		if err != nil {
			return err
		}
		return c.print(user)
	case "verify-token":
		st, err := c.client.Auth.VerifyToken(ctx)
		if err != nil {
			return err
		}
		return c.print(st)
	case "is-guest":
		isGuest, err := c.client.Guest.IsGuest(ctx)
		if err != nil {
			return err
		}
		return c.print(map[string]bool{"isGuest": isGuest})
	case "fcm-token":
		if len(args) != 1 {
			return errors.New("usage: fcm-token <token>")
		}
		return c.client.Auth.UpdateFCMToken(ctx, args[0])
	case "logout":
		err := c.client.Auth.Logout(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "backend logout failed, local session cleared: %v\n", err)
		}
		return c.status()
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (c *commands) login(ctx context.Context, mobile string) error {
	if err := c.client.Auth.SendOtp(ctx, mobile); err != nil {
		return err
	}
	otp, err := c.prompt("OTP: ")
	if err != nil {
		_ = c.client.Auth.AbandonOtp()
		return err
	}
	phase, err := c.client.Auth.VerifyOtp(ctx, mobile, otp, c.remember)
	if err != nil {
		return err
	}
	if phase == session.RequiresRegistration {
		var profile model.Profile
		if profile.Fullname, err = c.prompt("Full name: "); err != nil {
			return err
		}
		if profile.Email, err = c.prompt("Email (optional): "); err != nil {
			return err
		}
		if profile.LanguagePreference, err = c.prompt("Language (optional): "); err != nil {
			return err
		}
		if _, err := c.client.Auth.CompleteRegistration(ctx, profile); err != nil {
			return err
		}
	}
	return c.status()
}

func (c *commands) convert(ctx context.Context, mobile string) error {
	if err := c.client.Guest.RequestConversionOtp(ctx, mobile); err != nil {
		return err
	}
	otp, err := c.prompt("OTP: ")
	if err != nil {
		return err
	}
	user, err := c.client.Guest.ConvertToUser(ctx, mobile, otp)
	if err != nil {
		return err
	}
	return c.print(user)
}

func (c *commands) status() error {
	st := c.client.Session.State()
	out := map[string]any{"phase": st.Phase.String(), "rememberMe": st.RememberMe}
	if st.User != nil {
		out["user"] = st.User
	}
	return c.print(out)
}

func (c *commands) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (c *commands) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps error kinds to distinct exit statuses for scripting.
func exitCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return 2
	case apperr.KindAuthInvalid, apperr.KindAuthExpired:
		return 3
	case apperr.KindNetwork:
		return 4
	default:
		return 1
	}
}
