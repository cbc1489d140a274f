package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"boxchat/internal/config"
	"boxchat/internal/conversation"
	"boxchat/internal/keyring"
	"boxchat/internal/service/app"
	redisSvc "boxchat/internal/service/redis"
	"boxchat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	cfg config.Client

	serverURL    string
	keyringPath  string
	keyringRedis string
	email        string
	password     string
	policy       string

	stdin = bufio.NewReader(os.Stdin)
)

func Execute() error {
	root := &cobra.Command{
		Use:          "boxchat-client",
		Short:        "End-to-end encrypted terminal chat",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.LoadClient()
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if keyringPath != "" {
				cfg.KeyringPath = keyringPath
			}
			if keyringRedis != "" {
				cfg.KeyringRedis = keyringRedis
			}
			if cfg.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
					return err
				}
			}
			return log.Init(cfg.LogLevel, cfg.LogFile)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "relay base URL (default $CHAT_SERVER or http://localhost:9090)")
	root.PersistentFlags().StringVar(&keyringPath, "keyring", "", "key pair file (default ~/.boxchat/keyring.json)")
	root.PersistentFlags().StringVar(&keyringRedis, "keyring-redis", "", "keep the key pair in redis at this address instead")

	root.AddCommand(signupCmd(), chatCmd(), pubkeyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}

func addLoginFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when empty)")
	cmd.Flags().StringVar(&policy, "on-failure", "raw", "how undecryptable messages are shown: raw, omit or mark")
}

func keyringStore() keyring.Store {
	if cfg.KeyringRedis != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.KeyringRedis})
		return keyring.NewRedisStore(redisSvc.NewRedis(rdb), "boxchat:keyring:")
	}
	return keyring.NewFileStore(cfg.KeyringPath)
}

func failurePolicy() (conversation.FailurePolicy, error) {
	switch policy {
	case "", "raw":
		return conversation.ShowRaw, nil
	case "omit":
		return conversation.Omit, nil
	case "mark":
		return conversation.MarkError, nil
	default:
		return 0, fmt.Errorf("unknown --on-failure value %q", policy)
	}
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// runSession authenticates and hands the terminal to the chat UI until the
// user quits.
func runSession(ctx context.Context, opts app.Options) error {
	var err error
	if opts.Email == "" {
		if opts.Email, err = prompt("Email: "); err != nil {
			return err
		}
	}
	if opts.Password == "" {
		if opts.Password, err = prompt("Password: "); err != nil {
			return err
		}
	}
	if opts.Policy, err = failurePolicy(); err != nil {
		return err
	}
	opts.ServerURL = cfg.ServerURL
	opts.Store = keyringStore()

	sess, err := app.Authenticate(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	return app.NewApp(sess).Run(ctx)
}
