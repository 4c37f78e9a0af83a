package studioctl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"image-studio/internal/domain/model"
)

type Config struct {
	Server  string
	APIKey  string
	Timeout time.Duration
	LogLvl  string
}

// DefaultConfig reads STUDIO_URL and STUDIO_API_KEY.
func DefaultConfig() *Config {
	cfg := &Config{Server: "http://127.0.0.1:8080", Timeout: 30 * time.Second, LogLvl: "warn"}
	if v := os.Getenv("STUDIO_URL"); v != "" {
		cfg.Server = v
	}
	cfg.APIKey = os.Getenv("STUDIO_API_KEY")
	return cfg
}

// NewRootCmd builds the studioctl command tree.
func NewRootCmd(cfg *Config) *cobra.Command {
	var (
		client *Client
		log    zerolog.Logger
	)

	root := &cobra.Command{
		Use:           "studioctl",
		Short:         "Drive a running image studio from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.Server, "server", cfg.Server, "Studio base URL (defaults STUDIO_URL)")
	root.PersistentFlags().StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Bearer key for the studio API (defaults STUDIO_API_KEY)")
	root.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	root.PersistentFlags().StringVar(&cfg.LogLvl, "log-level", cfg.LogLvl, "Log level: debug|info|warn|error")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl, err := zerolog.ParseLevel(cfg.LogLvl)
		if err != nil {
			lvl = zerolog.WarnLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
			Level(lvl).With().Timestamp().Logger()
		client = NewClient(cfg.Server, cfg.APIKey, cfg.Timeout)
	}

	root.AddCommand(
		newGenerateCmd(&client, &log),
		newListCmd(&client),
		newDeleteCmd(&client),
		newDismissCmd(&client),
		newRetryCmd(&client),
		newModelsCmd(&client),
		newKeysCmd(&client),
	)
	return root
}

func newGenerateCmd(client **Client, log *zerolog.Logger) *cobra.Command {
	var (
		opts   GenerateOptions
		models map[string]int
		aspect string
		res    string
		refs   []string
	)
	cmd := &cobra.Command{
		Use:     "generate <prompt>",
		Aliases: []string{"gen"},
		Short:   "Fan a prompt out to one or more models and follow progress",
		Example: "  studioctl generate \"a red fox\" -m gemini-2.5-flash-image=2 -m replicate/black-forest-labs/flux-schnell=1\n" +
			"  studioctl generate \"a lighthouse\" -m gpt-image-1=1 --aspect 16:9 --out ./renders",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Request = SubmitRequest{
				Prompt:      args[0],
				Models:      models,
				AspectRatio: model.AspectRatio(aspect),
				Resolution:  model.Resolution(res),
			}
			if len(models) == 0 {
				return fmt.Errorf("at least one --model id=count is required")
			}
			for _, p := range refs {
				b, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("reference image: %w", err)
				}
				opts.Request.ReferenceImages = append(opts.Request.ReferenceImages, ReferenceImage{
					Name:     filepath.Base(p),
					MIMEType: http.DetectContentType(b),
					Data:     b,
				})
			}
			opts.Log = log
			return Generate(cmd.Context(), *client, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringToIntVarP(&models, "model", "m", nil, "Model id and image count, repeatable (id=count)")
	cmd.Flags().StringVar(&aspect, "aspect", string(model.AspectRatio1x1), "Aspect ratio: 1:1|16:9|9:16|4:3|3:4|21:9")
	cmd.Flags().StringVar(&res, "resolution", "", "Resolution for models that support it: 1K|2K|4K")
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "Reference image file, repeatable")
	cmd.Flags().BoolVar(&opts.NoWait, "no-wait", false, "Print item ids and return without following progress")
	cmd.Flags().StringVar(&opts.OutDir, "out", "", "Directory to save completed images into")
	return cmd
}

func newListCmd(client **Client) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the gallery grouped by day",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending {
				g, err := (*client).Gallery(cmd.Context())
				if err != nil {
					return err
				}
				return printPending(cmd.OutOrStdout(), g)
			}
			groups, err := (*client).Groups(cmd.Context())
			if err != nil {
				return err
			}
			return printGroups(cmd.OutOrStdout(), groups)
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Show in-progress and failed items instead of completed images")
	return cmd
}

func newDeleteCmd(client **Client) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <item-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete completed images from the gallery and the store",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := (*client).Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

func newDismissCmd(client **Client) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <item-id>...",
		Short: "Remove failed or in-progress items from the gallery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := (*client).Dismiss(cmd.Context(), id); err != nil {
					return fmt.Errorf("dismiss %s: %w", id, err)
				}
			}
			return nil
		},
	}
}

func newRetryCmd(client **Client) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Run a failed item again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*client).Retry(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retrying %s\n", args[0])
			return nil
		},
	}
}

func newModelsCmd(client **Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and manage generation models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := (*client).Models(cmd.Context())
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), ms)
		},
	}
	setEnabled := func(enabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			def, err := (*client).SetModelEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", def.ID, def.Enabled)
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "enable <model-id>", Short: "Enable a model", Args: cobra.ExactArgs(1), RunE: setEnabled(true)},
		&cobra.Command{Use: "disable <model-id>", Short: "Disable a model", Args: cobra.ExactArgs(1), RunE: setEnabled(false)},
		&cobra.Command{
			Use:     "add <owner/name>",
			Short:   "Add a Replicate model; capabilities are read from its schema",
			Example: "  studioctl models add black-forest-labs/flux-schnell",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				def, err := (*client).AddReplicateModel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printModels(cmd.OutOrStdout(), []Model{{ModelDefinition: def}})
			},
		},
		&cobra.Command{
			Use:   "remove <model-id>",
			Short: "Remove a custom model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return (*client).RemoveModel(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func newKeysCmd(client **Client) *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage provider API keys"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <google|replicate|openai> <key>",
		Short: "Store the API key for a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return (*client).SetAPIKey(cmd.Context(), model.Provider(args[0]), args[1])
		},
	})
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(DefaultConfig())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
