package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggbundi/Nomatoken/internal/poller"
)

var Version = "dev"

type globalOptions struct {
	baseURL    string
	adminToken string
	verbose    bool
}

func main() {
	_ = godotenv.Load()

	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Drive and inspect M-Pesa token purchases",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("PAYMENT_API_URL", "http://localhost:8080"), "Payment service base URL")
	rootCmd.PersistentFlags().StringVar(&opts.adminToken, "admin-token", os.Getenv("PAYMENT_ADMIN_TOKEN"), "Service token for administrative calls")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log HTTP errors")

	rootCmd.AddCommand(initiateCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(pollCmd(opts))
	rootCmd.AddCommand(updateCmd(opts))
	rootCmd.AddCommand(purchaseCmd(opts))
	rootCmd.AddCommand(historyCmd(opts))
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func (o *globalOptions) client() *poller.Client {
	logger := zap.NewNop()
	if o.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	var clientOpts []poller.Option
	if o.adminToken != "" {
		clientOpts = append(clientOpts, poller.WithAdminToken(o.adminToken))
	}
	return poller.NewClient(o.baseURL, logger, clientOpts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
