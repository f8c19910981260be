package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/paylink"
	"proxy-provisioner/pkg/server"
	"proxy-provisioner/pkg/tester"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator HTTP API",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, closeFn := mustService(ctx)
		defer closeFn()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}

		srv, err := server.New(svc, server.Options{Token: cfg.Server.Token, Logger: logger})
		if err != nil {
			logger.Error("Error creating server", "error", err)
			os.Exit(1)
		}

		logger.Info("Starting server", "addr", addr, "provider", svc.Provider().Name())
		if err := srv.Run(ctx, addr); err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	},
}

var checkPlansCmd = &cobra.Command{
	Use:   "check-plans",
	Short: "Fetch a test URL through every registered plan endpoint",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		reg, closeFn, err := initRegistry(ctx)
		if err != nil {
			logger.Error("Error opening registry", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		class, _ := cmd.Flags().GetString("class")
		var recs []models.PlanRecord
		if class != "" {
			recs, err = reg.ListByClass(ctx, models.PlanClass(class))
		} else {
			recs, err = reg.List(ctx)
		}
		if err != nil {
			logger.Error("Error listing registry", "error", err)
			os.Exit(1)
		}

		opts := tester.Options{
			Target:      cfg.Tester.Target,
			Timeout:     cfg.Tester.Timeout,
			Workers:     cfg.Tester.Workers,
			LookupIP:    cfg.Tester.LookupIP,
			IPInfoToken: cfg.Tester.IPInfoToken,
			Logger:      logger,
		}
		if cmd.Flags().Changed("target") {
			opts.Target, _ = cmd.Flags().GetString("target")
		}
		if cmd.Flags().Changed("workers") {
			opts.Workers, _ = cmd.Flags().GetInt("workers")
		}
		opts.CheckUpstream, _ = cmd.Flags().GetBool("upstream")

		checkCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		results := tester.CheckRecords(checkCtx, recs, opts)
		printJSON(results)

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}
		logger.Info("Checks finished", "total", len(results), "failed", failed)
		if failed > 0 {
			os.Exit(2)
		}
	},
}

var payLinkCmd = &cobra.Command{
	Use:     "pay-link [user-id] [amount]",
	Short:   "Print a Heleket payment link",
	Example: "pay-link 12345 9.99",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			logger.Error("Invalid amount", "error", err)
			os.Exit(1)
		}

		gen, err := paylink.NewHeleket(cfg.Heleket.MerchantID, cfg.Heleket.CallbackURL)
		if err != nil {
			logger.Error("Error configuring heleket", "error", err)
			os.Exit(1)
		}
		if cfg.Heleket.BaseURL != "" {
			gen.BaseURL = cfg.Heleket.BaseURL
		}

		link, err := gen.Link(args[0], amount)
		if err != nil {
			logger.Error("Error building payment link", "error", err)
			os.Exit(1)
		}
		fmt.Println(link)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from server.addr)")

	checkPlansCmd.Flags().String("class", "", "Only check plans of this class")
	checkPlansCmd.Flags().String("target", tester.DefaultTarget, "URL fetched through each endpoint")
	checkPlansCmd.Flags().Int("workers", 4, "Concurrent checks")
	checkPlansCmd.Flags().Bool("upstream", false, "Also dial each plan's upstream auth endpoint")
}
