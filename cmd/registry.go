package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"proxy-provisioner/pkg/models"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect and maintain the plan registry without touching the upstream",
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plans",
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
		printJSON(withEndpoints(recs))
	},
}

var registryGetCmd = &cobra.Command{
	Use:   "get [plan-id]",
	Short: "Show a registered plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		reg, closeFn, err := initRegistry(ctx)
		if err != nil {
			logger.Error("Error opening registry", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		rec, err := reg.Get(ctx, args[0])
		if err != nil {
			logger.Error("Error getting plan", "planID", args[0], "error", err)
			os.Exit(1)
		}
		printJSON(withEndpoint(rec))
	},
}

var registryDeleteCmd = &cobra.Command{
	Use:   "delete [plan-id]",
	Short: "Remove a plan from the registry only",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		reg, closeFn, err := initRegistry(ctx)
		if err != nil {
			logger.Error("Error opening registry", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		if err := reg.Delete(ctx, args[0]); err != nil {
			logger.Error("Error deleting plan", "planID", args[0], "error", err)
			os.Exit(1)
		}
		logger.Info("Plan removed from registry", "planID", args[0])
	},
}

var registryReassignCmd = &cobra.Command{
	Use:   "reassign-port [plan-id]",
	Short: "Move a plan to the lowest free port of its class",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		reg, closeFn, err := initRegistry(ctx)
		if err != nil {
			logger.Error("Error opening registry", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		rec, err := reg.ReassignPort(ctx, args[0])
		if err != nil {
			logger.Error("Error reassigning port", "planID", args[0], "error", err)
			os.Exit(1)
		}
		logger.Info("Port reassigned", "planID", rec.PlanID, "localPort", rec.LocalPort)
		printJSON(withEndpoint(rec))
	},
}

var registryPortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show port range usage per class",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		reg, closeFn, err := initRegistry(ctx)
		if err != nil {
			logger.Error("Error opening registry", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		usage, err := reg.PortUsage(ctx)
		if err != nil {
			logger.Error("Error computing port usage", "error", err)
			os.Exit(1)
		}
		printJSON(usage)
	},
}

var registryExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Drop registry records whose expiry has passed",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		reg, closeFn, err := initRegistry(ctx)
		if err != nil {
			logger.Error("Error opening registry", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		expired, err := reg.Expire(ctx, time.Now())
		if err != nil {
			logger.Error("Error expiring plans", "error", err)
			os.Exit(1)
		}
		for _, rec := range expired {
			logger.Info("Plan expired", "planID", rec.PlanID, "expiresAt", rec.ExpiresAt)
		}
		logger.Info("Expiry finished", "expired", len(expired))
	},
}

func init() {
	registryListCmd.Flags().String("class", "", "Only list plans of this class")

	registryCmd.AddCommand(registryListCmd, registryGetCmd, registryDeleteCmd,
		registryReassignCmd, registryPortsCmd, registryExpireCmd)
}
