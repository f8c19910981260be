package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"proxy-provisioner/pkg/models"
	"proxy-provisioner/pkg/provisioning"
	"proxy-provisioner/pkg/proxy"
)

var createPlanCmd = &cobra.Command{
	Use:   "create-plan",
	Short: "Create an upstream plan and register it",
	Long: `Create a plan with the upstream provider and allocate its local port.
Bandwidth classes (residential, datacenter, isp, mobile) take --bandwidth-gb,
the unlimited class takes --duration-hours.`,
	Example: "create-plan --class residential --username alice --bandwidth-gb 1.5",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		class, _ := cmd.Flags().GetString("class")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		bandwidthGB, _ := cmd.Flags().GetString("bandwidth-gb")
		durationHours, _ := cmd.Flags().GetInt("duration-hours")

		var bandwidthMB int64
		if bandwidthGB != "" {
			gb, err := decimal.NewFromString(bandwidthGB)
			if err != nil {
				logger.Error("Invalid bandwidth-gb value", "error", err)
				os.Exit(1)
			}
			bandwidthMB = gb.Mul(decimal.NewFromInt(1024)).Round(0).IntPart()
		}

		if password == "" {
			generated, err := provisioning.GeneratePassword()
			if err != nil {
				logger.Error("Error generating password", "error", err)
				os.Exit(1)
			}
			password = generated
		}

		ctx := cmd.Context()
		svc, closeFn := mustService(ctx)
		defer closeFn()

		logger.Debug("Creating plan", "class", class, "username", username, "bandwidthMB", bandwidthMB, "durationHours", durationHours)
		rec, err := svc.Create(ctx, models.PlanClass(class),
			proxy.Credentials{Username: username, Password: password},
			proxy.Limit{BandwidthMB: bandwidthMB, DurationHours: durationHours})
		if err != nil {
			logger.Error("Error creating plan", "error", err)
			os.Exit(1)
		}

		logger.Info("Plan created", "planID", rec.PlanID, "localPort", rec.LocalPort)
		printJSON(withEndpoint(rec))
	},
}

var getPlanCmd = &cobra.Command{
	Use:   "get-plan [plan-id]",
	Short: "Show a registered plan together with its live upstream state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, closeFn := mustService(ctx)
		defer closeFn()

		status, err := svc.Get(ctx, args[0])
		if err != nil {
			logger.Error("Error getting plan", "planID", args[0], "error", err)
			os.Exit(1)
		}
		if status.MissingUpstream {
			logger.Warn("Plan is registered but unknown upstream", "planID", args[0])
		}
		printJSON(status)
	},
}

var updatePlanCmd = &cobra.Command{
	Use:   "update-plan [plan-id]",
	Short: "Rotate the password or toggle a plan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rotate := cmd.Flags().Changed("password") || cmd.Flags().Changed("rotate")
		toggle := cmd.Flags().Changed("enabled")
		if !rotate && !toggle {
			logger.Error("Nothing to update: pass --password, --rotate or --enabled")
			os.Exit(1)
		}

		ctx := cmd.Context()
		svc, closeFn := mustService(ctx)
		defer closeFn()

		planID := args[0]
		if toggle {
			enabled, _ := cmd.Flags().GetBool("enabled")
			if _, err := svc.Registry().Get(ctx, planID); err != nil {
				logger.Error("Error getting plan", "planID", planID, "error", err)
				os.Exit(1)
			}
			if _, err := svc.SetEnabled(ctx, planID, enabled); err != nil {
				logger.Error("Error updating plan", "planID", planID, "error", err)
				os.Exit(1)
			}
			logger.Info("Plan updated", "planID", planID, "enabled", enabled)
		}

		if rotate {
			password, _ := cmd.Flags().GetString("password")
			rec, err := svc.RotatePassword(ctx, planID, password)
			if err != nil {
				logger.Error("Error rotating password", "planID", planID, "error", err)
				os.Exit(1)
			}
			logger.Info("Password rotated", "planID", planID)
			printJSON(withEndpoint(rec))
		}
	},
}

var deletePlanCmd = &cobra.Command{
	Use:   "delete-plan [plan-id]",
	Short: "Delete a plan upstream and from the registry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, closeFn := mustService(ctx)
		defer closeFn()

		if err := svc.Delete(ctx, args[0]); err != nil {
			logger.Error("Error deleting plan", "planID", args[0], "error", err)
			os.Exit(1)
		}
		logger.Info("Plan deleted", "planID", args[0])
	},
}

var listPlansCmd = &cobra.Command{
	Use:   "list-plans",
	Short: "List the plans known to the upstream provider",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		provider, err := initProvider()
		if err != nil {
			logger.Error("Failed to create provider", "error", err)
			os.Exit(1)
		}

		var plans []proxy.PlanSummary
		for summary, err := range provider.ListPlans(cmd.Context()) {
			if err != nil {
				logger.Error("Error listing plans", "error", err)
				os.Exit(1)
			}
			plans = append(plans, summary)
		}
		logger.Debug("Listed upstream plans", "provider", provider.Name(), "count", len(plans))
		printJSON(plans)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the reseller account balance",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		provider, err := initProvider()
		if err != nil {
			logger.Error("Failed to create provider", "error", err)
			os.Exit(1)
		}
		reporter, ok := provider.(proxy.BalanceReporter)
		if !ok {
			logger.Error("Provider does not report a balance", "provider", provider.Name())
			os.Exit(1)
		}

		balance, err := reporter.Balance(cmd.Context())
		if err != nil {
			logger.Error("Error getting balance", "error", err)
			os.Exit(1)
		}
		fmt.Println(balance.String())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Adopt active upstream plans missing from the registry",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc, closeFn := mustService(ctx)
		defer closeFn()

		report, err := svc.Sync(ctx)
		if err != nil {
			logger.Error("Error syncing plans", "error", err)
			os.Exit(1)
		}
		logger.Info("Sync finished",
			"adopted", len(report.Adopted),
			"known", report.Known,
			"skipped", len(report.Skipped),
			"failed", len(report.Failed))
		printJSON(report)
	},
}

type planOutput struct {
	*models.PlanRecord
	Endpoint string `json:"endpoint"`
}

func withEndpoint(rec *models.PlanRecord) planOutput {
	return planOutput{PlanRecord: rec, Endpoint: provisioning.Endpoint(rec)}
}

func withEndpoints(recs []models.PlanRecord) []planOutput {
	out := make([]planOutput, 0, len(recs))
	for i := range recs {
		out = append(out, withEndpoint(&recs[i]))
	}
	return out
}

func init() {
	createPlanCmd.Flags().String("class", "", "Plan class: residential, datacenter, isp, mobile or unlimited")
	createPlanCmd.Flags().String("username", "", "Proxy username (generated upstream when empty)")
	createPlanCmd.Flags().String("password", "", "Proxy password (random when empty)")
	createPlanCmd.Flags().String("bandwidth-gb", "", "Bandwidth limit in GB, e.g. 1.5")
	createPlanCmd.Flags().Int("duration-hours", 0, "Duration limit in hours (unlimited class)")
	_ = createPlanCmd.MarkFlagRequired("class")

	updatePlanCmd.Flags().String("password", "", "New proxy password")
	updatePlanCmd.Flags().Bool("rotate", false, "Rotate to a random password")
	updatePlanCmd.Flags().Bool("enabled", true, "Enable or disable the plan upstream")
}
