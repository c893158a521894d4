package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	brandloom "github.com/Brandloom-AI/Brandloom/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// approvals list
	approvalsListStatus string
	approvalsListLimit  int
	approvalsListJSON   bool

	// approvals decide
	approvalsDecideComment string
)

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsSubmitCmd)
	approvalsCmd.AddCommand(approvalsDecideCmd)

	approvalsListCmd.Flags().StringVar(&approvalsListStatus, "status", "", "Filter by status (pending, approved, rejected)")
	approvalsListCmd.Flags().IntVar(&approvalsListLimit, "limit", 20, "Maximum number of entries to return")
	approvalsListCmd.Flags().BoolVar(&approvalsListJSON, "json", false, "Print raw JSON output")
	approvalsDecideCmd.Flags().StringVar(&approvalsDecideComment, "comment", "", "Reviewer comment")
}

// ============================================================================
// Root approvals command
// ============================================================================

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Content approval workflow",
	Long:  "Submit content for review and list or decide pending approvals.",
}

// ============================================================================
// approvals list
// ============================================================================

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		approvals, err := client.ListApprovals(ctx, approvalsListStatus, &brandloom.ListOptions{Limit: approvalsListLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if approvalsListJSON {
			data, err := json.MarshalIndent(approvals, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(approvals) == 0 {
			fmt.Println("No approvals found.")
			return nil
		}
		for _, a := range approvals {
			fmt.Printf("%s  %-9s content=%s", a.ID, a.Status, a.ContentID)
			if a.Reviewer != "" {
				fmt.Printf("  reviewer=%s", a.Reviewer)
			}
			fmt.Println()
		}
		return nil
	},
}

// ============================================================================
// approvals submit
// ============================================================================

var approvalsSubmitCmd = &cobra.Command{
	Use:   "submit <content-id>",
	Short: "Submit content for approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		approval, err := client.SubmitForApproval(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Submitted. Approval %s is %s\n", approval.ID, approval.Status)
		return nil
	},
}

// ============================================================================
// approvals decide
// ============================================================================

var approvalsDecideCmd = &cobra.Command{
	Use:   "decide <approval-id> <approved|rejected>",
	Short: "Approve or reject a pending approval",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		approvalID, status := args[0], args[1]
		if status != "approved" && status != "rejected" {
			return fmt.Errorf("decision must be 'approved' or 'rejected', got %q", status)
		}

		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		approval, err := client.DecideApproval(ctx, approvalID, brandloom.ApprovalDecision{
			Status:  status,
			Comment: approvalsDecideComment,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Approval %s is now %s\n", approval.ID, approval.Status)
		return nil
	},
}
