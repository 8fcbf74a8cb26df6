package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rojolang/vocals-duplex-go/pkg/vocals"
	"github.com/rojolang/vocals-duplex-go/pkg/vocals/device"
)

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := device.NewManager(nil)
			if err := m.Refresh(); err != nil {
				return err
			}
			fmt.Println("Input Devices:")
			device.Print(os.Stdout, m.Inputs())
			fmt.Println("\nOutput Devices:")
			device.Print(os.Stdout, m.Outputs())
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch or clear the stream token",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tm, err := vocals.NewTokenManagerFromConfig(cmd.Context(), config, vocals.GetGlobalLogger())
			if err != nil {
				return err
			}
			if clear {
				return tm.Clear()
			}
			tok, err := tm.TokenContext(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("token:   %s\n", maskString(tok.AccessToken))
			if !tok.Expiry.IsZero() {
				fmt.Printf("expires: %s (in %s)\n", tok.Expiry.Format(time.RFC3339), time.Until(tok.Expiry).Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Forget the cached token")
	return cmd
}

func enrollmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrollments",
		Short: "Manage stored enrollments",
	}

	var userID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List enrollments",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			res := client.API().ListEnrollments(cmd.Context(), userID)
			if !res.Success {
				return res.Error
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tMODALITY\tSTATUS\tCREATED")
			for _, e := range res.Data {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.UserID, e.Modality, e.Status, e.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVarP(&userID, "user", "u", "", "Only this user's enrollments")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if res := client.API().DeleteEnrollment(cmd.Context(), args[0]); !res.Success {
				return res.Error
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func configCmd() *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and validate the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			config.PrintConfig(os.Stdout)

			if issues := config.Validate(); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
				return vocals.NewConfigError(strings.Join(issues, "; "))
			}
			fmt.Println("\nConfiguration OK")

			if save != "" {
				return config.Save(save)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "Write the resolved configuration to this YAML file")
	return cmd
}

// Helper function to mask sensitive strings
func maskString(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
