package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liminal-foundation/lre-core/internal/auth"
)

func init() {
	usersCmd := &cobra.Command{Use: "users", Short: "User account operations"}

	// create
	var username, password, role string
	var cost int
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				password, err = promptPassword(username)
				if err != nil {
					return err
				}
			}
			u, err := auth.NewUser(username, password, role, cost)
			if err != nil {
				return err
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.CreateUser(context.Background(), u); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(os.Stdout, "created user %s (role %s)\n", u.Username, u.Role)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	createCmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	createCmd.Flags().StringVarP(&role, "role", "r", auth.RoleViewer, "Role: admin, developer or viewer")
	createCmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost factor")
	_ = createCmd.MarkFlagRequired("username")
	usersCmd.AddCommand(createCmd)

	// list
	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			users, err := s.ListUsers(context.Background(), all)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Fprintln(os.Stdout, "no users found")
				return nil
			}
			fmt.Fprintf(os.Stdout, "%-20s %-12s %-10s %s\n", "USERNAME", "ROLE", "STATUS", "CREATED")
			for _, u := range users {
				status := "active"
				if !u.IsActive {
					status = "inactive"
				}
				fmt.Fprintf(os.Stdout, "%-20s %-12s %-10s %s\n",
					u.Username, u.Role, status, u.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&all, "all", "a", false, "Include inactive accounts")
	usersCmd.AddCommand(listCmd)

	// deactivate
	deactivateCmd := &cobra.Command{
		Use:   "deactivate USERNAME",
		Short: "Deactivate a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			ctx := context.Background()
			u, err := s.GetUserByUsername(ctx, args[0])
			if err != nil {
				return fmt.Errorf("user %q: %w", args[0], err)
			}
			if err := s.DeactivateUser(ctx, u.UserID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "deactivated user %s\n", u.Username)
			return nil
		},
	}
	usersCmd.AddCommand(deactivateCmd)

	// passwd
	var newPassword string
	var passwdCost int
	passwdCmd := &cobra.Command{
		Use:   "passwd USERNAME",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if newPassword == "" {
				var err error
				newPassword, err = promptPassword(args[0])
				if err != nil {
					return err
				}
			}
			if len(newPassword) < auth.MinPasswordLen {
				return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLen)
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			ctx := context.Background()
			u, err := s.GetUserByUsername(ctx, args[0])
			if err != nil {
				return fmt.Errorf("user %q: %w", args[0], err)
			}
			hash, err := auth.HashPassword(newPassword, passwdCost)
			if err != nil {
				return err
			}
			if err := s.UpdatePassword(ctx, u.UserID, hash); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "updated password for %s\n", u.Username)
			return nil
		},
	}
	passwdCmd.Flags().StringVarP(&newPassword, "password", "p", "", "New password (prompted when omitted)")
	passwdCmd.Flags().IntVar(&passwdCost, "cost", 12, "bcrypt cost factor")
	usersCmd.AddCommand(passwdCmd)

	rootCmd.AddCommand(usersCmd)
}

func promptPassword(username string) (string, error) {
	fmt.Fprintf(os.Stderr, "enter password for %s: ", username)
	var pw string
	if _, err := fmt.Scanln(&pw); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(pw), nil
}
