package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chatkeep/internal/auth"
	"github.com/suPer8Hu/chatkeep/internal/chat"
	"github.com/suPer8Hu/chatkeep/internal/logger"
)

type opener func() (*gorm.DB, error)

func newRootCmd(out io.Writer, open opener, retentionLimit int) *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Admin tasks for the chat store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(
		newHashPasswordCmd(),
		newMigrateCmd(open),
		newRetentionCmd(open, retentionLimit),
		newListCmd(open),
	)
	return root
}

// newHashPasswordCmd prints a bcrypt hash for the credentials file.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash usable as password_hash",
		Long:  "Print a bcrypt hash usable as password_hash. Reads the password from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := ""
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return errors.New("empty password")
			}
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chat tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := open()
			if err != nil {
				return err
			}
			if err := chat.Migrate(gdb); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func newRetentionCmd(open opener, defaultLimit int) *cobra.Command {
	var opts struct {
		Owner string
		All   bool
		Limit int
	}
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Trim owners back to the retention limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.Owner == "") == !opts.All {
				return errors.New("pass exactly one of --owner or --all")
			}
			gdb, err := open()
			if err != nil {
				return err
			}
			r := chat.NewRetention(chat.NewRepo(gdb), opts.Limit, logger.Nop())
			if opts.All {
				n, err := r.EnforceAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %d chats (limit %d)\n", n, r.Limit())
				return nil
			}
			evicted, err := r.Enforce(cmd.Context(), opts.Owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d chats for %s (limit %d)\n", len(evicted), opts.Owner, r.Limit())
			for _, id := range evicted {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Owner, "owner", "o", "", "Owner to trim")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Trim every owner")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", defaultLimit, "Chats kept per owner")
	return cmd
}

func newListCmd(open opener) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			gdb, err := open()
			if err != nil {
				return err
			}
			svc := chat.NewService(chat.NewRepo(gdb), nil, "", logger.Nop())
			views, err := svc.ListUserChats(cmd.Context(), owner)
			if err != nil {
				return err
			}
			for _, v := range views {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d messages\n",
					v.ID, v.UpdatedAt.Format(time.RFC3339), v.Title, len(v.Messages))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner whose chats to list")
	return cmd
}
