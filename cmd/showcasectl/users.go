package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/harryneopotter/teacher-website-public/internal/app"
	"github.com/harryneopotter/teacher-website-public/internal/auth"
	"github.com/harryneopotter/teacher-website-public/internal/config"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/secrets"
)

const cliOperator = "showcasectl"

func init() {
	adduserCmd := &cobra.Command{
		Use:   "adduser USER_ID ROLE",
		Short: "Grant a role (content_manager or admin) to a Telegram user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddUser(cmd.Context(), cfg, args[0], args[1], cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(adduserCmd)

	var once bool
	var timeout int
	useridCmd := &cobra.Command{
		Use:   "userid",
		Short: "Long-poll the bot and print the id of everyone who messages it",
		Long: "Long-poll the bot and print the id of everyone who messages it.\n" +
			"The webhook must be removed first; Telegram refuses getUpdates while one is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserID(cmd.Context(), cfg, timeout, once, cmd.OutOrStdout())
		},
	}
	useridCmd.Flags().BoolVar(&once, "once", false, "Exit after the first batch of updates")
	useridCmd.Flags().IntVarP(&timeout, "timeout", "t", 30, "Long-poll timeout in seconds")
	rootCmd.AddCommand(useridCmd)
}

func runAddUser(ctx context.Context, cfg *config.Config, userID, roleName string, out io.Writer) error {
	if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
		return fmt.Errorf("user id must be numeric: %q", userID)
	}
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	roles := auth.NewRoleTable(store, cfg.SeedUsers())
	if err := roles.AddUser(ctx, userID, role, cliOperator); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "granted %s to %s\n", role, userID)
	return nil
}

func runUserID(ctx context.Context, cfg *config.Config, timeout int, once bool, out io.Writer) error {
	token, err := secrets.NewResolver(cfg.ProjectID).Resolve(ctx, consts.SecretTelegramBotToken, cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("resolve bot token: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("connect to Telegram: %w", err)
	}
	_, _ = fmt.Fprintf(out, "polling as @%s, send the bot a message (ctrl-c to stop)\n", api.Self.UserName)

	offset := 0
	seen := make(map[int64]bool)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, err := api.GetUpdates(tgbotapi.UpdateConfig{Offset: offset, Timeout: timeout})
		if err != nil {
			_, _ = fmt.Fprintf(out, "poll failed: %v\n", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, line := range senderLines(updates, seen) {
			_, _ = fmt.Fprintln(out, line)
		}
		if n := len(updates); n > 0 {
			offset = updates[n-1].UpdateID + 1
			if once {
				return nil
			}
		}
	}
}

// senderLines describes each sender not already in seen.
func senderLines(updates []tgbotapi.Update, seen map[int64]bool) []string {
	var lines []string
	for _, u := range updates {
		var from *tgbotapi.User
		switch {
		case u.Message != nil:
			from = u.Message.From
		case u.CallbackQuery != nil:
			from = u.CallbackQuery.From
		}
		if from == nil || seen[from.ID] {
			continue
		}
		seen[from.ID] = true
		name := from.UserName
		if name == "" {
			name = from.FirstName
		} else {
			name = "@" + name
		}
		lines = append(lines, fmt.Sprintf("%d\t%s", from.ID, name))
	}
	return lines
}
