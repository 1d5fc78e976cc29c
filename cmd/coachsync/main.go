package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coachflow/coachsync/internal/app"
	"github.com/coachflow/coachsync/internal/calsync/application"
	"github.com/coachflow/coachsync/internal/calsync/application/jobs"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	"github.com/coachflow/coachsync/pkg/config"
	"github.com/coachflow/coachsync/pkg/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	logger := observability.LoggerFromEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	root := &cobra.Command{
		Use:           "coachsync",
		Short:         "Calendar synchronization engine for coaching sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSyncCmd(container),
		newPurgeCmd(container),
		newIntegrationsCmd(container),
		newLinksCmd(container),
		newEventsCmd(container),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newSyncCmd(container *app.Container) *cobra.Command {
	var (
		sessionIDStr string
		actionStr    string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize one session to all connected calendars",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(sessionIDStr)
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			action := application.SyncAction(actionStr)
			if !action.IsValid() {
				return fmt.Errorf("invalid action %q (create|update|delete)", actionStr)
			}

			session, err := container.SessionRepo.FindByID(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("session %s not found", sessionID)
			}

			results, err := container.Orchestrator.SyncSession(cmd.Context(), session, action)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				cmd.Println("No participant has a calendar integration; nothing to sync.")
				return nil
			}
			for _, r := range results {
				if r.Success {
					cmd.Printf("  ok    %-10s user=%s event=%s\n", r.Provider, r.UserID, r.EventID)
				} else {
					cmd.Printf("  FAIL  %-10s user=%s error=%v\n", r.Provider, r.UserID, r.Err)
				}
			}
			if application.AllFailed(results) {
				return fmt.Errorf("all calendar syncs failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionIDStr, "session", "", "session ID (required)")
	cmd.Flags().StringVar(&actionStr, "action", "create", "sync action: create, update or delete")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newPurgeCmd(container *app.Container) *cobra.Command {
	var (
		userIDStr  string
		provider   string
		eventID    string
		calendarID string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete an orphaned remote calendar event",
		Long:  "Deletes a remote event whose owning session no longer exists, identified by raw provider identifiers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			if !integrationDomain.ProviderType(provider).IsValid() {
				return fmt.Errorf("invalid provider %q (google|microsoft)", provider)
			}

			env, err := jobs.NewEnvelope(jobs.JobPurgeEvents, container.Config.TenantID, jobs.PurgeEventsJob{
				Events: []jobs.OrphanedEvent{{
					EventID:    eventID,
					CalendarID: calendarID,
					Provider:   provider,
					UserID:     userID,
				}},
			})
			if err != nil {
				return err
			}
			return container.Runner.Handle(cmd.Context(), env)
		},
	}

	cmd.Flags().StringVar(&userIDStr, "user", "", "owning user ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "calendar provider (required)")
	cmd.Flags().StringVar(&eventID, "event", "", "remote event ID (required)")
	cmd.Flags().StringVar(&calendarID, "calendar", "primary", "remote calendar ID")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func newIntegrationsCmd(container *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Manage calendar integrations",
	}
	cmd.AddCommand(
		newIntegrationsListCmd(container),
		newIntegrationsConnectCmd(container),
		newIntegrationsDisconnectCmd(container),
	)
	return cmd
}

func newIntegrationsListCmd(container *app.Container) *cobra.Command {
	var userIDStr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's calendar integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			integrations, err := container.TokenService.Integrations(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if len(integrations) == 0 {
				cmd.Println("No calendar integrations.")
				return nil
			}
			for _, integration := range integrations {
				expiry := "never"
				if !integration.ExpiresAt().IsZero() {
					expiry = integration.ExpiresAt().Format("2006-01-02 15:04:05 MST")
				}
				cmd.Printf("%-20s expires=%s refresh_token=%v\n",
					integration.Provider().DisplayName(), expiry, integration.HasRefreshToken())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDStr, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newIntegrationsConnectCmd(container *app.Container) *cobra.Command {
	var (
		userIDStr string
		provider  string
		code      string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a calendar provider",
		Long:  "Without --code, prints the provider's consent URL. With --code, exchanges the authorization code and stores the tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			providerType := integrationDomain.ProviderType(provider)
			if !providerType.IsValid() {
				return fmt.Errorf("invalid provider %q (google|microsoft)", provider)
			}

			if code == "" {
				url, err := container.TokenService.AuthURL(providerType, userID.String())
				if err != nil {
					return err
				}
				cmd.Println("Open this URL to authorize access:")
				cmd.Println(url)
				cmd.Println("\nThen run again with --code <authorization code>.")
				return nil
			}

			integration, err := container.TokenService.ExchangeAndStore(cmd.Context(), userID, providerType, code)
			if err != nil {
				return err
			}
			cmd.Printf("%s connected.\n", integration.Provider().DisplayName())
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDStr, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "calendar provider (required)")
	cmd.Flags().StringVar(&code, "code", "", "OAuth authorization code")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newIntegrationsDisconnectCmd(container *app.Container) *cobra.Command {
	var (
		userIDStr string
		provider  string
	)

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect a calendar provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			providerType := integrationDomain.ProviderType(provider)
			if !providerType.IsValid() {
				return fmt.Errorf("invalid provider %q (google|microsoft)", provider)
			}
			if err := container.TokenService.Disconnect(cmd.Context(), userID, providerType); err != nil {
				return err
			}
			cmd.Printf("%s disconnected. Previously synced events remain on the calendar.\n", providerType.DisplayName())
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDStr, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "calendar provider (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newEventsCmd(container *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect remote calendar events",
	}
	cmd.AddCommand(newEventsFetchCmd(container))
	return cmd
}

func newEventsFetchCmd(container *app.Container) *cobra.Command {
	var (
		userIDStr string
		provider  string
		fromStr   string
		toStr     string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "List a user's remote calendar events in a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(userIDStr)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			providerType := integrationDomain.ProviderType(provider)
			if !providerType.IsValid() {
				return fmt.Errorf("invalid provider %q (google|microsoft)", provider)
			}

			from := time.Now()
			if fromStr != "" {
				if from, err = parseWindowBound(fromStr); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			to := from.Add(7 * 24 * time.Hour)
			if toStr != "" {
				if to, err = parseWindowBound(toStr); err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
			}
			if !to.After(from) {
				return fmt.Errorf("--to must be after --from")
			}

			adapter, err := container.Registry.Adapter(cmd.Context(), providerType, userID)
			if err != nil {
				return err
			}
			events, err := adapter.FetchEvents(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				cmd.Println("No events in window.")
				return nil
			}
			for _, event := range events {
				cmd.Printf("%s  %s – %s  %s\n",
					event.EventID,
					event.Start.Format("2006-01-02 15:04"),
					event.End.Format("15:04 MST"),
					event.Title)
				if event.Location != "" {
					cmd.Printf("%*s  location: %s\n", len(event.EventID), "", event.Location)
				}
				if event.MeetingURL != "" {
					cmd.Printf("%*s  meeting:  %s\n", len(event.EventID), "", event.MeetingURL)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDStr, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "calendar provider (required)")
	cmd.Flags().StringVar(&fromStr, "from", "", "window start, RFC3339 or YYYY-MM-DD (default now)")
	cmd.Flags().StringVar(&toStr, "to", "", "window end, RFC3339 or YYYY-MM-DD (default from+7d)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func parseWindowBound(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func newLinksCmd(container *app.Container) *cobra.Command {
	var sessionIDStr string

	cmd := &cobra.Command{
		Use:   "links",
		Short: "Show the calendar event links of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(sessionIDStr)
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			links, err := container.LinkRepo.FindBySession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if len(links) == 0 {
				cmd.Println("No calendar event links.")
				return nil
			}
			for _, link := range links {
				cmd.Printf("%-10s user=%s status=%-8s event=%s synced=%s\n",
					link.Provider(), link.UserID(), link.Status(), link.EventID(),
					link.SyncedAt().Format("2006-01-02 15:04:05"))
				if link.MeetingURL() != "" {
					cmd.Printf("           meeting: %s\n", link.MeetingURL())
				}
				if link.SyncError() != "" {
					cmd.Printf("           error:   %s\n", link.SyncError())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionIDStr, "session", "", "session ID (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
