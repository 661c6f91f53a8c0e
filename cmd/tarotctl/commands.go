package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Arsenji/tarot-client/internal/readings"
	"github.com/Arsenji/tarot-client/internal/subscription"
)

var rootCmd = &cobra.Command{
	Use:   "tarotctl",
	Short: "Tarot mini-app client",
	Long: `tarotctl exercises the tarot backend the way the mini-app does:
it resolves a Telegram credential, loads the entitlement snapshot once,
and gates every reading on the local availability state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(
		authCmd,
		statusCmd,
		availabilityCmd,
		dailyCmd,
		yesNoCmd,
		threeCardsCmd,
		historyCmd,
		cardDetailsCmd,
	)
}

// withApp builds the wired client core and hands it to the command body.
func withApp(run func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd.Context(), a)
	}
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Resolve and show the auth state",
	RunE: withApp(func(ctx context.Context, a *app) error {
		_ = a.auth.Bootstrap(ctx)
		snap := a.auth.Snapshot()
		if !snap.IsAuthenticated {
			fmt.Printf("not authenticated (%s)\n", snap.Error)
			return errors.New("no credential")
		}
		fmt.Println("authenticated")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the entitlement snapshot",
	RunE: withApp(func(ctx context.Context, a *app) error {
		a.bootstrap(ctx)
		snap := a.sub.Snapshot()
		if !snap.IsLoaded {
			fmt.Println("status: not loaded (no credential)")
			return errors.New("status unavailable")
		}
		if snap.Error != "" {
			fmt.Printf("status: load failed (%s); all readings locked\n", snap.Error)
			return errors.New("status unavailable")
		}
		info := snap.Entitlements
		fmt.Printf("subscription: %v\n", info.HasSubscription)
		for _, feature := range subscription.Features {
			printAvailability(a, feature)
		}
		return nil
	}),
}

var availabilityCmd = &cobra.Command{
	Use:   "availability [daily|yesNo|threeCards]",
	Short: "Answer whether a reading type is usable right now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feature, err := parseFeature(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			a.bootstrap(ctx)
			avail := a.sub.Availability(feature)
			printAvailability(a, feature)
			if !avail.Allowed {
				return errors.New("locked")
			}
			return nil
		})(cmd, args)
	},
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Draw the daily one-card reading",
	RunE: withApp(func(ctx context.Context, a *app) error {
		a.bootstrap(ctx)
		advice, err := a.readings.Daily(ctx)
		if err != nil {
			return describeLock(err)
		}
		fmt.Printf("%s — %s\n\n%s\n", advice.Card.Name, advice.Card.Keywords, advice.Advice)
		return nil
	}),
}

var yesNoCmd = &cobra.Command{
	Use:   "yesno <question>",
	Short: "Ask a yes/no question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		return withApp(func(ctx context.Context, a *app) error {
			a.bootstrap(ctx)
			reading, err := a.readings.YesNo(ctx, question)
			if err != nil {
				return describeLock(err)
			}
			fmt.Printf("%s: %s\n\n%s\n", reading.Card.Name, reading.Answer, reading.Interpretation)
			return nil
		})(cmd, args)
	},
}

var threeCardsCmd = &cobra.Command{
	Use:   "three <category> [question]",
	Short: "Draw the three-card spread",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category := args[0]
		question := ""
		if len(args) > 1 {
			question = args[1]
		}
		return withApp(func(ctx context.Context, a *app) error {
			a.bootstrap(ctx)
			reading, err := a.readings.ThreeCards(ctx, category, question)
			if err != nil {
				return describeLock(err)
			}
			for i, card := range reading.Cards {
				fmt.Printf("%d. %s — %s\n", i+1, card.Name, card.Keywords)
			}
			fmt.Printf("\n%s\n", reading.Interpretation)
			return nil
		})(cmd, args)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored readings",
	RunE: withApp(func(ctx context.Context, a *app) error {
		a.bootstrap(ctx)
		entries, err := a.readings.History(ctx)
		if err != nil {
			return describeLock(err)
		}
		if len(entries) == 0 {
			fmt.Println("no readings yet")
			return nil
		}
		for _, entry := range entries {
			fmt.Printf("%s  %-12s %s\n", entry.CreatedAt, entry.Type, entry.Question)
		}
		return nil
	}),
}

var cardDetailsCmd = &cobra.Command{
	Use:   "details <card> <category>",
	Short: "Show the detailed description of a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			a.bootstrap(ctx)
			description, err := a.readings.CardDetails(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(description)
			return nil
		})(cmd, args)
	},
}

func parseFeature(raw string) (subscription.Feature, error) {
	switch strings.ToLower(raw) {
	case "daily":
		return subscription.FeatureDaily, nil
	case "yesno":
		return subscription.FeatureYesNo, nil
	case "threecards", "three":
		return subscription.FeatureThreeCards, nil
	}
	return "", fmt.Errorf("unknown reading type %q", raw)
}

func printAvailability(a *app, feature subscription.Feature) {
	avail := a.sub.Availability(feature)
	switch {
	case avail.Allowed:
		fmt.Printf("%-12s available\n", feature)
	case avail.NextAvailableAt != nil:
		fmt.Printf("%-12s locked until %s\n", feature, avail.NextAvailableAt.Format(time.RFC3339))
	default:
		fmt.Printf("%-12s locked\n", feature)
	}
}

// describeLock rewrites a local gate refusal into a user-facing message.
func describeLock(err error) error {
	var lockErr *readings.LockedError
	if errors.As(err, &lockErr) {
		if lockErr.NextAvailableAt != nil {
			return fmt.Errorf("this reading is locked until %s", lockErr.NextAvailableAt.Format(time.RFC1123))
		}
		return errors.New("this reading is locked; subscribe to unlock it")
	}
	return err
}
