package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/vietddude/mealog/internal/control"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/livequery"
	"github.com/vietddude/mealog/internal/meal"
)

var (
	mealToken string
	mealDate  string
	mealType  string
	mealMemo  string
	assumeYes bool
)

var mealsCmd = &cobra.Command{
	Use:   "meals",
	Short: "Manage the meals of the user owning --token",
}

var mealsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the meals logged on --date",
	Args:  cobra.NoArgs,
	Run: withOwner(func(ctx context.Context, app *control.App, owner domain.OwnerID, date civil.Date, args []string) error {
		records, err := app.Meals.List(ctx, owner, date)
		if err != nil {
			return err
		}
		printMeals(os.Stdout, date, records)
		return nil
	}),
}

var mealsAddCmd = &cobra.Command{
	Use:   "add [dish]",
	Short: "Log a meal on --date",
	Args:  cobra.ExactArgs(1),
	Run: withOwner(func(ctx context.Context, app *control.App, owner domain.OwnerID, date civil.Date, args []string) error {
		id, err := app.Meals.Add(ctx, owner, meal.Input{
			Date:     date.String(),
			MealType: mealType,
			DishName: args[0],
			Memo:     mealMemo,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added meal %s\n", id)
		return nil
	}),
}

var mealsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a meal",
	Args:  cobra.ExactArgs(1),
	Run: withOwner(func(ctx context.Context, app *control.App, owner domain.OwnerID, _ civil.Date, args []string) error {
		if !assumeYes && !confirm(os.Stdin, os.Stdout, "Delete this meal?") {
			fmt.Println("Aborted")
			return nil
		}
		if err := app.Meals.Delete(ctx, owner, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted meal %s\n", args[0])
		return nil
	}),
}

var mealsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the meals of --date every time they change",
	Args:  cobra.NoArgs,
	Run: withOwner(func(ctx context.Context, app *control.App, owner domain.OwnerID, date civil.Date, args []string) error {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		failed := make(chan error, 1)
		w := app.Meals.Watcher(livequery.WatcherConfig{
			Date: date,
			OnView: func(v livequery.View) {
				printMeals(os.Stdout, v.Date, v.Meals)
			},
			OnError: func(_ civil.Date, err error) {
				select {
				case failed <- err:
				default:
				}
			},
		})
		defer w.Close()
		w.SetOwner(owner)
		w.Start()

		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return err
		}
	}),
}

func init() {
	mealsCmd.PersistentFlags().StringVar(&mealToken, "token", os.Getenv("MEALOG_TOKEN"), "session token of the acting user")
	mealsCmd.PersistentFlags().StringVar(&mealDate, "date", "", "date as YYYY-MM-DD (default today)")
	mealsAddCmd.Flags().StringVar(&mealType, "type", "", "breakfast, lunch, dinner, snack or other")
	mealsAddCmd.Flags().StringVar(&mealMemo, "memo", "", "free-form note")
	mealsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	mealsCmd.AddCommand(mealsListCmd, mealsAddCmd, mealsDeleteCmd, mealsWatchCmd)
	rootCmd.AddCommand(mealsCmd)
}

type ownerCommand func(ctx context.Context, app *control.App, owner domain.OwnerID, date civil.Date, args []string) error

// withOwner builds the app and starts its workers, resolves --token and
// --date, and runs fn.
func withOwner(fn ownerCommand) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()

		if mealToken == "" {
			slog.Error("--token (or MEALOG_TOKEN) is required")
			os.Exit(1)
		}

		loc, err := cfg.Store.Location()
		if err != nil {
			slog.Error("Invalid timezone", "error", err)
			os.Exit(1)
		}
		date := domain.DateIn(time.Now(), loc)
		if mealDate != "" {
			if date, err = domain.ParseDate(mealDate); err != nil {
				slog.Error("Invalid --date", "error", err)
				os.Exit(1)
			}
		}

		app, err := control.New(ctx, cfg, slog.Default())
		if err != nil {
			slog.Error("Failed to initialize mealog", "error", err)
			os.Exit(1)
		}
		app.StartWorkers(ctx)

		code := 0
		id, err := app.Auth.Verify(ctx, mealToken)
		if err == nil {
			err = fn(ctx, app, id.OwnerID, date, args)
		}
		if err != nil {
			slog.Error("Command failed", "error", err)
			code = 1
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
		if code != 0 {
			os.Exit(code)
		}
	}
}

func printMeals(out io.Writer, date civil.Date, records []domain.MealRecord) {
	_, _ = fmt.Fprintf(out, "%s: %d meal(s)\n", date, len(records))
	if len(records) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tDISH\tMEMO\tADDED")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.MealType, r.DishName, r.Memo, r.CreatedAt.Local().Format(time.Kitchen))
	}
	_ = w.Flush()
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
