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

	"github.com/hackgods/clinic-booking-agent/internal/app/bootstrap"
	"github.com/hackgods/clinic-booking-agent/internal/appointment"
	"github.com/hackgods/clinic-booking-agent/internal/config"
	"github.com/hackgods/clinic-booking-agent/internal/reminder"
	"github.com/hackgods/clinic-booking-agent/internal/schedule"
	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operator tooling for the clinic booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(slotsCmd(), hoursCmd(), cancelCmd(), remindersCmd(), exportCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp bootstraps the full component graph for one command.
func withApp(ctx context.Context, fn func(*bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, "console").Component("schedctl")
	app, err := bootstrap.New(ctx, cfg, "schedctl", logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()
	return fn(app)
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free slots for a doctor and location",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, _ := cmd.Flags().GetString("doctor")
			location, _ := cmd.Flags().GetString("location")
			from, _ := cmd.Flags().GetString("from")
			days, _ := cmd.Flags().GetInt("days")
			duration, _ := cmd.Flags().GetDuration("duration")

			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				loc := app.Config.Location()
				start, err := parseDay(from, loc)
				if err != nil {
					return err
				}
				if duration <= 0 {
					duration = app.Config.Slots.FollowUp
				}
				slots, err := app.Allocator.FindAvailableSlots(cmd.Context(), doctor, location,
					schedule.DateRange{From: start, To: start.AddDate(0, 0, days-1)}, duration)
				if err != nil {
					return err
				}
				for _, s := range slots {
					fmt.Fprintln(cmd.OutOrStdout(), s.In(loc).Format("Mon 2006-01-02 15:04"))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d slot(s)\n", len(slots))
				return nil
			})
		},
	}
	cmd.Flags().String("doctor", "", "Doctor id")
	cmd.Flags().String("location", "", "Clinic location")
	cmd.Flags().String("from", "", "First day (YYYY-MM-DD, default today)")
	cmd.Flags().Int("days", 7, "Number of days to search")
	cmd.Flags().Duration("duration", 0, "Appointment length (default follow-up length)")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func hoursCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hours",
		Short: "Manage doctor working hours",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace one day's working blocks, e.g. --block 09:00-12:00 --block 13:00-17:00",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, _ := cmd.Flags().GetString("doctor")
			location, _ := cmd.Flags().GetString("location")
			date, _ := cmd.Flags().GetString("date")
			raw, _ := cmd.Flags().GetStringSlice("block")

			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				day, err := parseDay(date, app.Config.Location())
				if err != nil {
					return err
				}
				blocks, err := parseBlocks(day, raw)
				if err != nil {
					return err
				}
				if err := app.Schedules.ReplaceDay(cmd.Context(), doctor, location, day, blocks); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s at %s on %s: %d block(s)\n", doctor, location, day.Format("2006-01-02"), len(blocks))
				return nil
			})
		},
	}
	setCmd.Flags().String("doctor", "", "Doctor id")
	setCmd.Flags().String("location", "", "Clinic location")
	setCmd.Flags().String("date", "", "Day (YYYY-MM-DD)")
	setCmd.Flags().StringSlice("block", nil, "Working block HH:MM-HH:MM, repeatable; none clears the day")
	_ = setCmd.MarkFlagRequired("doctor")
	_ = setCmd.MarkFlagRequired("location")
	_ = setCmd.MarkFlagRequired("date")
	cmd.AddCommand(setCmd)
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <appointment-id>",
		Short: "Cancel an appointment and invalidate its reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid appointment id: %w", err)
			}
			reason, _ := cmd.Flags().GetString("reason")
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if err := app.Scheduler.CancelAppointment(cmd.Context(), id, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().String("reason", "cancelled_by_staff", "Cancellation reason")
	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Reminder pipeline operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Fire due reminders and expire unanswered ones, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				res := app.Driver().RunOnce(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "fired=%d failed=%d skipped=%d expired=%d\n",
					res.Fired, res.Failed, res.Skipped, res.Expired)
				return nil
			})
		},
	})

	respondCmd := &cobra.Command{
		Use:   "respond",
		Short: "Record a patient reply received out of band",
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, _ := cmd.Flags().GetString("contact")
			text, _ := cmd.Flags().GetString("text")
			apptID, _ := cmd.Flags().GetString("appointment")

			resp := reminder.Response{From: contact, Text: text}
			if apptID != "" {
				id, err := uuid.Parse(apptID)
				if err != nil {
					return fmt.Errorf("invalid appointment id: %w", err)
				}
				resp.AppointmentID = id
			}
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				t, err := app.Scheduler.HandleResponse(cmd.Context(), resp)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "appointment %s tier %d: %s\n", t.AppointmentID, t.Tier, t.State)
				return nil
			})
		},
	}
	respondCmd.Flags().String("contact", "", "Patient email or phone")
	respondCmd.Flags().String("appointment", "", "Appointment id, instead of --contact")
	respondCmd.Flags().String("text", "", "Reply text, e.g. YES or NO running late")
	_ = respondCmd.MarkFlagRequired("text")
	cmd.AddCommand(respondCmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write appointments in a date range as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			out, _ := cmd.Flags().GetString("out")

			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				loc := app.Config.Location()
				start, err := parseDay(from, loc)
				if err != nil {
					return err
				}
				end, err := parseDay(to, loc)
				if err != nil {
					return err
				}
				rows, err := app.Appointments.ListRange(cmd.Context(), start, end.AddDate(0, 0, 1))
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return appointment.WriteReportCSV(w, rows, loc)
			})
		},
	}
	cmd.Flags().String("from", "", "First day (YYYY-MM-DD, default today)")
	cmd.Flags().String("to", "", "Last day inclusive (YYYY-MM-DD, default today)")
	cmd.Flags().String("out", "-", "Output file, - for stdout")
	return cmd
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return schedule.StartOfDay(time.Now(), loc), nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}
