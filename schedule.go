package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/topology"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the irrigation schedules of a path",
	}

	cmd.AddCommand(newScheduleListCmd())
	cmd.AddCommand(newScheduleAddCmd())
	cmd.AddCommand(newScheduleEditCmd())
	cmd.AddCommand(newScheduleRemoveCmd())

	return cmd
}

// scheduleFlags are the definition flags shared by add and edit.
type scheduleFlags struct {
	name      string
	at        string
	minutes   int
	repeat    string
	days      []int
	startDate string
	endDate   string
	disabled  bool
}

func (f *scheduleFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "schedule name")
	fs.StringVar(&f.at, "at", "", "start time of day, HH:MM")
	fs.IntVar(&f.minutes, "duration", 0, "run length in minutes")
	fs.StringVar(&f.repeat, "repeat", "daily", "once, daily, weekly or custom")
	fs.IntSliceVar(&f.days, "days", nil, "days of week, 0=Sunday (weekly and custom)")
	fs.StringVar(&f.startDate, "start", "", "first date, YYYY-MM-DD (default today)")
	fs.StringVar(&f.endDate, "end", "", "last date, YYYY-MM-DD (inclusive)")
	fs.BoolVar(&f.disabled, "disabled", false, "store the schedule without running it")
}

// apply overlays the flags that were set on fs onto s. A new schedule also
// takes the default repeat.
func (f *scheduleFlags) apply(fs *pflag.FlagSet, s *schedule.Schedule, isNew bool) error {
	if fs.Changed("name") {
		s.Name = f.name
	}

	if fs.Changed("at") {
		s.StartTime = f.at
	}

	if fs.Changed("duration") {
		s.DurationMinutes = f.minutes
	}

	if fs.Changed("repeat") || isNew {
		r, err := schedule.ParseRepeat(f.repeat)
		if err != nil {
			return err
		}

		s.Repeat = r
	}

	if fs.Changed("days") {
		s.DaysOfWeek = f.days
	}

	if fs.Changed("start") {
		d, err := schedule.ParseDate(f.startDate)
		if err != nil {
			return err
		}

		s.StartDate = d
	}

	if fs.Changed("end") {
		s.EndDate = time.Time{}

		if f.endDate != "" {
			d, err := schedule.ParseDate(f.endDate)
			if err != nil {
				return err
			}

			s.EndDate = d
		}
	}

	if fs.Changed("disabled") {
		s.Enabled = !f.disabled
	}

	return nil
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <path-id>",
		Short: "List a path's schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return withApp(cmd.Context(), cc, func(a *app) error {
				p, err := a.store.GetPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, p.Schedules)
				}

				if len(p.Schedules) == 0 {
					cc.Statusf("Path %s has no schedules.\n", p.ID)
					return nil
				}

				printScheduleTable(cc.Out, p.Schedules, time.Now())

				return nil
			})
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "add <path-id>",
		Short: "Attach a schedule to a path",
		Example: `  pathsync schedule add north --name Morning --at 06:00 --duration 45
  pathsync schedule add north --name "Weekend soak" --at 05:30 --duration 90 --repeat weekly --days 0,6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			now := time.Now()

			return withApp(cmd.Context(), cc, func(a *app) error {
				s := schedule.Schedule{Enabled: true, StartDate: civilToday(now, a.cfg.Schedule.Location())}
				if err := f.apply(cmd.Flags(), &s, true); err != nil {
					return err
				}

				var stored schedule.Schedule

				_, err := a.paths.Update(cmd.Context(), args[0], func(p *topology.Path) error {
					var err error
					stored, err = p.AddSchedule(a.engine, s, now)

					return err
				})
				if err != nil {
					return err
				}

				return printSchedule(cc, stored, now)
			})
		},
	}

	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("at")
	_ = cmd.MarkFlagRequired("duration")

	return cmd
}

func newScheduleEditCmd() *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "edit <path-id> <schedule-id>",
		Short: "Change a schedule; unset flags keep their value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			now := time.Now()

			return withApp(cmd.Context(), cc, func(a *app) error {
				var stored schedule.Schedule

				_, err := a.paths.Update(cmd.Context(), args[0], func(p *topology.Path) error {
					s, ok := p.Schedule(args[1])
					if !ok {
						return fmt.Errorf("path %q: %w: %q", p.ID, topology.ErrScheduleNotFound, args[1])
					}

					if err := f.apply(cmd.Flags(), &s, false); err != nil {
						return err
					}

					var err error
					stored, err = p.UpdateSchedule(a.engine, s, now)

					return err
				})
				if err != nil {
					return err
				}

				return printSchedule(cc, stored, now)
			})
		},
	}

	f.register(cmd.Flags())

	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path-id> <schedule-id>",
		Short: "Detach a schedule from a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			return withApp(cmd.Context(), cc, func(a *app) error {
				_, err := a.paths.Update(cmd.Context(), args[0], func(p *topology.Path) error {
					return p.RemoveSchedule(args[1])
				})
				if err != nil {
					return err
				}

				cc.Statusf("Removed schedule %s\n", args[1])

				return nil
			})
		},
	}
}

func printSchedule(cc *CLIContext, s schedule.Schedule, now time.Time) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, s)
	}

	fmt.Fprintf(cc.Out, "%s  %s  %s for %d min, next run %s\n",
		s.ID, s.Name, formatRecurrence(s), s.DurationMinutes, formatWhen(s.NextRun, now))

	return nil
}

// civilToday returns today's calendar date in loc as a civil date.
func civilToday(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
