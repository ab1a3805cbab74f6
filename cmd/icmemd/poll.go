package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/config"
	"github.com/fyrsmithlabs/icmemd/internal/divergence"
	"github.com/fyrsmithlabs/icmemd/internal/events"
	"github.com/fyrsmithlabs/icmemd/internal/logging"
	"github.com/fyrsmithlabs/icmemd/internal/polling"
)

var (
	// poll create flags
	pollDealID      string
	pollTitle       string
	pollDescription string
	pollThreshold   int
	pollClosesAt    string
	pollMeeting     string

	// poll vote flags
	voteScore        int
	voteRedFlags     []string
	voteRedNotes     string
	voteGreenFlags   []string
	voteGreenNotes   string
	votePrivateNotes string

	// poll analyze / divergent flags
	analyzeLead   bool
	divergentMin  int
	divergentKMax int
)

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.AddCommand(pollCreateCmd, pollVoteCmd, pollRevealCmd, pollShowCmd, pollListCmd, pollAnalyzeCmd, pollDivergentCmd)

	pollCreateCmd.Flags().StringVar(&pollDealID, "deal-id", "", "Deal the poll belongs to (required)")
	pollCreateCmd.Flags().StringVar(&pollTitle, "title", "", "Poll title (required)")
	pollCreateCmd.Flags().StringVar(&pollDescription, "description", "", "Poll description")
	pollCreateCmd.Flags().IntVar(&pollThreshold, "threshold", 0, "Vote count at which the poll is considered ready to reveal")
	pollCreateCmd.Flags().StringVar(&pollClosesAt, "closes-at", "", "Voting deadline (RFC 3339)")
	pollCreateCmd.Flags().StringVar(&pollMeeting, "meeting-date", "", "IC meeting date (RFC 3339)")

	pollVoteCmd.Flags().IntVar(&voteScore, "score", 0, "Conviction score 1-10 (required)")
	pollVoteCmd.Flags().StringSliceVar(&voteRedFlags, "red-flag", nil, "Red flag label (repeatable)")
	pollVoteCmd.Flags().StringVar(&voteRedNotes, "red-notes", "", "Notes on the red flags")
	pollVoteCmd.Flags().StringSliceVar(&voteGreenFlags, "green-flag", nil, "Green flag label (repeatable)")
	pollVoteCmd.Flags().StringVar(&voteGreenNotes, "green-notes", "", "Notes on the green flags")
	pollVoteCmd.Flags().StringVar(&votePrivateNotes, "private-notes", "", "Notes visible only to you")

	pollAnalyzeCmd.Flags().BoolVar(&analyzeLead, "lead", false, "Request lead-partner detail before reveal")

	pollDivergentCmd.Flags().IntVar(&divergentMin, "min", 4, "Minimum frozen divergence")
	pollDivergentCmd.Flags().IntVar(&divergentKMax, "limit", 10, "Maximum polls listed")
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run blind conviction polls for a deal",
	Long: `Poll commands collect 1-10 conviction scores and anonymous flags from
committee members. Votes stay blind until an explicit one-way reveal, which
permanently freezes the poll's average and divergence.`,
}

// pollDeps holds the wiring poll commands share. They do not need the
// embedding stack, so the heavier initDeps path is skipped.
type pollDeps struct {
	cfg      *config.Config
	logger   *zap.Logger
	engine   *polling.Engine
	analyzer *divergence.Analyzer
	events   events.Publisher
}

func (d *pollDeps) Close() {
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			d.logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	_ = d.logger.Sync()
}

func initPollDeps() (*pollDeps, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	storePath, err := expandPath(cfg.Polling.StorePath)
	if err != nil {
		return nil, err
	}
	store, err := polling.NewFileStore(storePath)
	if err != nil {
		return nil, err
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := polling.NewEngine(store, publisher, logger)
	if err != nil {
		return nil, err
	}
	analyzer, err := divergence.NewAnalyzer(store, logger)
	if err != nil {
		return nil, err
	}

	return &pollDeps{cfg: cfg, logger: logger, engine: engine, analyzer: analyzer, events: publisher}, nil
}

var pollCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a blind conviction poll",
	Long: `Create opens a blind poll for a deal.

Examples:
  icmemd poll create --firm-id sequoia --deal-id acme-a --title "Acme Series A" --threshold 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		req := polling.CreatePollRequest{
			DealID:          pollDealID,
			Title:           pollTitle,
			Description:     pollDescription,
			RevealThreshold: pollThreshold,
		}
		if req.ClosesAt, err = parseTimeFlag(pollClosesAt, "closes-at"); err != nil {
			return err
		}
		if req.ICMeetingDate, err = parseTimeFlag(pollMeeting, "meeting-date"); err != nil {
			return err
		}

		poll, err := deps.engine.CreatePoll(ctx, req)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(poll)
		}
		fmt.Printf("Created poll %s for deal %s\n", poll.ID, poll.DealID)
		return nil
	},
}

var pollVoteCmd = &cobra.Command{
	Use:   "vote <poll-id>",
	Short: "Submit or replace your conviction vote",
	Long: `Vote records your conviction score and flags. Voting again replaces
your previous vote; the poll keeps exactly one vote per member.

Examples:
  icmemd poll vote --firm-id sequoia --user-id jane --score 8 \
    --green-flag "category leader" --red-flag "burn rate" <poll-id>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		if userID == "" {
			return fmt.Errorf("--user-id is required to vote")
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		vote, err := deps.engine.SubmitVote(ctx, args[0], userID, polling.VoteRequest{
			ConvictionScore: voteScore,
			RedFlags:        voteRedFlags,
			RedFlagNotes:    voteRedNotes,
			GreenFlags:      voteGreenFlags,
			GreenFlagNotes:  voteGreenNotes,
			PrivateNotes:    votePrivateNotes,
		})
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(vote)
		}
		fmt.Printf("Recorded vote on poll %s\n", vote.PollID)
		return nil
	},
}

var pollRevealCmd = &cobra.Command{
	Use:   "reveal <poll-id>",
	Short: "Reveal a poll and freeze its scores",
	Long: `Reveal is one-way: it closes voting, makes voter identities and flag
notes visible, and permanently freezes the poll's average and divergence.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		poll, err := deps.engine.Reveal(ctx, args[0], userID)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(poll)
		}
		fmt.Printf("Revealed poll %s", poll.ID)
		if poll.AverageScore != nil && poll.DivergenceScore != nil {
			fmt.Printf(": average %d, divergence %d", *poll.AverageScore, *poll.DivergenceScore)
		}
		fmt.Println()
		return nil
	},
}

var pollShowCmd = &cobra.Command{
	Use:   "show <poll-id>",
	Short: "Show a poll and its votes as visible to you",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		poll, err := deps.engine.GetPoll(ctx, args[0])
		if err != nil {
			return err
		}
		votes, err := deps.engine.PollVotes(ctx, args[0], userID)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"poll":  poll,
				"votes": votes,
			})
		}

		fmt.Printf("%s  (deal %s)\n", poll.Title, poll.DealID)
		state := "blind"
		if poll.IsRevealed {
			state = "revealed"
		} else if !poll.IsActive {
			state = "closed"
		}
		fmt.Printf("State: %s, votes: %d\n", state, len(votes))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tVOTER\tRED\tGREEN")
		for _, v := range votes {
			voter := v.VoterID
			if voter == "" {
				voter = "(hidden)"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", v.ConvictionScore, voter, len(v.RedFlags), len(v.GreenFlags))
		}
		return w.Flush()
	},
}

var pollListCmd = &cobra.Command{
	Use:   "list <deal-id>",
	Short: "List a deal's polls, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		polls, err := deps.engine.PollsForDeal(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(polls)
		}
		if len(polls) == 0 {
			fmt.Println("No polls.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POLL\tTITLE\tREVEALED\tCREATED")
		for _, p := range polls {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.ID, p.Title, p.IsRevealed, p.CreatedAt.Format(time.DateOnly))
		}
		return w.Flush()
	},
}

var pollAnalyzeCmd = &cobra.Command{
	Use:   "analyze <poll-id>",
	Short: "Show the poll's divergence analysis",
	Long: `Analyze reports score statistics, the full 1-10 distribution, and the
most common anonymous flags. Per-vote detail appears only after reveal,
or before it with --lead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		view, err := deps.analyzer.Analyze(ctx, args[0], userID, analyzeLead)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(view)
		}

		fmt.Printf("Votes: %d, average %.2f, min %d, max %d, divergence %d, stddev %.2f\n",
			view.TotalVotes, view.AverageScore, view.MinScore, view.MaxScore, view.Divergence, view.StdDeviation)
		switch {
		case view.NeedsDiscussion:
			fmt.Println("Needs discussion before the IC meeting.")
		case view.HasConsensus:
			fmt.Println("Committee is in consensus.")
		}
		for i := polling.MinScore; i <= polling.MaxScore; i++ {
			fmt.Printf("%2d %s\n", i, strings.Repeat("#", view.ScoreDistribution[i]))
		}
		printFlags("Red flags", view.TopRedFlags)
		printFlags("Green flags", view.TopGreenFlags)
		return nil
	},
}

var pollDivergentCmd = &cobra.Command{
	Use:   "divergent",
	Short: "List revealed polls with high divergence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initPollDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		polls, err := deps.analyzer.HighDivergence(ctx, divergentMin, divergentKMax)
		if err != nil {
			return err
		}
		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(polls)
		}
		if len(polls) == 0 {
			fmt.Println("No high-divergence polls.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POLL\tDEAL\tDIVERGENCE\tAVERAGE")
		for _, p := range polls {
			avg := "-"
			if p.AverageScore != nil {
				avg = fmt.Sprintf("%d", *p.AverageScore)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.PollID, p.DealID, p.Divergence, avg)
		}
		return w.Flush()
	},
}

// parseTimeFlag parses an optional RFC 3339 flag value.
func parseTimeFlag(value, name string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be RFC 3339 (e.g. 2026-09-01T17:00:00Z): %w", name, err)
	}
	return &t, nil
}

func printFlags(label string, flags []divergence.FlagCount) {
	if len(flags) == 0 {
		return
	}
	fmt.Printf("%s:\n", label)
	for _, f := range flags {
		fmt.Printf("  %d  %s\n", f.Count, f.Flag)
	}
}
