package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/roamr/internal/auth"
	"github.com/kalambet/roamr/internal/client"
	"github.com/kalambet/roamr/internal/config"
	"github.com/kalambet/roamr/internal/feed"
	"github.com/kalambet/roamr/internal/profile"
	"github.com/kalambet/roamr/internal/saved"
	"github.com/kalambet/roamr/internal/storage"
	"github.com/kalambet/roamr/internal/swipe"
	"github.com/kalambet/roamr/internal/telemetry"
	"github.com/kalambet/roamr/internal/validation"
)

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a user and create their preference vector",
	Long: `Issue a signed bearer token for a user.

The user's preference vector is created at the neutral default if it does
not exist yet. With --save the token is stored as client.token so the
client commands use it.

Examples:
  roamr token issue --user alice
  roamr token issue --user alice --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		save, _ := cmd.Flags().GetBool("save")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		secret, err := config.EnsureJWTSecret(&cfg, config.NewSecretStore())
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if err := store.EnsurePreferenceVector(cmd.Context(), userID); err != nil {
			return err
		}

		mgr, err := auth.NewManager(secret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		token, err := mgr.Issue(userID)
		if err != nil {
			return err
		}

		if save {
			if err := config.SetSecret("client.token", token); err != nil {
				return err
			}
			printSuccess("Token for %s saved as client.token", userID)
			return nil
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().String("user", "", "user id the token is issued for")
	tokenIssueCmd.Flags().Bool("save", false, "store the token as client.token instead of printing it")
	tokenCmd.AddCommand(tokenIssueCmd)
}

// --- catalog ---

type catalogEntry struct {
	ID       string             `json:"id" validate:"required,max=256"`
	Name     string             `json:"name" validate:"max=256"`
	Features map[string]float64 `json:"features" validate:"required,len=7,dive,keys,oneof=beach city adventure culture nightlife nature food,endkeys,gte=0,lte=1"`
}

// loadCatalog decodes and validates a JSON array of catalog entries.
func loadCatalog(r io.Reader) ([]storage.Destination, error) {
	var entries []catalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}

	out := make([]storage.Destination, 0, len(entries))
	for i, e := range entries {
		if err := validation.ValidateStruct(e); err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, e.ID, err)
		}
		var v profile.Vector
		for j, dim := range profile.Dimensions {
			v[j] = e.Features[dim]
		}
		out = append(out, storage.Destination{ID: e.ID, Name: e.Name, Features: v})
	}
	return out, nil
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage destination feature vectors",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import destination feature vectors",
	Long: `Import destination feature vectors from a JSON array.

Each entry needs an id and all seven feature scores in [0,1]:
  [{"id": "bali", "name": "Bali", "features": {"beach": 0.9, "city": 0.2,
    "adventure": 0.6, "culture": 0.7, "nightlife": 0.5, "nature": 0.8, "food": 0.8}}]

Existing entries are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer f.Close()

		dests, err := loadCatalog(f)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		for _, d := range dests {
			if err := store.UpsertDestination(cmd.Context(), d); err != nil {
				return fmt.Errorf("importing %s: %w", d.ID, err)
			}
		}
		total, _ := store.CountDestinations(cmd.Context())
		printSuccess("Imported %d destinations (%d in catalog)", len(dests), total)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect the learned preference vector",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the signed-in user's preference vector",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, _, err := newAppClient()
		if err != nil {
			return err
		}
		prefs, err := c.Preferences(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(os.Stdout, prefs)
		}
		for i, dim := range profile.Dimensions {
			fmt.Printf("  %-10s %s %.3f\n", dim, scoreBar(prefs[i]), prefs[i])
		}
		fmt.Printf("\n  %s %v\n", colorize(colorBold, "Top:"), profile.TopDimensions(prefs, 3))
		return nil
	},
}

func init() {
	prefsShowCmd.Flags().Bool("json", false, "print as JSON")
	prefsCmd.AddCommand(prefsShowCmd)
}

// --- swipe ---

// cliSink counts telemetry failures and reports them on stderr.
type cliSink struct {
	failures atomic.Int32
}

func (s *cliSink) Report(ev swipe.Event, err error) {
	s.failures.Add(1)
	printWarning("swipe on %s not recorded: %v", ev.DestinationID, err)
}

type cliNotifier struct{}

func (cliNotifier) Saved(id string) { printSuccess("Saved %s", id) }

func (cliNotifier) SyncFailed(id string, err error) {
	printError("Could not sync %s, reverted: %v", id, err)
}

func openCoordinator(c *client.Client, cfg config.Config) (*saved.Coordinator, *saved.Cache, error) {
	cache := saved.NewCache()
	if err := cache.LoadFile(savedCachePath(cfg)); err != nil {
		return nil, nil, err
	}
	return saved.NewCoordinator(cache, c, c, cliNotifier{}), cache, nil
}

var swipeCmd = &cobra.Command{
	Use:   "swipe <destination-id>",
	Short: "Record a swipe on a destination card",
	Long: `Record a swipe on a destination card.

The action is classified from the dwell time: under 1.5s is a skip,
longer is a view. --save records a save and adds the destination to the
saved set.

Examples:
  roamr swipe bali --ms 4000
  roamr swipe lisbon --ms 600
  roamr swipe kyoto --save --price 1290`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		ms, _ := cmd.Flags().GetInt64("ms")
		save, _ := cmd.Flags().GetBool("save")
		var price *float64
		if cmd.Flags().Changed("price") {
			p, _ := cmd.Flags().GetFloat64("price")
			price = &p
		}
		if ms < 0 {
			return fmt.Errorf("--ms must not be negative")
		}

		c, cfg, err := newAppClient()
		if err != nil {
			return err
		}
		guestNotice(c)

		sink := &cliSink{}
		disp := telemetry.New(c, telemetry.Options{
			QueueSize: cfg.Telemetry.QueueSize,
			Workers:   cfg.Telemetry.Workers,
			Sink:      sink,
		})

		start := time.Now()
		now := start
		tracker := swipe.NewTracker(disp, c).WithClock(func() time.Time { return now })
		tracker.Activate(swipe.Card{ID: id, Price: price})
		now = start.Add(time.Duration(ms) * time.Millisecond)

		var ev swipe.Event
		if save {
			ev = tracker.Save(id)
		} else {
			ev, _ = tracker.Leave()
		}

		closeCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := disp.Close(closeCtx); err != nil {
			printWarning("pending swipe events abandoned: %v", err)
		}

		if save {
			if err := saveIfNeeded(cmd.Context(), c, cfg, id); err != nil {
				return err
			}
		}

		switch {
		case !c.Authenticated():
			printStatus("Classified", "%s (not sent)", ev.Action)
		case sink.failures.Load() == 0:
			printSuccess("Recorded %s on %s", ev.Action, id)
		}
		return nil
	},
}

// saveIfNeeded adds id to the saved set unless it is already there.
func saveIfNeeded(ctx context.Context, c *client.Client, cfg config.Config, id string) error {
	coord, cache, err := openCoordinator(c, cfg)
	if err != nil {
		return err
	}
	if err := coord.Hydrate(ctx); err != nil {
		printWarning("could not load saved set: %v", err)
	}
	if !cache.Contains(id) {
		if _, err := coord.Toggle(ctx, id); err != nil {
			return err
		}
	}
	return cache.SaveFile(savedCachePath(cfg))
}

func init() {
	swipeCmd.Flags().Int64("ms", 0, "milliseconds the card was on screen")
	swipeCmd.Flags().Bool("save", false, "save the destination")
	swipeCmd.Flags().Float64("price", 0, "price shown on the card")
}

var swipesCmd = &cobra.Command{
	Use:   "swipes",
	Short: "Inspect swipe history",
}

var swipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent swipes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		c, _, err := newAppClient()
		if err != nil {
			return err
		}
		swipes, err := c.Swipes(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(swipes) == 0 {
			fmt.Println("No swipes recorded.")
			return nil
		}
		for _, s := range swipes {
			spent := "-"
			if s.TimeSpentMs != nil {
				spent = fmt.Sprintf("%dms", *s.TimeSpentMs)
			}
			fmt.Printf("%s  %-8s %-7s %s\n",
				s.CreatedAt.Local().Format(time.DateTime),
				s.Action,
				spent,
				colorize(colorCyan, s.DestinationID),
			)
		}
		return nil
	},
}

func init() {
	swipesListCmd.Flags().Int("limit", 20, "maximum number of swipes to list")
	swipesCmd.AddCommand(swipesListCmd)
}

// --- saved ---

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage the saved set",
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved destinations",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newAppClient()
		if err != nil {
			return err
		}
		coord, cache, err := openCoordinator(c, cfg)
		if err != nil {
			return err
		}
		if err := coord.Hydrate(cmd.Context()); err != nil {
			printWarning("showing local saved set: %v", err)
		}

		ids := cache.IDs()
		if len(ids) == 0 {
			fmt.Println("Nothing saved yet.")
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return cache.SaveFile(savedCachePath(cfg))
	},
}

var savedToggleCmd = &cobra.Command{
	Use:   "toggle <destination-id>",
	Short: "Save or unsave a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		c, cfg, err := newAppClient()
		if err != nil {
			return err
		}
		guestNotice(c)

		coord, cache, err := openCoordinator(c, cfg)
		if err != nil {
			return err
		}
		if err := coord.Hydrate(cmd.Context()); err != nil {
			printWarning("could not load saved set: %v", err)
		}

		res, toggleErr := coord.Toggle(cmd.Context(), id)
		if err := cache.SaveFile(savedCachePath(cfg)); err != nil {
			return err
		}
		if toggleErr != nil {
			return toggleErr
		}
		if !res.Saved {
			printSuccess("Removed %s", id)
		}
		return nil
	},
}

func init() {
	savedCmd.AddCommand(savedListCmd)
	savedCmd.AddCommand(savedToggleCmd)
}

// --- feed ---

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Browse the destination feed",
	Long: `Page through the ranked destination feed.

Examples:
  roamr feed --origin LHR --count 20
  roamr feed --vibe beach --sort price`,
	RunE: func(cmd *cobra.Command, args []string) error {
		origin, _ := cmd.Flags().GetString("origin")
		vibe, _ := cmd.Flags().GetString("vibe")
		sortBy, _ := cmd.Flags().GetString("sort")
		count, _ := cmd.Flags().GetInt("count")

		_, cfg, err := newAppClient()
		if err != nil {
			return err
		}
		if cfg.Feed.BaseURL == "" {
			return fmt.Errorf("feed.base_url is not configured")
		}
		if origin == "" {
			origin = cfg.Feed.Origin
		}
		if origin == "" {
			return fmt.Errorf("--origin is required (or set feed.origin)")
		}

		sess := feed.NewSession(feed.NewClient(cfg.Feed.BaseURL, cfg.Client.Token), origin)
		sess.SetFilters(vibe, sortBy)
		shown, err := browseFeed(cmd.Context(), sess, count, os.Stdout)
		if err != nil {
			return err
		}
		if shown == 0 {
			fmt.Println("No destinations.")
		}
		return nil
	},
}

// browseFeed walks the session buffer for up to count cards, prefetching
// ahead and marking each card seen.
func browseFeed(ctx context.Context, sess *feed.Session, count int, w io.Writer) (int, error) {
	defer sess.Wait()

	pos := 0
	for pos < count {
		buf := sess.Buffer()
		if pos >= len(buf) {
			sess.Wait()
			if buf = sess.Buffer(); pos >= len(buf) {
				if sess.Terminal() {
					break
				}
				if _, err := sess.LoadMore(ctx); err != nil {
					return pos, err
				}
				if buf = sess.Buffer(); pos >= len(buf) {
					break
				}
			}
		}

		d := buf[pos]
		sess.MarkSeen(d.ID)
		sess.MaybePrefetch(ctx, pos)

		price := ""
		if d.Price != nil {
			price = fmt.Sprintf("  from %.0f", *d.Price)
		}
		fmt.Fprintf(w, "%3d. %s  %s%s\n", pos+1, colorize(colorBold, d.Name), colorize(colorCyan, d.ID), price)
		pos++
	}
	return pos, nil
}

func init() {
	feedCmd.Flags().String("origin", "", "departure airport code (default feed.origin)")
	feedCmd.Flags().String("vibe", "", "vibe filter")
	feedCmd.Flags().String("sort", "", "sort order")
	feedCmd.Flags().Int("count", 10, "number of cards to show")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSecretCmd = &cobra.Command{
	Use:   "secret <key> <value>",
	Short: "Store a secret (auth.jwt_secret or client.token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSecretCmd)
}
