// Command `driftwatch` is the end-user CLI for the driftwatch daemon.
//
// Driftwatch tracks a user-maintained list of domains, resolves them to
// IPv4 addresses, classifies every address against a table of known
// servers, and flags domains whose addresses change between resolutions.
// The CLI communicates with a background daemon that owns the working set
// and performs the lookups.
//
// Usage:
//
//	driftwatch add <domain>[,<domain>...]   - Queue domains for resolution
//	driftwatch remove <domain>              - Drop a queued domain
//	driftwatch server add <name> <ip>       - Add a known server
//	driftwatch server remove <index>        - Drop a known server by index
//	driftwatch server list                  - Show the known-server table
//	driftwatch resolve [domain]             - Resolve one domain or the whole queue
//	driftwatch retry                        - Re-resolve every resolved domain
//	driftwatch record remove <index>        - Drop a resolved record by index
//	driftwatch prune                        - Drop all records matching no server
//	driftwatch list                         - Show the full working set
//	driftwatch groups                       - Show records grouped by server
//	driftwatch events                       - Show recent notifications
//	driftwatch export [path]                - Write the working set as JSON
//	driftwatch status                       - Show daemon status
//	driftwatch version                      - Show version information
//
// Examples:
//
//	driftwatch add example.com,example.org  - Queue two domains
//	driftwatch resolve                      - Resolve everything queued
//	driftwatch server add web1 203.0.113.7  - Name an address
//	driftwatch retry                        - Check every domain for IP drift
//
// Indexes accepted by the remove commands are the ones shown by
// `driftwatch list` and `driftwatch server list`.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/driftwatch/driftwatch/internal/buildinfo"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/filesys"
	"github.com/driftwatch/driftwatch/internal/ledger"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/pkg/api"
	"github.com/driftwatch/driftwatch/pkg/client"
)

const (
	_readTimeout    = 3 * time.Second
	_writeTimeout   = 5 * time.Second
	_resolveTimeout = 2 * time.Minute

	_defaultExportPath = "driftwatch-export.json"
)

func main() {
	cfg, err := config.New().Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	cli := client.New(cfg.Socket.Path)

	root := &cobra.Command{
		Use:   "driftwatch",
		Short: "Driftwatch domain monitoring CLI",
		Long: `Driftwatch resolves a user-maintained list of domains to IPv4 addresses,
names each address via a known-server table, and warns when a domain's
addresses change between resolutions.`,
	}

	// ---- version command ----
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Show version information for the driftwatch CLI.`,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(buildinfo.String())
		},
	}

	// ---- add command ----
	addCmd := &cobra.Command{
		Use:   "add <domain>[,<domain>...]",
		Short: "Queue domains for resolution",
		Long: `Queue one or more domains for resolution. Multiple domains may be
given comma-separated or as separate arguments. Domains already queued
or already resolved are reported and skipped.`,
		Example: "driftwatch add example.com,example.org",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _writeTimeout)
			defer cancel()

			res, err := cli.AddDomains(ctx, strings.Join(args, ","))
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				color.Yellow("! %s", w)
			}
			for _, d := range res.Added {
				color.New(color.FgGreen, color.Bold).Printf("✓ queued ")
				color.New(color.FgHiGreen, color.Bold).Printf("%s\n", d)
			}
			if len(res.Added) == 0 && len(res.Warnings) == 0 {
				color.Yellow("Nothing to add.")
			}
			return nil
		},
	}

	// ---- remove command ----
	removeCmd := &cobra.Command{
		Use:   "remove <domain>",
		Short: "Drop a queued domain",
		Long: `Drop a domain from the unresolved queue. Resolved records are not
touched; use 'record remove' or 'prune' for those.`,
		Example: "driftwatch remove example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _writeTimeout)
			defer cancel()

			removed, err := cli.RemoveDomain(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				color.Yellow("Domain %q is not queued.", args[0])
				return nil
			}
			color.New(color.FgGreen, color.Bold).Printf("✓ removed ")
			color.New(color.FgHiGreen, color.Bold).Printf("%s\n", args[0])
			return nil
		},
	}

	// ---- server commands ----
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the known-server table",
		Long: `Manage the known-server table. Resolved addresses are matched against
this table to name the server a domain points at.`,
	}

	serverAddCmd := &cobra.Command{
		Use:     "add <name> <ip>",
		Short:   "Add a known server",
		Example: "driftwatch server add web1 203.0.113.7",
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _writeTimeout)
			defer cancel()

			added, err := cli.AddServer(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !added {
				color.Yellow("! server %q already exists", args[0])
				return nil
			}
			color.New(color.FgGreen, color.Bold).Printf("✓ added server ")
			color.New(color.FgHiGreen, color.Bold).Printf("%s ", args[0])
			color.New(color.FgGreen).Printf("(%s)\n", args[1])
			return nil
		},
	}

	serverRemoveCmd := &cobra.Command{
		Use:     "remove <index>",
		Short:   "Drop a known server by index",
		Long:    `Drop a known server by its position in 'driftwatch server list'.`,
		Example: "driftwatch server remove 0",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), _writeTimeout)
			defer cancel()

			srv, err := cli.RemoveServer(ctx, index)
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Printf("✓ removed server ")
			color.New(color.FgHiGreen, color.Bold).Printf("%s ", srv.Name)
			color.New(color.FgGreen).Printf("(%s)\n", srv.IP)
			return nil
		},
	}

	serverListCmd := &cobra.Command{
		Use:     "list",
		Short:   "Show the known-server table",
		Example: "driftwatch server list",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _readTimeout)
			defer cancel()

			st, err := cli.State(ctx)
			if err != nil {
				return err
			}
			if len(st.Servers) == 0 {
				color.Yellow("No known servers.")
				return nil
			}

			table := newTable("#", "Name", "IP")
			for i, srv := range st.Servers {
				table.Append([]string{strconv.Itoa(i), srv.Name, srv.IP})
			}
			color.New(color.Bold).Println("KNOWN SERVERS:")
			table.Render()
			return nil
		},
	}
	serverCmd.AddCommand(serverAddCmd, serverRemoveCmd, serverListCmd)

	// ---- record commands ----
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Manage resolved records",
	}

	recordRemoveCmd := &cobra.Command{
		Use:     "remove <index>",
		Short:   "Drop a resolved record by index",
		Long:    `Drop a resolved record by its position in 'driftwatch list'.`,
		Example: "driftwatch record remove 2",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), _writeTimeout)
			defer cancel()

			rec, err := cli.RemoveRecord(ctx, index)
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Printf("✓ removed record ")
			color.New(color.FgHiGreen, color.Bold).Printf("%s ", rec.Domain)
			color.New(color.FgGreen).Printf("(%s)\n", rec.IP)
			return nil
		},
	}
	recordCmd.AddCommand(recordRemoveCmd)

	// ---- resolve command ----
	resolveCmd := &cobra.Command{
		Use:   "resolve [domain]",
		Short: "Resolve one domain or the whole unresolved queue",
		Long: `Resolve a single tracked domain, or every queued domain when no
argument is given. Successfully resolved domains move from the queue to
the resolved records; failed lookups stay queued for a later attempt.`,
		Example: "driftwatch resolve example.com",
		Args:    cobra.RangeArgs(0, 1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _resolveTimeout)
			defer cancel()

			domain := ""
			if len(args) == 1 {
				domain = args[0]
			}
			sum, err := cli.Resolve(ctx, domain)
			if err != nil {
				return err
			}
			printSummary(sum, "Nothing to resolve.")
			return nil
		},
	}

	// ---- retry command ----
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-resolve every resolved domain",
		Long: `Re-resolve every resolved domain and replace its records with the
fresh answers. Domains whose addresses changed are flagged; see
'driftwatch events' for the drift warnings.`,
		Example: "driftwatch retry",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _resolveTimeout)
			defer cancel()

			sum, err := cli.Retry(ctx)
			if err != nil {
				return err
			}
			printSummary(sum, "No resolved domains to retry.")
			return nil
		},
	}

	// ---- prune command ----
	pruneCmd := &cobra.Command{
		Use:     "prune",
		Short:   "Drop all records matching no known server",
		Example: "driftwatch prune",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _writeTimeout)
			defer cancel()

			removed, err := cli.PruneUnmatched(ctx)
			if err != nil {
				return err
			}
			if removed == 0 {
				color.Yellow("No unmatched records.")
				return nil
			}
			color.New(color.FgGreen, color.Bold).Printf("✓ removed ")
			color.New(color.FgHiGreen, color.Bold).Printf("%d ", removed)
			color.New(color.FgGreen, color.Bold).Println("unmatched record(s)")
			return nil
		},
	}

	// ---- list command ----
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the full working set",
		Long: `Show the unresolved queue, the known-server table, and every resolved
record. Domains re-resolved moments ago are marked with an asterisk.`,
		Example: "driftwatch list",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _readTimeout)
			defer cancel()

			st, err := cli.State(ctx)
			if err != nil {
				return err
			}
			if len(st.Unresolved) == 0 && len(st.Servers) == 0 && len(st.Records) == 0 {
				color.Yellow("Nothing tracked yet. Use 'driftwatch add' to queue a domain.")
				return nil
			}

			if len(st.Unresolved) > 0 {
				color.New(color.Bold).Println("UNRESOLVED DOMAINS:")
				for i, d := range st.Unresolved {
					fmt.Printf("  %d. %s\n", i, d)
				}
				fmt.Println()
			}

			if len(st.Servers) > 0 {
				color.New(color.Bold).Println("KNOWN SERVERS:")
				table := newTable("#", "Name", "IP")
				for i, srv := range st.Servers {
					table.Append([]string{strconv.Itoa(i), srv.Name, srv.IP})
				}
				table.Render()
				fmt.Println()
			}

			if len(st.Records) > 0 {
				color.New(color.Bold).Println("RESOLVED RECORDS:")
				table := newTable("#", "Domain", "IP", "Server", "Resolved At")
				flashed := false
				for i, rec := range st.Records {
					domain := rec.Domain
					if slices.Contains(st.RecentlyRetried, rec.Domain) {
						domain += " *"
						flashed = true
					}
					table.Append([]string{
						strconv.Itoa(i), domain, rec.IP, serverLabel(rec), rec.ResolvedAt,
					})
				}
				table.Render()
				if flashed {
					color.Yellow("* recently re-resolved")
				}
			}
			return nil
		},
	}

	// ---- groups command ----
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "Show resolved records grouped by server",
		Long: `Show resolved records grouped by the known server their address
matched. Records matching no server are grouped under "unmatched".`,
		Example: "driftwatch groups",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _readTimeout)
			defer cancel()

			groups, err := cli.Groups(ctx)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				color.Yellow("No resolved records.")
				return nil
			}

			for _, g := range groups {
				switch {
				case g.Server == "":
					color.New(color.FgYellow, color.Bold).Println("■ unmatched")
				case g.IP == "":
					color.New(color.FgGreen, color.Bold).Printf("■ %s\n", g.Server)
				default:
					color.New(color.FgGreen, color.Bold).Printf("■ %s (%s)\n", g.Server, g.IP)
				}

				table := newTable("Domain", "IP", "Resolved At")
				for _, rec := range g.Records {
					table.Append([]string{rec.Domain, rec.IP, rec.ResolvedAt})
				}
				table.Render()
				fmt.Println()
			}
			return nil
		},
	}

	// ---- events command ----
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent notifications",
		Long: `Show the daemon's recent notifications: first resolutions, IP drift
warnings, and duplicate rejections. Entries expire after the configured
notification TTL.`,
		Example: "driftwatch events",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _readTimeout)
			defer cancel()

			events, err := cli.Notifications(ctx)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				color.Yellow("No recent events.")
				return nil
			}

			for _, ev := range events {
				switch ev.Type {
				case notify.Warning:
					color.New(color.FgYellow, color.Bold).Printf("! ")
				case notify.Error:
					color.New(color.FgHiRed, color.Bold).Printf("✗ ")
				default:
					color.New(color.FgCyan).Printf("• ")
				}
				fmt.Printf("%s ", ev.Message)
				color.New(color.Faint).Printf("(%s ago)\n", time.Since(ev.CreatedAt).Round(time.Second))
			}
			return nil
		},
	}

	// ---- export command ----
	exportCmd := &cobra.Command{
		Use:   "export [path]",
		Short: "Write the working set to a JSON file",
		Long: `Write the full working set (unresolved queue, known servers, resolved
records) to a JSON file. The file is written atomically.`,
		Example: "driftwatch export backup.json",
		Args:    cobra.RangeArgs(0, 1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := _defaultExportPath
			if len(args) == 1 {
				path = args[0]
			}

			ctx, cancel := context.WithTimeout(context.Background(), _readTimeout)
			defer cancel()

			st, err := cli.State(ctx)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal state: %w", err)
			}
			if err := filesys.AtomicWrite(filesys.OS(), path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			color.New(color.FgGreen, color.Bold).Printf("✓ exported state to ")
			color.New(color.FgHiGreen, color.Bold).Printf("%s\n", path)
			return nil
		},
	}

	// ---- status command ----
	statusCmd := &cobra.Command{
		Use:     "status",
		Short:   "Show daemon status",
		Example: "driftwatch status",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), _readTimeout)
			defer cancel()

			st, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("version: %s (%s)\n", st.Version, st.Commit)
			fmt.Printf("uptime: %s\n", st.Uptime.Round(time.Second))
			fmt.Printf("unresolved: %d\n", st.Unresolved)
			fmt.Printf("servers: %d\n", st.Servers)
			fmt.Printf("records: %d\n", st.Records)
			return nil
		},
	}

	root.AddCommand(
		addCmd, removeCmd, serverCmd, recordCmd, resolveCmd, retryCmd,
		pruneCmd, listCmd, groupsCmd, eventsCmd, exportCmd, statusCmd,
		versionCmd,
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// printSummary renders a resolution pass outcome, one line per domain.
func printSummary(sum api.ResolveSummary, emptyMsg string) {
	if len(sum.Done) == 0 && len(sum.Failed) == 0 {
		color.Yellow(emptyMsg)
		return
	}
	for _, d := range sum.Done {
		color.New(color.FgGreen, color.Bold).Printf("✓ resolved ")
		color.New(color.FgHiGreen, color.Bold).Printf("%s\n", d)
	}
	for _, d := range sum.Failed {
		color.New(color.FgHiRed, color.Bold).Printf("✗ failed ")
		color.New(color.FgRed).Printf("%s\n", d)
	}
}

// serverLabel names the server a record matched, or "unmatched".
func serverLabel(rec ledger.Record) string {
	if rec.ServerName == "" {
		return "unmatched"
	}
	return rec.ServerName
}

// newTable returns a borderless stdout table with the house styling.
func newTable(headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	headerColors := make([]tablewriter.Colors, len(headers))
	for i := range headerColors {
		headerColors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor}
	}
	table.SetHeaderColor(headerColors...)
	table.SetBorder(false)
	return table
}
