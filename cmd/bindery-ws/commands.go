package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/config"
	"github.com/bayleafwalker/bindery-workspace/internal/graph"
	"github.com/bayleafwalker/bindery-workspace/internal/workspace"
)

type options struct {
	configPath string
	root       string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bindery-ws",
		Short:         "Inspect and refresh a bindery workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := zapcore.WarnLevel
			if opts.verbose {
				level = zapcore.DebugLevel
			}
			ctrl.SetLogger(zap.New(zap.WriteTo(cmd.ErrOrStderr()), zap.Level(level)))
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.FileName, "workspace configuration file")
	root.PersistentFlags().StringVar(&opts.root, "root", "", "workspace root, overrides the configuration")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log refresh progress")

	root.AddCommand(newRefreshCmd(opts), newModulesCmd(opts), newDependentsCmd(opts), newProblemsCmd(opts), newGraphCmd(opts), newHealthCmd())
	return root
}

func (o *options) open(cmd *cobra.Command) (*workspace.Workspace, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.root != "" {
		cfg.Root = o.root
	}
	return workspace.Open(cmd.Context(), cfg, ctrl.Log.WithName("bindery-ws"))
}

func newRefreshCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Scan the workspace and refresh stale modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			before := ws.Manager.Generation()
			if err := ws.Sync(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d modules, generation %d -> %d\n",
				ws.Manager.Snapshot().Len(), before, ws.Manager.Generation())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-read every descriptor even when unchanged")
	return cmd
}

type moduleRow struct {
	Descriptor string   `json:"descriptor"`
	Identity   string   `json:"identity"`
	Packaging  string   `json:"packaging"`
	Lifecycle  string   `json:"lifecycle,omitempty"`
	Requires   []string `json:"requires,omitempty"`
	Tracked    []string `json:"tracked,omitempty"`
}

func newModulesCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the modules of the persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			snap := ws.Manager.Snapshot()
			rows := make([]moduleRow, 0, snap.Len())
			for _, e := range snap.Entries() {
				if e.Facade == nil {
					continue
				}
				row := moduleRow{
					Descriptor: e.Descriptor,
					Identity:   e.Facade.Identity().String(),
					Packaging:  e.Facade.Packaging(),
					Lifecycle:  e.Facade.Lifecycle().Strategy,
					Tracked:    e.Facade.TrackedFiles(),
				}
				for _, r := range e.Requirements {
					row.Requires = append(row.Requires, r.String())
				}
				rows = append(rows, row)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return printModules(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printModules(w io.Writer, rows []moduleRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tPACKAGING\tLIFECYCLE\tDESCRIPTOR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Identity, r.Packaging, r.Lifecycle, r.Descriptor)
	}
	return tw.Flush()
}

func newDependentsCmd(opts *options) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "dependents <group:name[:version]>",
		Short: "List modules that require a capability",
		Long: `List the descriptors whose requirements target a capability.

Without a version every requirement on group:name is listed. With a
version only requirements whose constraint accepts it are listed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := capability.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			c := capability.Capability{Kind: capability.Kind(kind), Identity: id}
			if c.Kind != capability.KindIdentity && c.Kind != capability.KindParent {
				return fmt.Errorf("unknown kind %q, want %s or %s", kind, capability.KindIdentity, capability.KindParent)
			}

			ws, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			for _, path := range ws.Manager.Snapshot().Dependents(c, id.Version == "") {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(capability.KindIdentity), "capability kind: identity or parent")
	return cmd
}

func newProblemsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "problems",
		Short: "Refresh the workspace and report modules with failing conditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			// Conditions are not persisted, so every module is re-read.
			if err := ws.Sync(cmd.Context(), true); err != nil {
				return err
			}
			markers := ws.Manager.Markers()
			for _, path := range markers.Problems() {
				for _, c := range markers.Conditions(path) {
					if c.Status != metav1.ConditionFalse {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", path, c.Reason, strings.TrimSpace(c.Message))
				}
			}
			return nil
		},
	}
}

func newGraphCmd(opts *options) *cobra.Command {
	var dot bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the workspace dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			g := graph.Build(ws.Manager.Snapshot())
			if dot {
				return g.WriteDOT(cmd.OutOrStdout())
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(g)
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "print Graphviz instead of JSON")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var target string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the daemon's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", target, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return fmt.Errorf("health check %s: %w", target, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("daemon at %s is %s", target, resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:50051", "daemon gRPC address")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}
