package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"fapchat/config"
	"fapchat/loader/internal"
	"fapchat/loader/service"
	ltypes "fapchat/loader/types"
	"fapchat/logger"
	"fapchat/model"
	"fapchat/store"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	lg  *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loader",
	Short: "Load portal CSV exports into the vector store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		lg, err = logger.New(cfg.LogMode, cfg.LogRedact)
		return err
	},
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [kind] [file]",
	Short: "Ingest one CSV export",
	Long:  `Kinds: profile, attendance, grade, course-summary.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runIngest,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source directory and ingest dropped files",
	Long:  `Files are named <owner>__<kind>.csv; use "shared" as owner for records visible to everyone.`,
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Report content hashes stored more than once",
	Args:  cobra.NoArgs,
	RunE:  runDuplicates,
}

var (
	ownerID     string
	displayName string
	allOwners   bool
)

func init() {
	ingestCmd.Flags().StringVarP(&ownerID, "owner", "o", "", "Student id for rows without one")
	ingestCmd.Flags().StringVarP(&displayName, "name", "n", "", "Display name replacing the name column")
	duplicatesCmd.Flags().StringVarP(&ownerID, "owner", "o", "", "Owner to scan, empty for shared records")
	duplicatesCmd.Flags().BoolVar(&allOwners, "all", false, "Scan every owner")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(duplicatesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func openService(ctx context.Context) (*service.Service, *store.Index, error) {
	index, err := store.OpenIndex(ctx, cfg, lg)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}
	svc := service.New(index, model.NewEmbedderFromConfig(cfg), service.OptionsFromConfig(cfg), lg)
	return svc, index, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	kind, err := ltypes.ParseKind(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	svc, index, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer index.Close()

	resp, err := svc.Ingest(cmd.Context(), kind, f, ltypes.Options{OwnerID: ownerID, DisplayName: displayName})
	if resp != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
	}
	return err
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, err := internal.NewWatcher(ltypes.Config{
		SourceDir:      cfg.SourceDir,
		ArchiveDir:     cfg.ArchiveDir,
		BadDir:         cfg.BadDir,
		MonitoringTime: cfg.MonitoringTime,
	}, lg)
	if err != nil {
		return err
	}
	svc, index, err := openService(cmd.Context())
	if err != nil {
		return err
	}

	svc.Run(cmd.Context(), w)

	lg.Info("closing vector store")
	if err := index.Close(); err != nil {
		lg.Error("error closing store", "err", err)
	}
	return nil
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	backend, err := store.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	index := store.NewIndex(backend, lg)
	defer index.Close()

	scope := store.Owner(ownerID)
	if allOwners {
		scope = store.AllOwners()
	}
	report, err := index.Duplicates(cmd.Context(), scope)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scope %s: %d points scanned, %d duplicated hashes\n", report.Scope, report.Scanned, len(report.Duplicates))
	hashes := make([]string, 0, len(report.Duplicates))
	for h := range report.Duplicates {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		fmt.Fprintf(out, "%s\t%d\n", h, len(report.Duplicates[h]))
	}
	return nil
}
