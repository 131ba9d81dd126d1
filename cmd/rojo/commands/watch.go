package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/change"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/middleware"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

var watchCmd = &cobra.Command{
	Use:   "watch [project]",
	Short: "Watch a project and apply changes incrementally",
	Long: `Watch builds the instance tree, then keeps it in sync with the
filesystem, logging each applied patch. The serve layer consumes the same
patch stream over its own session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	projPath, err := resolveProjectFile(firstArg(args))
	if err != nil {
		return err
	}

	v := vfs.New(osfs.New("/"))
	snap, proj, err := middleware.SnapshotProjectFile(context.Background(), v, filepath.ToSlash(projPath))
	if err != nil {
		return err
	}
	tree := snapshot.NewTree(snap)

	processor := change.New(tree, v)
	sub := processor.Subscribe()
	processor.Start()
	defer processor.Stop()

	if err := v.Watch(filepath.Dir(projPath)); err != nil {
		return err
	}
	defer v.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching project %q (%s)\n", proj.Name, filepath.Dir(projPath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case applied := <-sub:
			log.Printf("[watch] %s", applied.Summary())
		case <-sigCh:
			return nil
		}
	}
}
