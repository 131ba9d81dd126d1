package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/middleware"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/syncback"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

var (
	syncbackInput       string
	syncbackIncremental bool
	syncbackList        bool
)

var syncbackCmd = &cobra.Command{
	Use:   "syncback [project]",
	Short: "Rewrite a project's source tree from a model file",
	Long: `Syncback parses a model file and projects it back onto the project's
source tree, so that a subsequent build reproduces the model. Clean mode
(the default) removes files the plan does not produce; --incremental
preserves the existing on-disk format of every matched instance.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSyncback,
}

func init() {
	rootCmd.AddCommand(syncbackCmd)
	syncbackCmd.Flags().StringVar(&syncbackInput, "input", "", "model file to sync back from (required)")
	syncbackCmd.Flags().BoolVar(&syncbackIncremental, "incremental", false, "preserve existing file formats where possible")
	syncbackCmd.Flags().BoolVar(&syncbackList, "list", false, "list planned writes and removals")
	syncbackCmd.MarkFlagRequired("input")
}

func runSyncback(cmd *cobra.Command, args []string) error {
	projPath, err := resolveProjectFile(firstArg(args))
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(syncbackInput))
	codec, err := rbxdom.CodecFor(ext)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", syncbackInput, err)
	}

	in, err := os.Open(syncbackInput)
	if err != nil {
		return err
	}
	defer in.Close()

	dom, err := codec.Decode(in)
	if err != nil {
		return fmt.Errorf("parse %s: %w", syncbackInput, err)
	}
	tops := dom.ChildrenOf(dom.RootRef())
	if len(tops) != 1 {
		return fmt.Errorf("model files must contain exactly one top-level instance, found %d in %s", len(tops), syncbackInput)
	}

	backend := osfs.New("/")
	v := vfs.New(backend)
	snap, _, err := middleware.SnapshotProjectFile(context.Background(), v, filepath.ToSlash(projPath))
	if err != nil {
		return err
	}
	tree := snapshot.NewTree(snap)
	ictx := tree.Get(tree.RootID()).Meta.Context

	mode := syncback.Clean
	if syncbackIncremental {
		mode = syncback.Incremental
	}

	plan, err := syncback.Plan(tree, dom, tops[0].Referent, v, ictx, syncback.Options{Mode: mode})
	if err != nil {
		return err
	}

	if syncbackList {
		for _, p := range plan.Dirs() {
			fmt.Fprintf(cmd.OutOrStdout(), "mkdir  %s\n", p)
		}
		for _, p := range plan.Files() {
			fmt.Fprintf(cmd.OutOrStdout(), "write  %s\n", p)
		}
		for _, p := range plan.Removals() {
			fmt.Fprintf(cmd.OutOrStdout(), "remove %s\n", p)
		}
	}

	if err := plan.Apply(backend); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Syncback complete: %s\n", plan.Summary())
	return nil
}
