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
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"

	_ "github.com/UserGeneratedLLC/rojo-sub002/internal/rbxmx"
)

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build [project]",
	Short: "Build a project into a model file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output model file (required)")
	buildCmd.MarkFlagRequired("output")
}

// resolveProjectFile accepts a project file or a directory containing a
// default project file.
func resolveProjectFile(arg string) (string, error) {
	if arg == "" {
		arg = "."
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project path %s: %w", arg, err)
	}
	if !info.IsDir() {
		return abs, nil
	}
	for _, name := range []string{"default.project.json5", "default.project.json"} {
		candidate := filepath.Join(abs, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no default.project.json5 found in %s", arg)
}

func runBuild(cmd *cobra.Command, args []string) error {
	projPath, err := resolveProjectFile(firstArg(args))
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(buildOutput))
	codec, err := rbxdom.CodecFor(ext)
	if err != nil {
		return fmt.Errorf("cannot build %s: %w", buildOutput, err)
	}

	v := vfs.New(osfs.New("/"))
	snap, proj, err := middleware.SnapshotProjectFile(context.Background(), v, filepath.ToSlash(projPath))
	if err != nil {
		return err
	}

	dom := snap.ToDom()
	out, err := os.Create(buildOutput)
	if err != nil {
		return err
	}
	defer out.Close()

	roots := []rbxdom.Ref{dom.Root().Children[0]}
	if err := codec.Encode(out, dom, roots); err != nil {
		return fmt.Errorf("write %s: %w", buildOutput, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Built project %q to %s\n", proj.Name, buildOutput)
	return nil
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
