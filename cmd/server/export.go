package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/export"
	"github.com/ashureev/vade/internal/store"
)

func exportCmd(flags *globalFlags) *cobra.Command {
	var (
		out     string
		gitDir  string
		message string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the saved workspace as a zip archive or a git commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			buffers, err := savedBuffers(cmd.Context(), cfg.DBPath, cfg.WorkspaceID)
			if err != nil {
				return err
			}

			if gitDir != "" {
				hash, err := export.CommitToGit(gitDir, buffers, export.CommitOptions{Message: message})
				if errors.Is(err, export.ErrNothingToCommit) {
					fmt.Println("Nothing to commit")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("Committed %s in %s\n", hash, gitDir)
				return nil
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := export.WriteZip(f, buffers); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", out, err)
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", export.ArchiveName, "Zip archive to write")
	cmd.Flags().StringVar(&gitDir, "git", "", "Commit the files into this git repository instead")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message for --git")
	return cmd
}

// savedBuffers reads the persisted buffers, falling back to the defaults
// for a workspace that was never saved.
func savedBuffers(ctx context.Context, dbPath, workspaceID string) (domain.Buffers, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		return domain.Buffers{}, fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	ws, err := repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.Buffers{}, fmt.Errorf("load workspace: %w", err)
	}
	if ws == nil {
		return domain.DefaultBuffers(), nil
	}
	return ws.Buffers, nil
}
