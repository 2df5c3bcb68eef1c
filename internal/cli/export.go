package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nickigann03/ai-secretary/internal/models"
)

func NewExportCmd(deps *Dependencies) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export <user-id> <meeting-id>",
		Short: "Write a meeting's minutes to a .docx file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			meetingID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid meeting id %q", args[1])
			}

			ctx := cmd.Context()
			a, err := deps.NewApp(ctx, deps.Config, deps.Log)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.Meetings.GetMeeting(ctx, ownerID, meetingID)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("meeting %d: %w", meetingID, models.ErrNotFound)
			}
			present, err := a.Meetings.MembersByIDs(ctx, m.Attendance)
			if err != nil {
				return err
			}
			res, err := a.Exporter.Render(ctx, m, present)
			if err != nil {
				return err
			}
			raw, err := res.Bytes()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			path := filepath.Join(outDir, res.Filename)
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory the document is written to")
	return cmd
}
