package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"icast/internal/config"
	"icast/internal/store"
)

var audioFileExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".m4a":  {},
	".ogg":  {},
	".flac": {},
	".aac":  {},
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var templateID int64

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit an audio file to the processing pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			ext := strings.ToLower(filepath.Ext(info.Name()))
			if _, ok := audioFileExtensions[ext]; !ok {
				return fmt.Errorf("unsupported audio extension %q", ext)
			}

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				savedName := uuid.NewString() + ext
				localPath, err := stageUpload(absPath, cfg.Paths.UploadDir, savedName)
				if err != nil {
					return err
				}

				task, err := st.NewTask(cmd.Context(), store.NewTaskInput{
					AudioName:      strings.TrimSuffix(info.Name(), ext),
					AudioExt:       strings.TrimPrefix(ext, "."),
					AudioLocalPath: localPath,
					AudioSavedName: savedName,
				})
				if err != nil {
					return err
				}

				if templateID > 0 {
					if row, err := st.GetTemplate(cmd.Context(), templateID); err != nil {
						return err
					} else if row == nil {
						return fmt.Errorf("template %d not found", templateID)
					}
					if err := st.BindTemplate(cmd.Context(), task.ID, templateID); err != nil {
						return err
					}
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Submitted task #%d (%s)\n", task.ID, filepath.Base(absPath))
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&templateID, "template", "t", 0, "Bind a question-set template on submit")
	return cmd
}

// stageUpload copies the source file into the upload directory under its
// generated name so the daemon can process it after the source moves.
func stageUpload(srcPath, uploadDir, savedName string) (string, error) {
	dstPath := filepath.Join(uploadDir, savedName)

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create staged copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close() //nolint:errcheck
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("finish staged copy: %w", err)
	}
	return dstPath, nil
}
