package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/export"
	"github.com/joseph-ayodele/procedo/internal/recommend"
	repo "github.com/joseph-ayodele/procedo/internal/repository"
)

var (
	exportMode string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export <case-id>",
	Short: "Write a case's recommendations to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return common.NewAppError("INVALID_ID", "case id must be a UUID", common.ErrInvalidInput)
		}
		mode, ok := constants.ParseMode(exportMode)
		if !ok {
			return common.NewAppError("INVALID_MODE", "unknown mode "+exportMode, common.ErrInvalidInput)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close(db, logger)

		params, err := recommend.DefaultParameters()
		if err != nil {
			return err
		}
		data, name, err := export.NewService(repo.NewCaseRepository(db, logger), logger).
			WithLevels(params).
			ExportCaseXLSX(cmd.Context(), orgID, id, mode)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = name
		} else if st, err := os.Stat(out); err == nil && st.IsDir() {
			out = filepath.Join(out, name)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportMode, "mode", string(constants.ModeDefault), "default or with_parameters")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file or directory")
}
