package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
	repo "github.com/joseph-ayodele/procedo/internal/repository"
)

// rulesFile is the seed format:
//
//	rules:
//	  - institution: ICSID
//	    version: "2022"
//	    document_type: Arbitration Rules
//	    ref: Rule 44
//	    mandatory: true
type rulesFile struct {
	Rules []*entity.InstitutionRule `yaml:"rules" validate:"required,min=1,dive,required"`
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage institution rules",
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert institution rules for an org from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		rules, err := parseRules(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
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

		n, err := repo.NewRuleRepository(db, logger).Upsert(cmd.Context(), orgID, rules)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "upserted %d rules for %s\n", n, orgID)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesImportCmd)
}

func parseRules(r io.Reader) ([]*entity.InstitutionRule, error) {
	var doc rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, common.NewAppError("INVALID_YAML", err.Error(), common.ErrInvalidInput)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, common.NewAppError("VALIDATION_ERROR", err.Error(), common.ErrValidation)
	}
	return doc.Rules, nil
}
