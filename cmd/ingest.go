package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/verifier/internal/config"
	"github.com/sells-group/verifier/internal/model"
)

var ingestInput string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load course materials and their chunks into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		materials, err := loadMaterials(ingestInput)
		if err != nil {
			return err
		}

		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		ids, err := ingestMaterials(ctx, st, materials)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"material_ids": ids})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestInput, "input", "", "materials file (YAML or JSON, one document per material)")
	_ = ingestCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(ingestCmd)
}

// materialWriter is the part of the store ingest needs.
type materialWriter interface {
	AddMaterial(ctx context.Context, m model.Material) (int64, error)
}

// loadMaterials reads and validates every material document in path.
func loadMaterials(path string) ([]model.Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read materials file %s", path)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	var materials []model.Material
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var m model.Material
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "parse materials file %s", path)
		}
		if err := v.Struct(m); err != nil {
			return nil, eris.Wrapf(err, "material %d in %s", len(materials)+1, path)
		}
		materials = append(materials, m)
	}

	if len(materials) == 0 {
		return nil, eris.Errorf("no materials in %s", path)
	}
	return materials, nil
}

func ingestMaterials(ctx context.Context, w materialWriter, materials []model.Material) ([]int64, error) {
	ids := make([]int64, 0, len(materials))
	for _, m := range materials {
		id, err := w.AddMaterial(ctx, m)
		if err != nil {
			return ids, eris.Wrapf(err, "ingest %q", m.Title)
		}
		zap.L().Info("material ingested",
			zap.Int64("material_id", id),
			zap.Int64("course_id", m.CourseID),
			zap.Int("chunks", len(m.Chunks)),
		)
		ids = append(ids, id)
	}
	return ids, nil
}
