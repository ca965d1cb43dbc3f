package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

var skipExtract bool

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Seed and inspect audited products",
}

var productImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert products from a YAML file and extract their claims",
	Long: `The file holds a "products" list; each entry has a slug, name, category
and specs given either as a label: value mapping or a list of
{label, value} pairs. Products are matched by slug. Because specs may have
changed, stage 1 is recomputed for every imported product unless
--skip-extract is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runProductImport,
}

var productGetCmd = &cobra.Command{
	Use:   "get <slug>",
	Short: "Show a stored product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			product, err := app.Products.GetBySlug(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), product)
		})
	},
}

func init() {
	productImportCmd.Flags().BoolVar(&skipExtract, "skip-extract", false, "do not recompute stage 1 after upserting")
	productCmd.AddCommand(productImportCmd, productGetCmd)
	rootCmd.AddCommand(productCmd)
}

type productFile struct {
	Products []domain.Product `yaml:"products"`
}

type importResult struct {
	ID     string             `json:"id"`
	Slug   string             `json:"slug"`
	Claims domain.StageStatus `json:"claims,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runProductImport(cmd *cobra.Command, args []string) error {
	products, err := loadProductFile(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		results := make([]importResult, 0, len(products))
		failed := 0
		for i := range products {
			product := &products[i]
			if err := app.Writer.Upsert(ctx, product); err != nil {
				return fmt.Errorf("upsert %s: %w", product.Slug, err)
			}
			item := importResult{ID: product.ID, Slug: product.Slug}
			if !skipExtract {
				result, err := app.Orchestrator.RunStage(ctx, product.ID, domain.StageClaims, true)
				switch {
				case err != nil:
					return fmt.Errorf("extract claims for %s: %w", product.Slug, err)
				case result.Error != nil:
					item.Claims = result.Status
					item.Error = result.Error.Error()
					failed++
				default:
					item.Claims = result.Status
				}
			}
			results = append(results, item)
		}
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("claim extraction failed for %d of %d products", failed, len(products))
		}
		return nil
	})
}

// loadProductFile parses and normalizes an import file. Missing ids are
// generated; the store keeps the existing id when the slug already exists.
func loadProductFile(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read product file: %w", err)
	}
	var file productFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse product file: %w", err)
	}
	if len(file.Products) == 0 {
		return nil, errors.New("product file has no products")
	}

	seen := make(map[string]struct{}, len(file.Products))
	for i := range file.Products {
		product := &file.Products[i]
		product.Slug = strings.TrimSpace(product.Slug)
		if product.Slug == "" {
			return nil, fmt.Errorf("product %d: slug is required", i+1)
		}
		if _, dup := seen[product.Slug]; dup {
			return nil, fmt.Errorf("product %d: duplicate slug %q", i+1, product.Slug)
		}
		seen[product.Slug] = struct{}{}
		if strings.TrimSpace(product.ID) == "" {
			product.ID = uuid.NewString()
		}
		if product.Specs == nil {
			product.Specs = domain.Specs{}
		}
	}
	return file.Products, nil
}
