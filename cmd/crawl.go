package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/export"
	"github.com/JakeFAU/cert-registry-crawler/internal/warehouse"
)

type crawlOptions struct {
	grandMaster bool
	load        bool
	format      string
	out         string
	page        string
}

func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one registry variant and print the records",
		Long: `Runs a one-shot crawl of the regular or grand-master listing. Records are
written as JSON or CSV to stdout or --out, and optionally upserted into the
configured warehouse.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.grandMaster, "gm", false, "crawl the grand-master listing")
	cmd.Flags().BoolVar(&opts.load, "load", false, "upsert records into the warehouse")
	cmd.Flags().StringVar(&opts.format, "format", "json", "output format: json or csv")
	cmd.Flags().StringVar(&opts.out, "out", "", "output file (default stdout)")
	cmd.Flags().StringVar(&opts.page, "page", "all", `page index or "all"`)
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	format := strings.ToLower(opts.format)
	if format != "json" && format != "csv" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	v := crawler.VariantFor(opts.grandMaster)
	logger := a.Logger.With(zap.String("variant", string(v)))

	var res crawler.Result
	if strings.EqualFold(opts.page, "all") {
		res, err = a.Orchestrator.CrawlAll(ctx, v)
	} else {
		page, convErr := strconv.Atoi(opts.page)
		if convErr != nil || page < 0 {
			return fmt.Errorf("page must be a non-negative integer or \"all\"")
		}
		res, err = a.Orchestrator.CrawlPage(ctx, v, page)
	}
	if err != nil && !errors.Is(err, crawler.ErrCrawlTimeout) {
		return fmt.Errorf("crawl %s: %w", v, err)
	}
	if res.Partial() {
		logger.Warn("crawl is partial",
			zap.String("crawl_id", res.CrawlID),
			zap.Int("skipped_pages", len(res.Skipped)),
			zap.Bool("timed_out", res.TimedOut),
		)
	}

	if opts.load && len(res.Records) > 0 {
		rowErrs, err := a.Warehouse.Load(ctx, res.Records, warehouse.IdentityField)
		if err != nil {
			return fmt.Errorf("warehouse load: %w", err)
		}
		for _, rowErr := range rowErrs {
			logger.Warn("warehouse rejected row", zap.Int("index", rowErr.Index), zap.String("guid", rowErr.Key), zap.Error(rowErr.Err))
		}
		logger.Info("records loaded", zap.Int("records", len(res.Records)), zap.Int("warehouse_errors", len(rowErrs)))
	}

	w := cmd.OutOrStdout()
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("close output", zap.Error(cerr))
			}
		}()
		w = f
	}
	return writeRecords(w, format, res.Records)
}

func writeRecords(w io.Writer, format string, records []crawler.Record) error {
	if records == nil {
		records = []crawler.Record{}
	}
	if format == "csv" {
		return export.Write(w, records)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}
