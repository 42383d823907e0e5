package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/airbusgeo/towerprep"
	"github.com/spf13/cobra"
	adst "go.airbusds-geo.com/gcp/storage"
	"go.airbusds-geo.com/log"
	"sigs.k8s.io/yaml"
)

var stcl *storage.Client
var adstcl *adst.Client

var verbose bool
var blocksize string
var numCachedBlocks int
var startTime time.Time

var coverageOut string
var resumeFile string
var tileSuffix string

var outDir string
var maxExamples int
var width, height int
var settingsFile string

var rootCmd = &cobra.Command{
	Use:   "towerprep",
	Short: "tower detection training set preparation",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startTime = time.Now()
		if !verbose {
			os.Setenv("LOGLEVEL", "info")
			log.Structured()
		}
		ctx := cmd.Context()
		var err error

		if stcl, err = storage.NewClient(ctx); err != nil {
			return fmt.Errorf("storage.newclient: %w", err)
		}
		if adstcl, err = adst.New(ctx, adst.WithStorageClient(stcl)); err != nil {
			return fmt.Errorf("ads storage.new: %w", err)
		}

		gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
		if err != nil {
			return fmt.Errorf("gcs.handle: %w", err)
		}
		gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numCachedBlocks))
		if err != nil {
			return fmt.Errorf("osio.new: %w", err)
		}
		if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
			return fmt.Errorf("register osio: %w", err)
		}
		godal.RegisterAll()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
			cmd.Name(), time.Since(startTime).Seconds())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	rootCmd.AddCommand(indexCmd, extractCmd)

	indexCmd.Flags().StringVar(&coverageOut, "out", "coverage.geojson", "coverage index destination")
	indexCmd.Flags().StringVar(&resumeFile, "resume", "", "existing coverage index to extend")
	indexCmd.Flags().StringVar(&tileSuffix, "suffix", ".tif", "tile filename suffix")

	extractCmd.Flags().StringVar(&outDir, "outdir", "examples", "output directory for chips and dataset")
	extractCmd.Flags().IntVar(&maxExamples, "max", 0, "maximum number of examples (0: no cap)")
	extractCmd.Flags().IntVar(&width, "w", 512, "chip width in pixels")
	extractCmd.Flags().IntVar(&height, "h", 512, "chip height in pixels")
	extractCmd.Flags().StringVar(&settingsFile, "settings", "", "yaml extraction settings")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var indexCmd = &cobra.Command{
	Use:   "index tiledir",
	Short: "build the tile coverage index for a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := []towerprep.IndexOption{towerprep.TileSuffix(tileSuffix)}
		if resumeFile != "" {
			opts = append(opts, towerprep.ResumeFrom(resumeFile))
		}
		index, err := towerprep.IndexDirectory(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Infof("indexed %d tiles", index.Len())
		return writeOutput(ctx, coverageOut, index.WriteFile)
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract assets.geojson coverage.geojson",
	Short: "extract training chips for assets covered by indexed tiles",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		assets, err := towerprep.LoadAssets(args[0])
		if err != nil {
			return err
		}
		coverage, err := towerprep.LoadCoverage(args[1])
		if err != nil {
			return err
		}
		opts := []towerprep.ExtractOption{
			towerprep.WindowSize(width, height),
			towerprep.MaxExamples(maxExamples),
		}
		if settingsFile != "" {
			sopts, err := settingsOptions(settingsFile)
			if err != nil {
				return err
			}
			opts = append(opts, sopts...)
		}
		extractor, err := towerprep.NewExtractor(opts...)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", outDir, err)
		}
		_, err = extractor.Run(ctx, assets, coverage, outDir)
		return err
	},
}

type settings struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	EdgeMargin      *int   `json:"edgeMargin"`
	BoxWidth        int    `json:"boxWidth"`
	BoxHeight       int    `json:"boxHeight"`
	CheckpointEvery int    `json:"checkpointEvery"`
	MaxExamples     *int   `json:"maxExamples"`
	DatasetName     string `json:"datasetName"`
	Seed            *int64 `json:"seed"`
}

// settingsOptions maps the yaml settings file to extractor options.
// Settings take precedence over the command line flags.
func settingsOptions(path string) ([]towerprep.ExtractOption, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s := settings{}
	if err := yaml.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var opts []towerprep.ExtractOption
	if s.Width > 0 || s.Height > 0 {
		opts = append(opts, towerprep.WindowSize(s.Width, s.Height))
	}
	if s.EdgeMargin != nil {
		opts = append(opts, towerprep.EdgeMargin(*s.EdgeMargin))
	}
	if s.BoxWidth > 0 || s.BoxHeight > 0 {
		opts = append(opts, towerprep.BoxSize(s.BoxWidth, s.BoxHeight))
	}
	if s.CheckpointEvery > 0 {
		opts = append(opts, towerprep.CheckpointEvery(s.CheckpointEvery))
	}
	if s.MaxExamples != nil {
		opts = append(opts, towerprep.MaxExamples(*s.MaxExamples))
	}
	if s.DatasetName != "" {
		opts = append(opts, towerprep.DatasetName(s.DatasetName))
	}
	if s.Seed != nil {
		opts = append(opts, towerprep.RandomSource(rand.New(rand.NewSource(*s.Seed))))
	}
	return opts, nil
}

// writeOutput writes through fn directly for local destinations, and
// stages to a temporary file before uploading for gs:// destinations.
func writeOutput(ctx context.Context, dst string, fn func(string) error) error {
	if !strings.HasPrefix(dst, "gs://") {
		return fn(dst)
	}
	tmp, err := os.CreateTemp("", "towerprep-*"+filepath.Ext(dst))
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := fn(tmp.Name()); err != nil {
		return err
	}
	if err := adstcl.UploadFromFile(ctx, dst, tmp.Name()); err != nil {
		return fmt.Errorf("upload %s: %w", dst, err)
	}
	return nil
}
