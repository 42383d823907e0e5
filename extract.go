package towerprep

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/godal"
	"go.airbusds-geo.com/log"
)

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// An Extractor produces fixed-size training chips around point assets
// matched against a coverage index, along with a dataset of bounding boxes
// and chip footprints.
type Extractor struct {
	width, height       int
	margin              int
	boxWidth, boxHeight int
	checkpointEvery     int
	maxExamples         int
	datasetName         string
	rnd                 *rand.Rand
}

type ExtractOption func(e *Extractor) error

// WindowSize sets the pixel size of extracted chips
func WindowSize(width, height int) ExtractOption {
	return func(e *Extractor) error {
		if width <= 0 || height <= 0 {
			return ErrInvalidOption{"window width and height must be >=1"}
		}
		e.width, e.height = width, height
		return nil
	}
}

// EdgeMargin sets the minimal distance in pixels between the asset and the
// chip border when drawing the random window offset
func EdgeMargin(px int) ExtractOption {
	return func(e *Extractor) error {
		if px < 0 {
			return ErrInvalidOption{"edge margin must be >=0"}
		}
		e.margin = px
		return nil
	}
}

// BoxSize sets the pixel size of the bounding box recorded for each asset
func BoxSize(width, height int) ExtractOption {
	return func(e *Extractor) error {
		if width <= 0 || height <= 0 {
			return ErrInvalidOption{"box width and height must be >=1"}
		}
		e.boxWidth, e.boxHeight = width, height
		return nil
	}
}

// CheckpointEvery sets the number of appended records between dataset
// checkpoints. A final checkpoint is always written when the run ends,
// whatever the interval.
func CheckpointEvery(n int) ExtractOption {
	return func(e *Extractor) error {
		if n <= 0 {
			return ErrInvalidOption{"checkpoint interval must be >=1"}
		}
		e.checkpointEvery = n
		return nil
	}
}

// MaxExamples caps the number of produced examples. Zero means no cap.
func MaxExamples(n int) ExtractOption {
	return func(e *Extractor) error {
		if n < 0 {
			return ErrInvalidOption{"max examples must be >=0"}
		}
		e.maxExamples = n
		return nil
	}
}

// DatasetName sets the dataset file name inside the output directory
func DatasetName(name string) ExtractOption {
	return func(e *Extractor) error {
		if name == "" {
			return ErrInvalidOption{"dataset name must not be empty"}
		}
		e.datasetName = name
		return nil
	}
}

// RandomSource sets the random source used for window offsets
func RandomSource(rnd *rand.Rand) ExtractOption {
	return func(e *Extractor) error {
		if rnd == nil {
			return ErrInvalidOption{"random source must not be nil"}
		}
		e.rnd = rnd
		return nil
	}
}

func NewExtractor(opts ...ExtractOption) (*Extractor, error) {
	e := &Extractor{
		width:           512,
		height:          512,
		margin:          8,
		boxWidth:        30,
		boxHeight:       25,
		checkpointEvery: 50,
		datasetName:     "tower_examples.geojson",
	}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	if e.margin >= e.width/2 || e.margin >= e.height/2 {
		return nil, ErrInvalidOption{"edge margin must be smaller than half the window size"}
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e, nil
}

// Run joins assets against coverage and writes one chip per match into
// outDir, plus the dataset file. Tiles are processed one at a time in
// coverage order, each fully handled and closed before the next one is
// opened. The returned dataset matches the content of the final on-disk
// checkpoint on every exit path, cap reached or input exhausted.
func (e *Extractor) Run(ctx context.Context, assets []Asset, coverage *CoverageIndex, outDir string) (*Dataset, error) {
	slog := log.Logger(ctx).Sugar()

	matches := Join(assets, coverage)
	byTile := make(map[string][]Asset, len(matches))
	for _, m := range matches {
		byTile[m.Tile] = append(byTile[m.Tile], m.Asset)
	}
	slog.Infof("matched %d assets against %d of %d tiles", len(matches), len(byTile), coverage.Len())

	dataset := &Dataset{}
	datasetPath := filepath.Join(outDir, e.datasetName)
	for _, rec := range coverage.Records() {
		tileAssets := byTile[rec.Filename]
		if len(tileAssets) == 0 {
			continue
		}
		capped, err := e.processTile(ctx, rec.Filename, tileAssets, outDir, dataset, datasetPath)
		if err != nil {
			return nil, err
		}
		if capped {
			break
		}
	}
	if err := dataset.WriteFile(datasetPath); err != nil {
		return nil, err
	}
	slog.Infof("created %d examples", dataset.Len())
	return dataset, nil
}

// processTile extracts one chip per matched asset of a single tile. It
// reports whether the example cap was reached.
func (e *Extractor) processTile(ctx context.Context, tilename string, assets []Asset, outDir string, dataset *Dataset, datasetPath string) (bool, error) {
	slog := log.Logger(ctx).Sugar()

	ds, err := godal.Open(tilename, godal.RasterOnly())
	if err != nil {
		return false, fmt.Errorf("open %s: %w", tilename, err)
	}
	defer ds.Close()

	gtcoefs, err := ds.GeoTransform()
	if err != nil {
		return false, fmt.Errorf("geotransform of %s: %w", tilename, err)
	}
	gt := GeoTransform(gtcoefs)
	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) < 3 {
		return false, fmt.Errorf("%s has %d bands, expecting at least 3", tilename, len(bands))
	}

	for _, asset := range assets {
		col, row := gt.Pixel(asset.Location)
		offX := e.randOffset(e.width)
		offY := e.randOffset(e.height)
		x := col - e.width/2 - offX
		y := row - e.height/2 - offY
		if x < 0 || y < 0 || x+e.width > st.SizeX || y+e.height > st.SizeY {
			slog.Debugf("asset %d: %dx%d window at %d,%d exceeds %s, skipping", asset.ID, e.width, e.height, x, y, tilename)
			continue
		}

		img, err := readRGB(bands, x, y, e.width, e.height)
		if err != nil {
			return false, fmt.Errorf("read %s window %d,%d: %w", tilename, x, y, err)
		}
		filename := fmt.Sprintf("%d", asset.ID)
		if err := writePNG(filepath.Join(outDir, filename+".png"), img); err != nil {
			return false, err
		}

		// asset position in the chip's local frame
		cx, cy := e.width/2+offX, e.height/2+offY
		dataset.Append(Example{
			Filename:  filename,
			ULX:       cx - e.boxWidth/2,
			ULY:       cy - e.boxHeight/2,
			LRX:       cx + e.boxWidth/2,
			LRY:       cy + e.boxHeight/2,
			Footprint: gt.Footprint(x, y, e.width, e.height),
		})
		slog.Infof("created %d examples", dataset.Len())

		if dataset.Len()%e.checkpointEvery == 0 {
			if err := dataset.WriteFile(datasetPath); err != nil {
				return false, err
			}
		}
		if e.maxExamples > 0 && dataset.Len() >= e.maxExamples {
			return true, nil
		}
	}
	return false, nil
}

// randOffset draws the window shift along one axis, keeping the asset at
// least margin pixels away from the chip border.
func (e *Extractor) randOffset(size int) int {
	lo, hi := -size/2+e.margin, size/2-e.margin
	return lo + e.rnd.Intn(hi-lo)
}

// readRGB reads a width x height window anchored at pixel (x,y) from the
// first three bands and interleaves them into an 8 bit RGB image.
func readRGB(bands []godal.Band, x, y, width, height int) (*image.NRGBA, error) {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	buf := make([]uint8, width*height)
	for b := 0; b < 3; b++ {
		if err := bands[b].Read(x, y, buf, width, height); err != nil {
			return nil, fmt.Errorf("band %d: %w", b+1, err)
		}
		for i, v := range buf {
			img.Pix[i*4+b] = v
		}
	}
	for i := 0; i < width*height; i++ {
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
