package cli

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/tsr-api/internal/labels"
	"github.com/Brownie44l1/tsr-api/internal/pipeline"
)

var topN int

var classifyCmd = &cobra.Command{
	Use:   "classify <image>...",
	Short: "Classify traffic sign photos",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, rt, err := openPipeline(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()
		return runClassify(cmd.Context(), p, args, cfg.Workers, topN, os.Stdout)
	},
}

func init() {
	classifyCmd.Flags().IntVar(&overrides.Workers, "workers", 0, "Images classified in parallel (default NumCPU)")
	classifyCmd.Flags().IntVar(&topN, "top", 1, "Number of categories printed per image")
	rootCmd.AddCommand(classifyCmd)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func runClassify(ctx context.Context, p *pipeline.Pipeline, paths []string, workers, top int, out io.Writer) error {
	imgs := make([]image.Image, len(paths))
	for i, path := range paths {
		img, err := decodeFile(path)
		if err != nil {
			return err
		}
		imgs[i] = img
	}

	var done func(pipeline.Result)
	if len(paths) > 1 {
		bar := progressbar.Default(int64(len(paths)), "classifying")
		defer bar.Finish()
		done = func(pipeline.Result) { bar.Add(1) }
	}

	results, err := p.ClassifyBatch(ctx, imgs, workers, done)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tLABEL\tSCORE")
	for i, r := range results {
		preds := []labels.Prediction{*r.Prediction}
		if top > 1 {
			if preds, err = p.Table().TopK(r.Scores, top); err != nil {
				return err
			}
		}
		for _, pred := range preds {
			fmt.Fprintf(w, "%s\t%s\t%.4f\n", paths[i], pred.Label, pred.Score)
		}
	}
	return w.Flush()
}
