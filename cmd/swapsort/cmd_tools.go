package main

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/setanarut/swapsort"
	"github.com/setanarut/swapsort/utils"
	"github.com/spf13/cobra"
)

var (
	ignoreTransparentRGB bool

	calibrateLo, calibrateHi int

	fillOutput string

	paletteK       int
	paletteMethod  string
	paletteOut     string
	paletteCompare string
	paletteTile    int

	verifyCmd = &cobra.Command{
		Use:   "verify [image a] [image b]",
		Short: "Check that two images hold exactly the same colors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifyFiles(cmd, args[0], args[1], swapsort.CompareOptions{IgnoreTransparentRGB: ignoreTransparentRGB})
		},
	}

	calibrateCmd = &cobra.Command{
		Use:   "calibrate",
		Short: "Find the smallest lossless Lab fixed-point multiplier",
		Args:  cobra.NoArgs,
		RunE:  runCalibrate,
	}

	fillMaskCmd = &cobra.Command{
		Use:   "fill-mask [image] [mask]",
		Short: "Pour an image's opaque pixels into the white area of a mask",
		Args:  cobra.ExactArgs(2),
		RunE:  runFillMask,
	}

	paletteCmd = &cobra.Command{
		Use:   "palette [image]",
		Short: "Extract the palette of an image",
		Args:  cobra.ExactArgs(1),
		RunE:  runPalette,
	}
)

func init() {
	verifyCmd.Flags().BoolVar(&ignoreTransparentRGB, "ignore-transparent-rgb", false, "Treat all fully transparent pixels as one color")

	calibrateCmd.Flags().IntVar(&calibrateLo, "lo", 1, "Smallest multiplier to try")
	calibrateCmd.Flags().IntVar(&calibrateHi, "hi", swapsort.MaxPrecision, "Largest multiplier to try")

	fillMaskCmd.Flags().StringVarP(&fillOutput, "output", "o", "filled.png", "Output PNG")

	paletteCmd.Flags().IntVarP(&paletteK, "colors", "k", 7, "Palette size")
	paletteCmd.Flags().StringVar(&paletteMethod, "method", "dominantcolor", "dominantcolor or kmeans")
	paletteCmd.Flags().StringVarP(&paletteOut, "output", "o", "", "Write the swatches to this PNG")
	paletteCmd.Flags().StringVar(&paletteCompare, "compare", "", "Report the palette distance to this image, e.g. a sorted output")
	paletteCmd.Flags().IntVar(&paletteTile, "tile", 64, "Swatch size in pixels")
}

var errMismatch = errors.New("images differ")

func verifyFiles(cmd *cobra.Command, a, b string, opts swapsort.CompareOptions) error {
	imgA, err := utils.ReadImage(a)
	if err != nil {
		return err
	}
	imgB, err := utils.ReadImage(b)
	if err != nil {
		return err
	}
	res := swapsort.Compare(imgA, imgB, opts)
	fmt.Fprintf(cmd.OutOrStdout(), "verify %s %s: %v\n", a, b, res)
	if !res.Equal() {
		return fmt.Errorf("%w: %v", errMismatch, res.Verdict)
	}
	return nil
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	start := time.Now()
	slog.Info("calibrating", "lo", calibrateLo, "hi", calibrateHi, "workers", runtime.GOMAXPROCS(0))
	p, err := swapsort.Calibrate(cmd.Context(), calibrateLo, calibrateHi)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "precision %d (%s)\n", p, time.Since(start).Round(time.Second))
	return nil
}

func runFillMask(cmd *cobra.Command, args []string) error {
	src, err := utils.ReadNRGBA(args[0])
	if err != nil {
		return err
	}
	mask, err := utils.ReadNRGBA(args[1])
	if err != nil {
		return err
	}
	out, err := swapsort.FillMask(src, mask)
	if err != nil {
		return err
	}
	if err := utils.SaveImageAtomic(out, fillOutput); err != nil {
		return err
	}
	slog.Info("mask filled", "output", fillOutput)
	return nil
}

func runPalette(cmd *cobra.Command, args []string) error {
	method, err := utils.ParsePaletteMethod(paletteMethod)
	if err != nil {
		return err
	}
	img, err := utils.ReadImage(args[0])
	if err != nil {
		return err
	}
	palette, err := utils.ExtractPalette(img, paletteK, method)
	if err != nil {
		return err
	}
	utils.SortByLightness(palette)
	for _, s := range palette {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %.3f\n", s.Color.Hex(), s.Weight)
	}

	if paletteCompare != "" {
		other, err := utils.ReadImage(paletteCompare)
		if err != nil {
			return err
		}
		otherPalette, err := utils.ExtractPalette(other, paletteK, method)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "palette distance %.3f\n", utils.PaletteDistance(palette, otherPalette))
	}

	if paletteOut == "" {
		return nil
	}
	swatches, err := utils.PaletteImage(palette, paletteTile)
	if err != nil {
		return err
	}
	return utils.SaveImage(swatches, paletteOut)
}
